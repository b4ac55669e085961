package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kikitori:speaker_profiles:"

// RedisStore keeps one JSON string per session.
type RedisStore struct {
	client *redis.Client
}

// ConnectRedis parses a redis:// URL and checks the connection.
func ConnectRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*diarizer.ProfileSet, error) {
	data, err := s.client.Get(ctx, redisKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading speaker profiles: %w", err)
	}
	var set diarizer.ProfileSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode speaker profiles: %w", err)
	}
	return &set, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, set *diarizer.ProfileSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode speaker profiles: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(sessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("error writing speaker profiles: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
