package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	ID        string
	StartedAt time.Time
}

type CompleteSessionInput struct {
	SessionID string
	EndedAt   time.Time
}

type InsertChunkInput struct {
	ID        string
	SessionID string
	Timestamp time.Time
	Text      string
	AudioPath string
	Source    string
	SpeakerID *string
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	// GetSession returns nil when the session does not exist.
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetLatestSessionID returns "" when no session has been recorded.
	GetLatestSessionID(ctx context.Context) (string, error)
}

type ChunkRepository interface {
	// InsertChunk reports false when a chunk with the same id already exists.
	InsertChunk(ctx context.Context, input InsertChunkInput) (bool, error)
	ChunkExists(ctx context.Context, id string) (bool, error)
	// ListChunks returns chunks in insertion order. With a non-empty
	// afterChunkID only rows inserted after that chunk are returned.
	ListChunks(ctx context.Context, sessionID, afterChunkID string) ([]Chunk, error)
	// GetAudioPath returns "" when the chunk is unknown.
	GetAudioPath(ctx context.Context, chunkID string) (string, error)
}

type Repository interface {
	Init(ctx context.Context) error
	Close() error
	SessionRepository
	ChunkRepository
}
