package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, url string) (*PostgresRepository, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: p}, nil
}

func (r *PostgresRepository) Init(ctx context.Context) error {
	return RunMigration(ctx, r.pool)
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (session_id, start_time, active)
		 VALUES ($1, $2, TRUE)
		 RETURNING session_id, start_time, end_time, active`,
		input.ID, input.StartedAt)
	var s repository.Session
	if err := row.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.Active); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE, end_time = $2 WHERE session_id = $1`,
		input.SessionID, input.EndedAt)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT session_id, start_time, end_time, active FROM sessions WHERE session_id = $1`, id)
	var s repository.Session
	if err := row.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) GetLatestSessionID(ctx context.Context) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT session_id FROM sessions ORDER BY start_time DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) InsertChunk(ctx context.Context, input repository.InsertChunkInput) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO chunks (chunk_id, session_id, timestamp, text, audio_path, source, speaker_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (chunk_id) DO NOTHING`,
		input.ID, input.SessionID, input.Timestamp, input.Text, input.AudioPath, input.Source, input.SpeakerID)
	if err != nil {
		return false, fmt.Errorf("insert chunk: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ChunkExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks WHERE chunk_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chunk exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ListChunks(ctx context.Context, sessionID, afterChunkID string) ([]repository.Chunk, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if afterChunkID == "" {
		rows, err = r.pool.Query(ctx,
			`SELECT chunk_id, session_id, timestamp, text, audio_path, source, speaker_id
			 FROM chunks WHERE session_id = $1 ORDER BY seq`, sessionID)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT c1.chunk_id, c1.session_id, c1.timestamp, c1.text, c1.audio_path, c1.source, c1.speaker_id
			 FROM chunks c1
			 JOIN chunks c2 ON c2.chunk_id = $2
			 WHERE c1.session_id = $1 AND c1.seq > c2.seq
			 ORDER BY c1.seq`, sessionID, afterChunkID)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []repository.Chunk
	for rows.Next() {
		var c repository.Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Timestamp, &c.Text, &c.AudioPath, &c.Source, &c.SpeakerID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepository) GetAudioPath(ctx context.Context, chunkID string) (string, error) {
	var path string
	err := r.pool.QueryRow(ctx, `SELECT audio_path FROM chunks WHERE chunk_id = $1`, chunkID).Scan(&path)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("audio path: %w", err)
	}
	return path, nil
}
