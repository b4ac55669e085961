package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	_ "modernc.org/sqlite"
)

const (
	// Fixed-width UTC timestamps sort lexically in time order.
	timeLayout         = "2006-01-02T15:04:05.000000000Z07:00"
	sqliteBusyTimeout  = 5000
	legacyClockLayout  = "15:04:05"
	legacyDateTimeForm = "2006-01-02 15:04:05"
)

type SQLiteRepository struct {
	db *sql.DB
}

// sqliteDSN turns a plain path or file: URI into a DSN with WAL and a busy
// timeout enabled.
func sqliteDSN(url string) string {
	dsn := url
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", dsn, sep, sqliteBusyTimeout)
}

func OpenSQLite(ctx context.Context, url string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", sqliteDSN(url))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const sqliteChunksTable = `CREATE TABLE IF NOT EXISTS %s (
	chunk_id TEXT PRIMARY KEY,
	session_id TEXT,
	timestamp TEXT,
	text TEXT,
	audio_path TEXT,
	source TEXT,
	speaker_id TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions (session_id)
)`

// Init creates the schema and upgrades chunk tables written by older
// versions: a missing speaker_id column is added in place, a missing source
// column forces a rebuild that keeps every row in its original order.
func (r *SQLiteRepository) Init(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		start_time TEXT,
		end_time TEXT,
		active INTEGER
	)`); err != nil {
		return fmt.Errorf("create sessions: %w", err)
	}

	cols, err := tableColumns(ctx, tx, "chunks")
	if err != nil {
		return err
	}
	switch {
	case len(cols) == 0:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(sqliteChunksTable, "chunks")); err != nil {
			return fmt.Errorf("create chunks: %w", err)
		}
	case !cols["source"]:
		if err := rebuildChunks(ctx, tx, cols["speaker_id"]); err != nil {
			return err
		}
	case !cols["speaker_id"]:
		if _, err := tx.ExecContext(ctx, `ALTER TABLE chunks ADD COLUMN speaker_id TEXT`); err != nil {
			return fmt.Errorf("add speaker_id: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks (session_id)`); err != nil {
		return fmt.Errorf("create chunks index: %w", err)
	}
	return tx.Commit()
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan %s column: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func rebuildChunks(ctx context.Context, tx *sql.Tx, hasSpeakerID bool) error {
	speaker := "NULL"
	if hasSpeakerID {
		speaker = "speaker_id"
	}
	stmts := []string{
		`DROP TABLE IF EXISTS chunks_new`,
		fmt.Sprintf(sqliteChunksTable, "chunks_new"),
		fmt.Sprintf(`INSERT INTO chunks_new (chunk_id, session_id, timestamp, text, audio_path, source, speaker_id)
			SELECT chunk_id, session_id, timestamp, text, audio_path, '%s', %s FROM chunks ORDER BY rowid`,
			repository.SourceUnknown, speaker),
		`DROP TABLE chunks`,
		`ALTER TABLE chunks_new RENAME TO chunks`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild chunks: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, start_time, active) VALUES (?, ?, 1)`,
		input.ID, formatTime(input.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &repository.Session{ID: input.ID, StartedAt: input.StartedAt, Active: true}, nil
}

func (r *SQLiteRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = ?, active = 0 WHERE session_id = ?`,
		formatTime(input.EndedAt), input.SessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT session_id, start_time, end_time, active FROM sessions WHERE session_id = ?`, id)
	var (
		s       repository.Session
		started sql.NullString
		ended   sql.NullString
		active  sql.NullInt64
	)
	if err := row.Scan(&s.ID, &started, &ended, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.StartedAt = parseTime(started.String)
	if ended.Valid && ended.String != "" {
		t := parseTime(ended.String)
		s.EndedAt = &t
	}
	s.Active = active.Int64 == 1
	return &s, nil
}

func (r *SQLiteRepository) GetLatestSessionID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id FROM sessions ORDER BY start_time DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) InsertChunk(ctx context.Context, input repository.InsertChunkInput) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chunks (chunk_id, session_id, timestamp, text, audio_path, source, speaker_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chunk_id) DO NOTHING`,
		input.ID, input.SessionID, formatTime(input.Timestamp), input.Text, input.AudioPath, input.Source, input.SpeakerID)
	if err != nil {
		return false, fmt.Errorf("insert chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert chunk: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) ChunkExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE chunk_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("chunk exists: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListChunks(ctx context.Context, sessionID, afterChunkID string) ([]repository.Chunk, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterChunkID == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT chunk_id, session_id, timestamp, text, audio_path, source, speaker_id
			 FROM chunks WHERE session_id = ? ORDER BY rowid`, sessionID)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT c1.chunk_id, c1.session_id, c1.timestamp, c1.text, c1.audio_path, c1.source, c1.speaker_id
			 FROM chunks c1
			 JOIN (SELECT rowid AS rid FROM chunks WHERE chunk_id = ?) c2
			 WHERE c1.session_id = ? AND c1.rowid > c2.rid
			 ORDER BY c1.rowid`, afterChunkID, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []repository.Chunk
	for rows.Next() {
		var (
			c         repository.Chunk
			sid       sql.NullString
			ts        sql.NullString
			text      sql.NullString
			audioPath sql.NullString
			source    sql.NullString
			speakerID sql.NullString
		)
		if err := rows.Scan(&c.ID, &sid, &ts, &text, &audioPath, &source, &speakerID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.SessionID = sid.String
		c.Timestamp = parseTime(ts.String)
		c.Text = text.String
		c.AudioPath = audioPath.String
		c.Source = source.String
		if c.Source == "" {
			c.Source = repository.SourceUnknown
		}
		if speakerID.Valid {
			v := speakerID.String
			c.SpeakerID = &v
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *SQLiteRepository) GetAudioPath(ctx context.Context, chunkID string) (string, error) {
	var path sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT audio_path FROM chunks WHERE chunk_id = ?`, chunkID).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("audio path: %w", err)
	}
	return path.String, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts the clock-only and naive datetime strings written by
// older versions. Unparseable values become the zero time.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, legacyDateTimeForm, legacyClockLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
