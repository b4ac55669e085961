package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/capture"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/google/uuid"
)

const defaultWorkerPoll = time.Second

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrChunkNotFound   = errors.New("chunk not found")
)

type dependencies struct {
	repo     repository.Repository
	stt      transcriber.Transcriber
	devices  audio.DeviceProvider
	embedder diarizer.Embedder
	profiles diarizer.ProfileStore
	webhook  webhook.Sender
}

// Manager owns at most one live Session. Start and Stop are serialized;
// reads never wait for a session to finish stopping.
type Manager struct {
	cfg  *config.Config
	deps *dependencies

	workerPoll time.Duration
	now        func() time.Time
	newID      func() string

	lifecycle sync.Mutex

	mu               sync.Mutex
	current          *Session
	micThreshold     float64
	speakerThreshold float64
}

type StartResult struct {
	Session *Session
	// ReplacedSessionID is set when an already active session was stopped
	// to make room for this one.
	ReplacedSessionID string
}

type Status struct {
	Active           bool          `json:"active"`
	SessionID        string        `json:"session_id,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	TranscriptPath   string        `json:"transcript_path,omitempty"`
	MicThreshold     float64       `json:"mic_threshold"`
	SpeakerThreshold float64       `json:"speaker_threshold"`
	QueueDepth       int           `json:"queue_depth"`
	Capture          capture.Stats `json:"capture"`
}

func NewManager(cfg *config.Config, repo repository.Repository, stt transcriber.Transcriber, devices audio.DeviceProvider, embedder diarizer.Embedder, profiles diarizer.ProfileStore, wh webhook.Sender) *Manager {
	return &Manager{
		cfg: cfg,
		deps: &dependencies{
			repo:     repo,
			stt:      stt,
			devices:  devices,
			embedder: embedder,
			profiles: profiles,
			webhook:  wh,
		},
		workerPoll:       defaultWorkerPoll,
		now:              time.Now,
		newID:            newSessionID,
		micThreshold:     cfg.MicNoiseThreshold,
		speakerThreshold: cfg.SpeakerNoiseThreshold,
	}
}

// newSessionID is 32 lowercase hex characters.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (m *Manager) active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start begins a new session. A session that is still active is stopped and
// cleaned up first, and reported in the result.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	var result StartResult
	if prev := m.active(); prev != nil {
		slog.Warn("session already active; replacing it", "session_id", prev.ID())
		if _, err := m.stopLocked(ctx); err != nil {
			slog.Error("failed to stop replaced session cleanly", "error", err, "session_id", prev.ID())
		}
		result.ReplacedSessionID = prev.ID()
	}

	m.mu.Lock()
	settings := m.settingsLocked()
	m.mu.Unlock()

	id := m.newID()
	s := &Session{
		id:             id,
		startedAt:      m.now(),
		deps:           m.deps,
		settings:       settings,
		transcriptPath: filepath.Join(settings.dataDir, "transcripts", fmt.Sprintf("transcript_%s.txt", id)),
		audioDir:       filepath.Join(settings.dataDir, "audio_chunks"),
	}
	if err := s.start(ctx); err != nil {
		return result, fmt.Errorf("start session: %w", err)
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	result.Session = s
	return result, nil
}

func (m *Manager) settingsLocked() sessionSettings {
	capCfg := capture.Config{
		SampleRate:       m.cfg.SampleRate,
		ChunkDuration:    m.cfg.ChunkDuration,
		FrameDuration:    m.cfg.FrameDuration,
		Warmup:           m.cfg.ChunkerWarmup,
		MicThreshold:     m.micThreshold,
		SpeakerThreshold: m.speakerThreshold,
		Now:              m.now,
	}
	return sessionSettings{
		dataDir:    m.cfg.DataDir,
		timezone:   m.cfg.TranscriptTimezone,
		loc:        m.cfg.Location(),
		language:   m.cfg.TranscribeLanguage,
		similarity: m.cfg.SpeakerSimilarity,
		capture:    capCfg,
		workerPoll: m.workerPoll,
		now:        m.now,
	}
}

// Stop stops and cleans up the active session and returns its id.
func (m *Manager) Stop(ctx context.Context) (string, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) (string, error) {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return "", ErrNoActiveSession
	}

	stopErr := s.Stop(ctx)
	if err := s.Cleanup(ctx); err != nil {
		slog.Warn("session cleanup failed", "error", err, "session_id", s.ID())
	}
	return s.ID(), stopErr
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	s := m.current
	st := Status{MicThreshold: m.micThreshold, SpeakerThreshold: m.speakerThreshold}
	m.mu.Unlock()
	if s == nil {
		return st
	}
	startedAt := s.StartedAt()
	st.Active = true
	st.SessionID = s.ID()
	st.StartedAt = &startedAt
	st.TranscriptPath = s.TranscriptPath()
	st.MicThreshold = s.Threshold(audio.SourceMic)
	st.SpeakerThreshold = s.Threshold(audio.SourceSpeaker)
	st.QueueDepth = s.QueueDepth()
	st.Capture = s.CaptureStats()
	return st
}

// NewChunksSince reads from the active session, or from the latest stored
// session when none is active. Silence rows are never returned.
func (m *Manager) NewChunksSince(ctx context.Context, lastChunkID string) ([]ChunkView, error) {
	if s := m.active(); s != nil {
		return s.NewChunksSince(lastChunkID), nil
	}

	sessionID, err := m.deps.repo.GetLatestSessionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	if sessionID == "" {
		return []ChunkView{}, nil
	}
	chunks, err := m.deps.repo.ListChunks(ctx, sessionID, lastChunkID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	loc := m.cfg.Location()
	views := make([]ChunkView, 0, len(chunks))
	for _, c := range chunks {
		if c.Text == transcriber.SilenceText {
			continue
		}
		label := ""
		if c.SpeakerID != nil {
			label = *c.SpeakerID
		}
		views = append(views, toChunkView(Entry{
			ChunkID:    c.ID,
			CapturedAt: c.Timestamp,
			Source:     audio.Source(c.Source),
			Speaker:    displayName(audio.Source(c.Source), label),
			Text:       c.Text,
			AudioPath:  c.AudioPath,
		}, loc))
	}
	return views, nil
}

func (m *Manager) CombinedTranscript() (string, error) {
	s := m.active()
	if s == nil {
		return "", ErrNoActiveSession
	}
	return s.CombinedTranscript(), nil
}

func (m *Manager) TranscriptPath() (string, error) {
	s := m.active()
	if s == nil {
		return "", ErrNoActiveSession
	}
	return s.TranscriptPath(), nil
}

func (m *Manager) AudioPath(ctx context.Context, chunkID string) (string, error) {
	path, err := m.deps.repo.GetAudioPath(ctx, chunkID)
	if err != nil {
		return "", fmt.Errorf("audio path: %w", err)
	}
	if path == "" {
		return "", ErrChunkNotFound
	}
	return path, nil
}

// SetThreshold applies to the active session immediately and to every
// session started afterwards.
func (m *Manager) SetThreshold(source audio.Source, value float64) error {
	if err := capture.ValidateThreshold(source, value); err != nil {
		return err
	}
	m.mu.Lock()
	if source == audio.SourceMic {
		m.micThreshold = value
	} else {
		m.speakerThreshold = value
	}
	s := m.current
	m.mu.Unlock()
	if s != nil {
		return s.SetThreshold(source, value)
	}
	return nil
}
