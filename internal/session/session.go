package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/capture"
	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/foxseedlab/kikitori/internal/queue"
	"github.com/foxseedlab/kikitori/internal/repository"
)

const (
	webhookSendTimeout  = 30 * time.Second
	finalizeSaveTimeout = 10 * time.Second
)

// Session is one live capture/transcription run. It is created by Manager
// and stays usable for reads after Stop.
type Session struct {
	id        string
	startedAt time.Time
	deps      *dependencies
	settings  sessionSettings

	transcriptPath string
	audioDir       string
	tempDir        string

	queue    *queue.Queue[capture.WorkItem]
	recorder *capture.Recorder
	diarizer *diarizer.Diarizer

	active atomic.Bool
	// producing stays true until the recorder can no longer enqueue.
	producing    atomic.Bool
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerDone   chan struct{}

	mu      sync.Mutex
	entries []Entry
	ended   bool

	stopOnce sync.Once
	stopErr  error
}

type sessionSettings struct {
	dataDir    string
	timezone   string
	loc        *time.Location
	language   string
	similarity float64
	capture    capture.Config
	workerPoll time.Duration
	now        func() time.Time
}

func (s *Session) ID() string           { return s.id }
func (s *Session) StartedAt() time.Time { return s.startedAt }
func (s *Session) Active() bool         { return s.active.Load() }

// TranscriptPath is where the running transcript file is written.
func (s *Session) TranscriptPath() string { return s.transcriptPath }

// Done is closed once the transcription worker has exited.
func (s *Session) Done() <-chan struct{} { return s.workerDone }

func (s *Session) QueueDepth() int { return s.queue.Pending() }

// start runs the start-up sequence. On failure everything already started
// is rolled back and the error is returned.
func (s *Session) start(ctx context.Context) error {
	for _, dir := range []string{filepath.Dir(s.transcriptPath), s.audioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	tempDir, err := os.MkdirTemp("", "kikitori-"+s.id+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	s.tempDir = tempDir

	header := renderHeader(s.id, s.startedAt, s.settings.loc)
	if err := os.WriteFile(s.transcriptPath, []byte(header), 0o644); err != nil {
		_ = os.RemoveAll(tempDir)
		return fmt.Errorf("create transcript file: %w", err)
	}

	if _, err := s.deps.repo.CreateSession(ctx, repository.CreateSessionInput{ID: s.id, StartedAt: s.startedAt}); err != nil {
		_ = os.RemoveAll(tempDir)
		return fmt.Errorf("create session record: %w", err)
	}

	s.diarizer = diarizer.New(ctx, s.id, s.settings.similarity, s.deps.embedder, s.deps.profiles)

	s.queue = queue.New[capture.WorkItem]()
	capCfg := s.settings.capture
	capCfg.TempDir = tempDir
	s.recorder = capture.NewRecorder(s.id, capCfg, s.deps.devices, s.queue)

	s.active.Store(true)
	s.producing.Store(true)
	s.workerCtx, s.workerCancel = context.WithCancel(context.Background())
	s.workerDone = make(chan struct{})
	go s.runWorker()

	if err := s.recorder.Start(); err != nil {
		slog.Error("failed to start capture; rolling back session", "error", err, "session_id", s.id)
		s.active.Store(false)
		s.producing.Store(false)
		<-s.workerDone
		s.workerCancel()
		if cerr := s.deps.repo.CompleteSession(context.WithoutCancel(ctx), repository.CompleteSessionInput{
			SessionID: s.id,
			EndedAt:   s.settings.now(),
		}); cerr != nil {
			slog.Error("failed to complete rolled back session", "error", cerr, "session_id", s.id)
		}
		_ = os.RemoveAll(tempDir)
		return err
	}
	slog.Info("session started", "session_id", s.id, "transcript_path", s.transcriptPath)
	return nil
}

// Stop ends capture, lets the worker finish the queued chunks (bounded by
// ctx), writes the transcript footer and closes the session record. Later
// calls return the first result.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Session) stop(ctx context.Context) error {
	slog.Info("stopping session", "session_id", s.id)
	s.active.Store(false)
	s.recorder.Stop()
	s.producing.Store(false)

	select {
	case <-s.workerDone:
	case <-ctx.Done():
		slog.Warn("stopped waiting for transcription worker", "session_id", s.id, "pending", s.queue.Pending())
		s.workerCancel()
		<-s.workerDone
	}
	s.workerCancel()

	endedAt := s.settings.now()
	s.mu.Lock()
	s.ended = true
	sorted := sortEntries(s.entries)
	s.mu.Unlock()

	var errs []error
	if err := appendToFile(s.transcriptPath, renderFooter(endedAt, sorted, s.settings.loc)); err != nil {
		errs = append(errs, fmt.Errorf("write transcript footer: %w", err))
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeSaveTimeout)
	defer cancel()
	if err := s.deps.repo.CompleteSession(saveCtx, repository.CompleteSessionInput{SessionID: s.id, EndedAt: endedAt}); err != nil {
		errs = append(errs, fmt.Errorf("complete session record: %w", err))
	}

	if s.deps.webhook != nil {
		whCtx, whCancel := context.WithTimeout(context.WithoutCancel(ctx), webhookSendTimeout)
		defer whCancel()
		payload := buildTranscriptWebhookPayload(s.id, s.transcriptPath, s.startedAt, endedAt, s.settings.timezone, s.settings.loc, sorted)
		if err := s.deps.webhook.SendTranscript(whCtx, payload); err != nil {
			slog.Error("failed to send webhook transcript", "error", err, "session_id", s.id)
		}
	}

	slog.Info("session stopped", "session_id", s.id, "entries", len(sorted), "stats", s.recorder.Stats())
	return errors.Join(errs...)
}

// Cleanup waits for queued chunks to be acknowledged and removes the
// temporary audio directory. Transcript and audio artifacts are kept.
func (s *Session) Cleanup(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.queue.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		slog.Warn("cleanup without full queue drain", "session_id", s.id, "pending", s.queue.Pending())
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("remove temp dir: %w", err)
	}
	return nil
}

// NewChunksSince returns the sorted entries after lastChunkID, or all of
// them when lastChunkID is empty or unknown.
func (s *Session) NewChunksSince(lastChunkID string) []ChunkView {
	s.mu.Lock()
	sorted := sortEntries(s.entries)
	s.mu.Unlock()

	start := 0
	if lastChunkID != "" {
		for i, e := range sorted {
			if e.ChunkID == lastChunkID {
				start = i + 1
				break
			}
		}
	}
	views := make([]ChunkView, 0, len(sorted)-start)
	for _, e := range sorted[start:] {
		views = append(views, toChunkView(e, s.settings.loc))
	}
	return views
}

// CombinedTranscript is every entry so far as chronologically sorted lines.
func (s *Session) CombinedTranscript() string {
	s.mu.Lock()
	sorted := sortEntries(s.entries)
	s.mu.Unlock()
	return joinLines(renderLines(sorted, s.settings.loc))
}

func (s *Session) SetThreshold(source audio.Source, value float64) error {
	return s.recorder.SetThreshold(source, value)
}

func (s *Session) Threshold(source audio.Source) float64 {
	return s.recorder.Threshold(source)
}

func (s *Session) CaptureStats() capture.Stats {
	return s.recorder.Stats()
}
