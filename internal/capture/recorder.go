package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/queue"
)

var (
	ErrUnknownSource    = errors.New("unknown audio source")
	ErrInvalidThreshold = errors.New("noise threshold must be a non-negative number")
	ErrAlreadyStarted   = errors.New("recorder already started")
)

type channel struct {
	source    audio.Source
	buf       *channelBuffer
	device    audio.Device
	threshold atomic.Uint64
	seq       int
	emitted   atomic.Int64
	discarded atomic.Int64
}

func newChannel(source audio.Source, threshold float64) *channel {
	ch := &channel{source: source, buf: newChannelBuffer()}
	ch.setThreshold(threshold)
	return ch
}

func (ch *channel) setThreshold(v float64) {
	ch.threshold.Store(math.Float64bits(v))
}

func (ch *channel) loadThreshold() float64 {
	return math.Float64frombits(ch.threshold.Load())
}

// Stats are per-channel chunker counters.
type Stats struct {
	MicEmitted       int64 `json:"mic_emitted"`
	MicDiscarded     int64 `json:"mic_discarded"`
	SpeakerEmitted   int64 `json:"speaker_emitted"`
	SpeakerDiscarded int64 `json:"speaker_discarded"`
}

// Recorder runs the dual-channel capture: one record loop and one chunker
// loop per channel, all feeding a shared work queue.
type Recorder struct {
	cfg     Config
	devices audio.DeviceProvider
	out     *queue.Queue[WorkItem]

	mic     *channel
	speaker *channel

	sessionID  string
	enqueueSeq atomic.Uint64
	startedAt  time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    atomic.Bool
	started    atomic.Bool
}

func NewRecorder(sessionID string, cfg Config, devices audio.DeviceProvider, out *queue.Queue[WorkItem]) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		cfg:       cfg,
		devices:   devices,
		out:       out,
		sessionID: sessionID,
		mic:       newChannel(audio.SourceMic, cfg.MicThreshold),
		speaker:   newChannel(audio.SourceSpeaker, cfg.SpeakerThreshold),
	}
}

// Start opens both devices and launches the loops. A device failure aborts
// start-up and leaves nothing running.
func (r *Recorder) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	micDev, err := r.devices.OpenMicrophone(r.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	speakerDev, err := r.devices.OpenLoopback(r.cfg.SampleRate)
	if err != nil {
		_ = micDev.Close()
		return fmt.Errorf("open loopback: %w", err)
	}
	if err := os.MkdirAll(r.cfg.TempDir, 0o755); err != nil {
		_ = micDev.Close()
		_ = speakerDev.Close()
		return fmt.Errorf("create temp dir: %w", err)
	}
	r.mic.device = micDev
	r.speaker.device = speakerDev
	slog.Info("capture devices opened", "session_id", r.sessionID, "mic", micDev.Name(), "speaker", speakerDev.Name())

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.startedAt = r.cfg.Now()
	r.running.Store(true)
	for _, ch := range []*channel{r.mic, r.speaker} {
		r.wg.Add(2)
		go r.recordLoop(ctx, ch)
		go r.chunkLoop(ctx, ch)
	}
	return nil
}

// Stop ends all loops. Items already in the queue stay there.
func (r *Recorder) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	slog.Info("stopping capture", "session_id", r.sessionID)
	r.cancel()
	for _, ch := range []*channel{r.mic, r.speaker} {
		if err := ch.device.Close(); err != nil {
			slog.Warn("failed to close capture device", "error", err, "session_id", r.sessionID, "source", ch.source)
		}
	}
	r.wg.Wait()
	stats := r.Stats()
	slog.Info("capture stopped",
		"session_id", r.sessionID,
		"mic_emitted", stats.MicEmitted,
		"mic_discarded", stats.MicDiscarded,
		"speaker_emitted", stats.SpeakerEmitted,
		"speaker_discarded", stats.SpeakerDiscarded)
}

func (r *Recorder) Running() bool {
	return r.running.Load()
}

func (r *Recorder) channel(source audio.Source) (*channel, error) {
	switch source {
	case audio.SourceMic:
		return r.mic, nil
	case audio.SourceSpeaker:
		return r.speaker, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// SetThreshold changes a channel's noise gate without interrupting capture.
// Windows already consumed are not re-evaluated.
func (r *Recorder) SetThreshold(source audio.Source, value float64) error {
	if err := ValidateThreshold(source, value); err != nil {
		return err
	}
	ch, err := r.channel(source)
	if err != nil {
		return err
	}
	ch.setThreshold(value)
	slog.Info("noise threshold updated", "session_id", r.sessionID, "source", source, "threshold", value)
	return nil
}

// ValidateThreshold checks a noise gate value for a channel.
func ValidateThreshold(source audio.Source, value float64) error {
	if !source.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrInvalidThreshold
	}
	return nil
}

func (r *Recorder) Threshold(source audio.Source) float64 {
	ch, err := r.channel(source)
	if err != nil {
		return 0
	}
	return ch.loadThreshold()
}

func (r *Recorder) Stats() Stats {
	return Stats{
		MicEmitted:       r.mic.emitted.Load(),
		MicDiscarded:     r.mic.discarded.Load(),
		SpeakerEmitted:   r.speaker.emitted.Load(),
		SpeakerDiscarded: r.speaker.discarded.Load(),
	}
}

func (r *Recorder) recordLoop(ctx context.Context, ch *channel) {
	defer r.wg.Done()
	frames := r.cfg.framesPerStep()
	slog.Info("recording started", "session_id", r.sessionID, "source", ch.source, "frames_per_step", frames)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := ch.device.Record(frames)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to read capture device", "error", err, "session_id", r.sessionID, "source", ch.source)
			if !sleepCtx(ctx, r.cfg.Backoff) {
				return
			}
			continue
		}
		ch.buf.append(audio.Mono(frame, frames))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Recorder) captureTime(absStart int64) time.Time {
	offset := time.Duration(float64(absStart) / float64(r.cfg.SampleRate) * float64(time.Second))
	return r.startedAt.Add(offset)
}

func artifactName(chunkID string, at time.Time) string {
	return fmt.Sprintf("%s_%d.wav", chunkID, at.Unix())
}

func (r *Recorder) tempPath(chunkID string) string {
	return filepath.Join(r.cfg.TempDir, artifactName(chunkID, r.cfg.Now()))
}
