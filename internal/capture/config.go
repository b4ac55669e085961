package capture

import (
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultBackoff      = 500 * time.Millisecond
	minArtifactBytes    = 100
)

type Config struct {
	SampleRate    int
	ChunkDuration time.Duration
	FrameDuration time.Duration
	// Warmup delays the first chunker poll so the buffers can fill up.
	Warmup       time.Duration
	PollInterval time.Duration
	Backoff      time.Duration
	TempDir      string

	MicThreshold     float64
	SpeakerThreshold float64

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) chunkSamples() int {
	return int(c.ChunkDuration.Seconds() * float64(c.SampleRate))
}

func (c Config) framesPerStep() int {
	return max(1, int(c.FrameDuration.Seconds()*float64(c.SampleRate)))
}

// WorkItem is one noise-gated chunk waiting for transcription.
type WorkItem struct {
	Path       string
	ChunkID    string
	Energy     float64
	Source     audio.Source
	CapturedAt time.Time
	// Seq orders items across both channels in enqueue order.
	Seq uint64
}
