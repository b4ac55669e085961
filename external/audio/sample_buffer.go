package audio

import (
	"sync"

	"github.com/foxseedlab/kikitori/internal/audio"
)

// sampleBuffer hands interleaved samples pushed from a device callback to
// a blocking reader.
type sampleBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	samples  []float32
	channels int
	closed   bool
}

func newSampleBuffer(channels int) *sampleBuffer {
	b := &sampleBuffer{channels: channels}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *sampleBuffer) push(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.samples = append(b.samples, samples...)
	b.cond.Broadcast()
}

// read blocks until numFrames frames are buffered or the buffer is closed.
func (b *sampleBuffer) read(numFrames int) (audio.Frame, error) {
	want := numFrames * b.channels
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.samples) < want && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return audio.Frame{}, audio.ErrDeviceUnavailable
	}
	out := make([]float32, want)
	copy(out, b.samples[:want])
	n := copy(b.samples, b.samples[want:])
	b.samples = b.samples[:n]
	return audio.Frame{Samples: out, Channels: b.channels}, nil
}

func (b *sampleBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.samples = nil
	b.cond.Broadcast()
}
