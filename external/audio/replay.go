package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
)

// decodedSampleRate is the rate every Ogg/Opus stream decodes to.
const decodedSampleRate = 48000

type pcmSource interface {
	ReadFloat32(pcm []float32) (int, error)
	Close() error
}

// replayDevice plays a decoded recording back as if it were live input,
// paced to wall-clock time. Once the recording ends it yields silence.
type replayDevice struct {
	name       string
	src        pcmSource
	channels   int
	sampleRate int

	mu        sync.Mutex
	pending   []float32
	eof       bool
	closed    bool
	delivered int64
	startedAt time.Time
	now       func() time.Time
	sleep     func(time.Duration)
}

func newReplayDevice(name string, src pcmSource, channels, sampleRate int) *replayDevice {
	return &replayDevice{
		name:       name,
		src:        src,
		channels:   channels,
		sampleRate: sampleRate,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

func (d *replayDevice) Name() string { return d.name }

func (d *replayDevice) Record(numFrames int) (audio.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.Frame{}, audio.ErrDeviceUnavailable
	}
	if d.startedAt.IsZero() {
		d.startedAt = d.now()
	}

	srcFrames := int(int64(numFrames) * decodedSampleRate / int64(d.sampleRate))
	if err := d.fill(srcFrames); err != nil {
		return audio.Frame{}, err
	}
	decoded := make([]float32, srcFrames*d.channels)
	n := copy(decoded, d.pending)
	d.pending = d.pending[n:]

	out := resample(decoded, d.channels, srcFrames, numFrames)
	d.delivered += int64(numFrames)
	due := d.startedAt.Add(time.Duration(d.delivered) * time.Second / time.Duration(d.sampleRate))
	if wait := due.Sub(d.now()); wait > 0 {
		d.sleep(wait)
	}
	return audio.Frame{Samples: out, Channels: d.channels}, nil
}

func (d *replayDevice) fill(srcFrames int) error {
	want := srcFrames * d.channels
	buf := make([]float32, 5760*d.channels)
	for len(d.pending) < want && !d.eof {
		n, err := d.src.ReadFloat32(buf)
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			d.eof = true
			break
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", d.name, err)
		}
		d.pending = append(d.pending, buf[:n*d.channels]...)
	}
	return nil
}

// resample picks the nearest decoded frame for every output frame.
func resample(in []float32, channels, inFrames, outFrames int) []float32 {
	out := make([]float32, outFrames*channels)
	if inFrames == 0 {
		return out
	}
	for i := 0; i < outFrames; i++ {
		j := i * inFrames / outFrames
		copy(out[i*channels:(i+1)*channels], in[j*channels:(j+1)*channels])
	}
	return out
}

func (d *replayDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.src.Close()
}
