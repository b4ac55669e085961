package capture

import "sync"

type takeStatus int

const (
	takeNone takeStatus = iota
	takeReady
	takeShort
	takeReset
)

// channelBuffer is the append-only sample store of one capture channel. The
// record loop appends, the chunker takes fixed-size windows at its cursor.
// The consumed prefix is dropped once it dominates the backing slice; base
// keeps track of the absolute sample index of samples[0].
type channelBuffer struct {
	mu      sync.Mutex
	samples []float32
	cursor  int
	base    int64
	signal  chan struct{}
}

func newChannelBuffer() *channelBuffer {
	return &channelBuffer{signal: make(chan struct{}, 1)}
}

func (b *channelBuffer) append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// take extracts the next window of exactly size samples. start is the
// absolute index of the window's first sample.
func (b *channelBuffer) take(size int) (window []float32, start int64, status takeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	length := len(b.samples)
	if b.cursor < 0 || b.cursor > length {
		b.cursor = max(0, length-size)
		return nil, 0, takeReset
	}
	if length-b.cursor < size {
		return nil, 0, takeNone
	}

	from := b.cursor
	to := min(from+size, length)
	if to <= from {
		b.cursor = max(0, length-size)
		return nil, 0, takeReset
	}
	window = make([]float32, to-from)
	copy(window, b.samples[from:to])
	if len(window) != size {
		b.cursor += len(window)
		return nil, 0, takeShort
	}
	b.cursor = to
	start = b.base + int64(from)
	b.compactLocked(size)
	return window, start, takeReady
}

func (b *channelBuffer) compactLocked(size int) {
	if b.cursor < size || b.cursor < len(b.samples)/2 {
		return
	}
	n := copy(b.samples, b.samples[b.cursor:])
	b.samples = b.samples[:n]
	b.base += int64(b.cursor)
	b.cursor = 0
}

// unprocessed is the number of samples appended but not yet taken.
func (b *channelBuffer) unprocessed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) - b.cursor
}
