package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
)

func (r *Recorder) chunkLoop(ctx context.Context, ch *channel) {
	defer r.wg.Done()
	size := r.cfg.chunkSamples()
	slog.Info("chunker started", "session_id", r.sessionID, "source", ch.source, "chunk_samples", size, "threshold", ch.loadThreshold())

	if r.cfg.Warmup > 0 && !sleepCtx(ctx, r.cfg.Warmup) {
		return
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if !r.drainWindows(ctx, ch, size) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ch.buf.signal:
		case <-ticker.C:
		}
	}
}

// drainWindows processes every complete window currently buffered. It
// returns false when the loop should exit.
func (r *Recorder) drainWindows(ctx context.Context, ch *channel, size int) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		window, start, status := ch.buf.take(size)
		switch status {
		case takeNone:
			return true
		case takeReset:
			slog.Warn("invalid buffer positions; cursor reset", "session_id", r.sessionID, "source", ch.source)
			if !sleepCtx(ctx, r.cfg.Backoff) {
				return false
			}
		case takeShort:
			slog.Warn("chunk size mismatch; skipping", "session_id", r.sessionID, "source", ch.source, "expected", size)
		case takeReady:
			r.processWindow(ch, window, start)
		}
	}
}

func (r *Recorder) processWindow(ch *channel, window []float32, start int64) {
	if replaced := sanitize(window); replaced > 0 {
		slog.Warn("replaced non-finite samples", "session_id", r.sessionID, "source", ch.source, "count", replaced)
	}
	energy := meanAbs(window)
	threshold := ch.loadThreshold()
	if energy < threshold {
		ch.discarded.Add(1)
		slog.Debug("chunk below noise threshold", "session_id", r.sessionID, "source", ch.source, "level", energy, "threshold", threshold)
		return
	}

	ch.seq++
	chunkID := fmt.Sprintf("%s_%d", ch.source, ch.seq)
	path := r.tempPath(chunkID)
	if err := audio.WriteWAV(path, window, r.cfg.SampleRate); err != nil {
		slog.Error("failed to save chunk audio", "error", err, "session_id", r.sessionID, "chunk_id", chunkID)
		_ = os.Remove(path)
		return
	}
	if info, err := os.Stat(path); err != nil || info.Size() <= minArtifactBytes {
		slog.Error("saved chunk audio is not valid", "error", err, "session_id", r.sessionID, "chunk_id", chunkID)
		_ = os.Remove(path)
		return
	}

	r.out.Put(WorkItem{
		Path:       path,
		ChunkID:    chunkID,
		Energy:     energy,
		Source:     ch.source,
		CapturedAt: r.captureTime(start),
		Seq:        r.enqueueSeq.Add(1),
	})
	ch.emitted.Add(1)
	slog.Info("chunk queued", "session_id", r.sessionID, "chunk_id", chunkID, "level", energy)
}

// sanitize zeroes NaN and infinite samples in place.
func sanitize(samples []float32) int {
	replaced := 0
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			samples[i] = 0
			replaced++
		}
	}
	return replaced
}

func meanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}
