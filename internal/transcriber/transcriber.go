package transcriber

import (
	"context"
	"strings"
)

// SilenceText stands in for a chunk that produced no recognizable speech.
const SilenceText = "[silence]"

type Options struct {
	Language          string
	BeamSize          int
	Temperature       float64
	NoSpeechThreshold float64
	WordTimestamps    bool
}

// DefaultOptions is deterministic decoding with word timestamps.
func DefaultOptions(language string) Options {
	return Options{
		Language:          language,
		BeamSize:          10,
		Temperature:       0,
		NoSpeechThreshold: 0.6,
		WordTimestamps:    true,
	}
}

type Word struct {
	Text  string
	Start float64
	End   float64
}

type Segment struct {
	Text  string
	Start float64
	End   float64
	Words []Word
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error)
}

// JoinSegments joins trimmed segment texts with single spaces and falls back
// to SilenceText when nothing is left.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return SilenceText
	}
	return strings.Join(parts, " ")
}
