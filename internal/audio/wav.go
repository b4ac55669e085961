package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavFormatPCM   = 1
	pcm16MaxSample = 32767
)

var ErrInvalidWAV = errors.New("invalid wav file")

// WriteWAV writes mono 16-bit PCM. Samples are expected in [-1, 1] and are
// clipped outside of it.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, 1, wavFormatPCM)
	data := make([]int, len(samples))
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		data[i] = int(math.Round(v * pcm16MaxSample))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

// ReadWAV returns the first channel of a PCM wav file scaled to [-1, 1].
func ReadWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels <= 0 || dec.BitDepth == 0 {
		return nil, 0, ErrInvalidWAV
	}
	scale := math.Pow(2, float64(dec.BitDepth)-1)
	n := len(buf.Data) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(buf.Data[i*channels]) / scale
	}
	return out, int(dec.SampleRate), nil
}
