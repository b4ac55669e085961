package diarizer

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/foxseedlab/kikitori/internal/audio"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

const (
	mfccFFTSize  = 2048
	mfccHop      = 512
	mfccMelBands = 128
	mfccCoeffs   = 20
	mfccTopDB    = 80.0
	mfccAmin     = 1e-10
)

var ErrEmptyEmbedding = errors.New("audio produced an empty embedding")

// Embedder turns a chunk artifact into a fixed-length voice embedding.
type Embedder interface {
	Embed(path string) ([]float64, error)
}

// MFCCEmbedder summarizes a clip as its L2-normalized mean MFCC vector.
type MFCCEmbedder struct{}

func (MFCCEmbedder) Embed(path string) ([]float64, error) {
	samples, sampleRate, err := audio.ReadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk audio: %w", err)
	}
	return EmbedSamples(samples, sampleRate)
}

// EmbedSamples computes the embedding of mono samples in [-1, 1].
func EmbedSamples(samples []float64, sampleRate int) ([]float64, error) {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil, ErrEmptyEmbedding
	}
	y := make([]float64, len(samples))
	copy(y, samples)
	if peak := math.Max(math.Abs(floats.Max(y)), math.Abs(floats.Min(y))); peak > 0 {
		floats.Scale(1/peak, y)
	}

	power := powerSpectrogram(y)
	mel := melFilterbank(sampleRate)
	melDB := make([][]float64, len(power))
	maxDB := math.Inf(-1)
	for t, frame := range power {
		bands := make([]float64, mfccMelBands)
		for m, filter := range mel {
			bands[m] = 10 * math.Log10(math.Max(mfccAmin, floats.Dot(filter, frame)))
			maxDB = math.Max(maxDB, bands[m])
		}
		melDB[t] = bands
	}

	mean := make([]float64, mfccCoeffs)
	for _, bands := range melDB {
		for m := range bands {
			bands[m] = math.Max(bands[m], maxDB-mfccTopDB)
		}
		floats.Add(mean, dctII(bands, mfccCoeffs))
	}
	floats.Scale(1/float64(len(melDB)), mean)

	norm := floats.Norm(mean, 2)
	if norm == 0 || math.IsNaN(norm) {
		return nil, ErrEmptyEmbedding
	}
	floats.Scale(1/norm, mean)
	return mean, nil
}

// powerSpectrogram frames the zero-padded signal (frames centered on
// multiples of the hop) and returns |FFT|^2 for each frame.
func powerSpectrogram(y []float64) [][]float64 {
	pad := mfccFFTSize / 2
	padded := make([]float64, len(y)+2*pad)
	copy(padded[pad:], y)

	fft := fourier.NewFFT(mfccFFTSize)
	win := window.Hann(ones(mfccFFTSize))
	frameCount := 1 + (len(padded)-mfccFFTSize)/mfccHop
	frames := make([][]float64, 0, frameCount)
	buf := make([]float64, mfccFFTSize)
	coeffs := make([]complex128, mfccFFTSize/2+1)
	for i := 0; i < frameCount; i++ {
		start := i * mfccHop
		floats.MulTo(buf, padded[start:start+mfccFFTSize], win)
		fft.Coefficients(coeffs, buf)
		frame := make([]float64, len(coeffs))
		for k, c := range coeffs {
			a := cmplx.Abs(c)
			frame[k] = a * a
		}
		frames = append(frames, frame)
	}
	return frames
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// Slaney-style mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
)

var (
	melMinLogMel = melMinLogHz / melFSp
	melLogStep   = math.Log(6.4) / 27
)

func hzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melFSp
	}
	return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melMinLogMel {
		return mel * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
}

// melFilterbank builds area-normalized triangular filters over FFT bins.
func melFilterbank(sampleRate int) [][]float64 {
	bins := mfccFFTSize/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / mfccFFTSize
	}
	maxMel := hzToMel(float64(sampleRate) / 2)
	points := make([]float64, mfccMelBands+2)
	for i := range points {
		points[i] = melToHz(maxMel * float64(i) / float64(mfccMelBands+1))
	}

	filters := make([][]float64, mfccMelBands)
	for m := range filters {
		lo, center, hi := points[m], points[m+1], points[m+2]
		norm := 2 / (hi - lo)
		filter := make([]float64, bins)
		for k, f := range fftFreqs {
			lower := (f - lo) / (center - lo)
			upper := (hi - f) / (hi - center)
			filter[k] = math.Max(0, math.Min(lower, upper)) * norm
		}
		filters[m] = filter
	}
	return filters
}

// dctII is the orthonormal type-II DCT truncated to the first n outputs.
func dctII(x []float64, n int) []float64 {
	size := float64(len(x))
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i, v := range x {
			sum += v * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*size))
		}
		scale := math.Sqrt(2 / size)
		if k == 0 {
			scale = math.Sqrt(1 / size)
		}
		out[k] = sum * scale
	}
	return out
}
