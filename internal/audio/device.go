package audio

import "errors"

// Source tags which of the two capture channels a piece of audio came from.
type Source string

const (
	SourceMic     Source = "mic"
	SourceSpeaker Source = "speaker"
)

func (s Source) Valid() bool {
	return s == SourceMic || s == SourceSpeaker
}

var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Frame is a block of interleaved float32 samples as returned by a device.
type Frame struct {
	Samples  []float32
	Channels int
}

// Device is a blocking capture device. Record returns once numFrames frames
// are available (or the device fails).
type Device interface {
	Name() string
	Record(numFrames int) (Frame, error)
	Close() error
}

type DeviceProvider interface {
	OpenMicrophone(sampleRate int) (Device, error)
	OpenLoopback(sampleRate int) (Device, error)
}

// Mono keeps the first channel of an interleaved frame. A frame without
// channels yields numFrames samples of silence.
func Mono(frame Frame, numFrames int) []float32 {
	if frame.Channels <= 0 {
		return make([]float32, numFrames)
	}
	n := len(frame.Samples) / frame.Channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = frame.Samples[i*frame.Channels]
	}
	return out
}
