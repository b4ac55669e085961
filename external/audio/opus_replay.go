//go:build opus

package audio

import (
	"fmt"
	"os"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/hraban/opus"
)

// ReplayProvider serves the microphone and loopback channels from two
// Ogg/Opus recordings.
type ReplayProvider struct {
	micPath     string
	speakerPath string
	channels    int
}

func NewReplayProvider(micPath, speakerPath string, channels int) *ReplayProvider {
	return &ReplayProvider{micPath: micPath, speakerPath: speakerPath, channels: channels}
}

func (p *ReplayProvider) OpenMicrophone(sampleRate int) (audio.Device, error) {
	return p.open("replay-mic", p.micPath, sampleRate)
}

func (p *ReplayProvider) OpenLoopback(sampleRate int) (audio.Device, error) {
	return p.open("replay-speaker", p.speakerPath, sampleRate)
}

func (p *ReplayProvider) open(name, path string, sampleRate int) (audio.Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", audio.ErrDeviceUnavailable, path, err)
	}
	stream, err := opus.NewStream(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: read ogg/opus %s: %v", audio.ErrDeviceUnavailable, path, err)
	}
	// Closing the stream also closes f.
	return newReplayDevice(name, stream, p.channels, sampleRate), nil
}
