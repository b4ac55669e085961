//go:build !opus

package audio

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/audio"
)

type ReplayProvider struct{}

func NewReplayProvider(_, _ string, _ int) *ReplayProvider {
	return &ReplayProvider{}
}

func (p *ReplayProvider) OpenMicrophone(_ int) (audio.Device, error) {
	return nil, fmt.Errorf("%w: built without opus support", audio.ErrDeviceUnavailable)
}

func (p *ReplayProvider) OpenLoopback(_ int) (audio.Device, error) {
	return nil, fmt.Errorf("%w: built without opus support", audio.ErrDeviceUnavailable)
}
