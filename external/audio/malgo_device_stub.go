//go:build !malgo

package audio

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/audio"
)

type MiniaudioProvider struct{}

func NewMiniaudioProvider() *MiniaudioProvider {
	return &MiniaudioProvider{}
}

func (p *MiniaudioProvider) OpenMicrophone(_ int) (audio.Device, error) {
	return nil, fmt.Errorf("%w: built without miniaudio support", audio.ErrDeviceUnavailable)
}

func (p *MiniaudioProvider) OpenLoopback(_ int) (audio.Device, error) {
	return nil, fmt.Errorf("%w: built without miniaudio support", audio.ErrDeviceUnavailable)
}

func (p *MiniaudioProvider) Close() error { return nil }
