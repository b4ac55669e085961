package audio

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (audio.DeviceProvider, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewDeviceProvider(cfg)
	})
}

func NewDeviceProvider(cfg *config.Config) (audio.DeviceProvider, error) {
	switch cfg.AudioBackend {
	case config.AudioBackendMiniaudio:
		return NewMiniaudioProvider(), nil
	case config.AudioBackendReplay:
		return NewReplayProvider(cfg.ReplayMicPath, cfg.ReplaySpeakerPath, cfg.ReplayChannels), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.AudioBackend)
	}
}
