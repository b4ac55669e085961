package session

import (
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		devices := do.MustInvoke[audio.DeviceProvider](i)
		profiles := do.MustInvoke[diarizer.ProfileStore](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewManager(cfg, repo, stt, devices, diarizer.MFCCEmbedder{}, profiles, wh), nil
	})
}
