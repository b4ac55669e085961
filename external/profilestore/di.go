package profilestore

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/samber/do/v2"
)

const connectTimeout = 10 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (diarizer.ProfileStore, error) {
		cfg := do.MustInvoke[*config.Config](i)
		url := strings.TrimSpace(cfg.SpeakerProfileStoreURL)
		if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			return ConnectRedis(ctx, url)
		}
		dir := url
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "speaker_embeddings")
		}
		return NewFileStore(dir), nil
	})
}
