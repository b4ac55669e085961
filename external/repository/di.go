package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// resolveDatabaseURL places relative SQLite paths under the data directory.
func resolveDatabaseURL(dataDir, url string) string {
	if isPostgresURL(url) || strings.HasPrefix(url, "file:") || filepath.IsAbs(url) {
		return url
	}
	return filepath.Join(dataDir, url)
}

// Open picks the backend from the URL scheme and initializes the schema.
func Open(ctx context.Context, url string) (repository.Repository, error) {
	var (
		repo repository.Repository
		err  error
	)
	if isPostgresURL(url) {
		repo, err = OpenPostgres(ctx, url)
	} else {
		repo, err = OpenSQLite(ctx, url)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.Init(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return repo, nil
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()
		return Open(ctx, resolveDatabaseURL(cfg.DataDir, cfg.DatabaseURL))
	})
}
