package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	configloader "github.com/foxseedlab/kikitori/external/config"
	profilestoreimpl "github.com/foxseedlab/kikitori/external/profilestore"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/foxseedlab/kikitori/internal/httpapi"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

const (
	sessionStopTimeout  = 5 * time.Minute
	httpShutdownTimeout = 10 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "transcriber", cfg.TranscriberBackend, "audio", cfg.AudioBackend)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)
	defer closeResources(injector)

	run(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	profilestoreimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config, injector do.Injector) {
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}
	server, err := do.Invoke[*httpapi.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http api", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		if err := server.Listen(cfg.HTTPAddr); err != nil {
			slog.Error("http api stopped", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), sessionStopTimeout)
	defer cancel()
	if id, err := manager.Stop(stopCtx); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		slog.Error("failed to stop session on shutdown", "error", err, "session_id", id)
	} else if id != "" {
		slog.Info("session stopped on shutdown", "session_id", id)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http api shutdown failed", "error", err)
	}
}

// closeResources releases the adapters that hold processes, pools or
// devices. The repository goes last.
func closeResources(injector do.Injector) {
	type resource struct {
		name  string
		value any
		err   error
	}
	var resources []resource
	add := func(name string, value any, err error) {
		resources = append(resources, resource{name: name, value: value, err: err})
	}
	stt, err := do.Invoke[transcriber.Transcriber](injector)
	add("transcriber", stt, err)
	profiles, err := do.Invoke[diarizer.ProfileStore](injector)
	add("speaker profile store", profiles, err)
	devices, err := do.Invoke[audio.DeviceProvider](injector)
	add("audio devices", devices, err)
	repo, err := do.Invoke[repository.Repository](injector)
	add("repository", repo, err)

	for _, r := range resources {
		if r.err != nil {
			continue
		}
		c, ok := r.value.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			slog.Error("close failed", "error", err, "resource", r.name)
		}
	}
}
