// Package app wires the reference server together: config, logging, the
// pebble store, chat routes, health and metrics endpoints, and the
// retention sweeper.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/barchshimelis/supportchat/internal/server"
	"github.com/barchshimelis/supportchat/pkg/config"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	srv       *http.Server
	retCancel context.CancelFunc
}

// New initializes resources that do not require a running context (logger,
// store). Call Run to start the HTTP server and block until shutdown.
func New(cfg *config.Config, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	logger.InitWithLevel(cfg.Logging.Level, cfg.Logging.Format)

	cachePath := cfg.Storage.CachePath
	if cachePath == "" {
		cachePath = "./.supportchat"
	}
	if err := store.Open(cachePath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cachePath, err)
	}

	return &App{cfg: cfg, version: version, commit: commit, buildDate: buildDate}, nil
}

// Run starts the retention sweeper and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	retCancel, err := server.StartRetention(ctx, a.cfg.Server.Retention)
	if err != nil {
		return err
	}
	a.retCancel = retCancel

	logger.Info("server_starting",
		"addr", a.cfg.Addr(),
		"version", a.versionString(),
	)

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (a *App) versionString() string {
	v := a.version
	if v == "" {
		v = "dev"
	}
	if a.commit != "" && a.commit != "none" {
		v += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		v += " @ " + a.buildDate
	}
	return v
}

func (a *App) shutdown() {
	if a.retCancel != nil {
		a.retCancel()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = a.srv.Shutdown(ctx)
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("server_stopped")
}
