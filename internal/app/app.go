package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
)

// Background work runs for the lifetime of the server.
type Background interface {
	Run(ctx context.Context) error
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Background    []Background
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, obs *observability.Runtime, background []Background) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Observability: obs, Background: background}
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the configured shutdown timeout. Background work stops after the
// server and telemetry is flushed last.
func (a *App) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	for _, b := range a.Background {
		wg.Add(1)
		go func(b Background) {
			defer wg.Done()
			if err := b.Run(bgCtx); err != nil {
				a.Logger.Error("background task stopped", "error", err)
			}
		}(b)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", a.Server.Addr, "env", a.Config.Env)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		runErr = a.shutdown(errCh)
	}

	stopBackground()
	wg.Wait()
	if err := a.flushTelemetry(); err != nil {
		a.Logger.Warn("telemetry shutdown failed", "error", err)
	}
	return runErr
}

func (a *App) shutdown(errCh <-chan error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	a.Logger.Info("server shutting down", "timeout", a.shutdownTimeout().String())
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (a *App) flushTelemetry() error {
	if a.Observability == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	return a.Observability.Shutdown(ctx)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return a.Config.ShutdownTimeout
}
