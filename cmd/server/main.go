package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitglue/journey/pkg/authflow"
	"github.com/fitglue/journey/pkg/bootstrap"
	sentryutil "github.com/fitglue/journey/pkg/infrastructure/sentry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "journey-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.NewLogger("journey-server", cfg.LogLevel)

	svc, err := bootstrap.NewService(ctx, "journey-server", cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sentryutil.Flush(2 * time.Second)
		if err := svc.Close(context.Background()); err != nil {
			logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	auth := authflow.NewServer(svc.OAuth, svc.Store, svc.Journey, logger)
	auth.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	auth.DeviceGrantTTL = cfg.DeviceGrantTTL
	if cfg.DeviceGrantSecret != "" {
		auth.DeviceKey = []byte(cfg.DeviceGrantSecret)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           auth.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Auth server listening", "addr", srv.Addr, "base_url", cfg.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
