package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clipd/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, fv *flagValues) error {
	cfg, err := loadConfig(cmd, fv)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	httpapi.SetLogger(logger)
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetMaxUploadBytes(cfg.MaxUploadBytes)
	httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSeconds)
	httpapi.SetCORSOptions(cfg.CORS(), cfg.CORSOrigins, nil, nil)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	svc, err := buildService(baseCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer svc.Close()

	// Warm up in the background; /readyz reports 503 until it succeeds.
	go func() {
		start := time.Now()
		if err := svc.Warmup(baseCtx); err != nil {
			logger.Error().Err(err).Str("backend", cfg.Backend).Msg("warmup failed")
			return
		}
		logger.Info().Dur("took", time.Since(start)).Msg("model ready")
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("backend", cfg.Backend).
			Str("model", cfg.Model).
			Msg("clipd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}
	// Let in-flight requests finish; cancel their inference only once the
	// drain window has run out.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown timed out, canceling in-flight requests")
		cancelBase()
		_ = srv.Close()
	}
	return nil
}
