package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwygoda/extractd/internal/adapter/auth"
	httpAdapter "github.com/cwygoda/extractd/internal/adapter/http"
	"github.com/cwygoda/extractd/internal/adapter/store"
	"github.com/cwygoda/extractd/internal/config"
	"github.com/cwygoda/extractd/internal/domain"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the HTTP API until SIGINT or SIGTERM.
func ServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the extraction job HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8000, "HTTP server port")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger.Info("starting extractd", "port", cfg.Port)

	repo, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc := domain.NewJobService(repo, domain.WithLogger(logger))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(svc, verifier, addr, httpAdapter.WithLogger(logger))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newVerifier returns nil when authentication is disabled.
func newVerifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Verifier, error) {
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled")
		return nil, nil
	}
	v, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL(), cfg.Issuer(), cfg.Auth.Audience, logger)
	if err != nil {
		return nil, err
	}
	return v, nil
}
