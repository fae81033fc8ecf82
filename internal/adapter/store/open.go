// Package store selects and opens the configured job repository.
package store

import (
	"context"
	"log/slog"

	"github.com/cwygoda/extractd/internal/adapter/postgres"
	"github.com/cwygoda/extractd/internal/adapter/sqlite"
	"github.com/cwygoda/extractd/internal/config"
	"github.com/cwygoda/extractd/internal/domain"
)

// Open returns a Postgres repository when cfg.DatabaseURL is a postgres
// URL and a SQLite repository otherwise. The schema exists on return.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.JobRepository, error) {
	if cfg.UsePostgres() {
		logger.Info("using postgres store")
		repo, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DatabaseURL,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			DialTimeout:     cfg.Postgres.DialTimeout,
		}, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	path := cfg.SQLitePath()
	logger.Info("using sqlite store", "path", path)
	repo, err := sqlite.New(path, sqlite.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return repo, nil
}
