// Package postgres implements domain.JobRepository on PostgreSQL using
// pgx/v5 and a pgxpool connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwygoda/extractd/internal/adapter/sqlrow"
	"github.com/cwygoda/extractd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_job (
    id            VARCHAR(36)  PRIMARY KEY,
    document_id   VARCHAR(255) NOT NULL,
    status        VARCHAR(50)  NOT NULL,
    priority      INTEGER      NOT NULL,
    metadata      JSONB,
    error_message TEXT,
    created_at    VARCHAR(50)  NOT NULL,
    updated_at    VARCHAR(50)  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_job_document_id ON extraction_job (document_id);
CREATE INDEX IF NOT EXISTS idx_extraction_job_status ON extraction_job (status);
CREATE INDEX IF NOT EXISTS idx_extraction_job_created ON extraction_job (created_at, id);
`

var _ domain.JobRepository = (*Repository)(nil)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Repository implements domain.JobRepository using PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures the Repository.
type Option func(*Repository)

// WithLogger sets the logger for the repository.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// New connects to PostgreSQL and creates the schema if needed.
func New(ctx context.Context, cfg Config, opts ...Option) (*Repository, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "extractd"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	r := NewFromPool(pool, opts...)
	if err := r.Migrate(dialCtx); err != nil {
		pool.Close()
		return nil, err
	}
	r.logger.Info("postgres store connected", "host", pc.ConnConfig.Host, "database", pc.ConnConfig.Database)
	return r, nil
}

// NewFromPool wraps an existing pool. The caller is responsible for the schema.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Migrate creates the table and indexes. It is safe to call repeatedly.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Add inserts a new job.
func (r *Repository) Add(ctx context.Context, job *domain.ExtractionJob) (*domain.ExtractionJob, error) {
	row, err := sqlrow.FromJob(job)
	if err != nil {
		return nil, storageErr("add job", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO extraction_job (`+sqlrow.Columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			row.ID, row.DocumentID, row.Status, row.Priority,
			row.Metadata, row.ErrorMessage, row.CreatedAt, row.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("postgres: add job %s: %w", job.ID, domain.ErrConflict)
		}
		r.logger.Error("add job failed", "job_id", job.ID, "err", err)
		return nil, storageErr("add job", err)
	}
	return row.Job()
}

// Get retrieves a job by id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.ExtractionJob, bool, error) {
	var job *domain.ExtractionJob
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, storageErr("get job", err)
	}
	return job, job != nil, nil
}

// Update loads a job, applies mutate, and writes it back. Concurrent
// updates of the same job are last-writer-wins.
func (r *Repository) Update(ctx context.Context, id string, mutate func(*domain.ExtractionJob)) (*domain.ExtractionJob, bool, error) {
	var job *domain.ExtractionJob
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := getJob(ctx, tx, id)
		if err != nil || current == nil {
			return err
		}

		mutate(current)
		row, err := sqlrow.FromJob(current)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE extraction_job SET
				document_id = $2, status = $3, priority = $4,
				metadata = $5, error_message = $6, updated_at = $7
			WHERE id = $1`,
			id, row.DocumentID, row.Status, row.Priority,
			row.Metadata, row.ErrorMessage, row.UpdatedAt,
		)
		if err != nil {
			return err
		}
		job, err = row.Job()
		return err
	})
	if err != nil {
		r.logger.Error("update job failed", "job_id", id, "err", err)
		return nil, false, storageErr("update job", err)
	}
	return job, job != nil, nil
}

// List returns jobs matching filter ordered by creation time, then id.
func (r *Repository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.ExtractionJob, error) {
	query, args := listQuery(filter)

	var jobs []*domain.ExtractionJob
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		jobs, err = collectJobs(rows)
		return err
	})
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	return jobs, nil
}

func listQuery(filter domain.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DocumentID != nil {
		where = append(where, "document_id = "+arg(*filter.DocumentID))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}

	query := `SELECT ` + sqlrow.Columns + ` FROM extraction_job`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit != nil {
		query += " LIMIT " + arg(*filter.Limit)
	}
	if filter.Offset != nil && *filter.Offset > 0 {
		query += " OFFSET " + arg(*filter.Offset)
	}
	return query, args
}

func getJob(ctx context.Context, tx pgx.Tx, id string) (*domain.ExtractionJob, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+sqlrow.Columns+` FROM extraction_job WHERE id = $1`, id,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func scanJob(row pgx.Row) (*domain.ExtractionJob, error) {
	var r sqlrow.Row
	err := row.Scan(&r.ID, &r.DocumentID, &r.Status, &r.Priority,
		&r.Metadata, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r.Job()
}

func collectJobs(rows pgx.Rows) ([]*domain.ExtractionJob, error) {
	jobs := make([]*domain.ExtractionJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// isDuplicateKey checks for a unique_violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func storageErr(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrStorage, err)
}
