package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cwygoda/extractd/internal/adapter/sqlrow"
	"github.com/cwygoda/extractd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_job (
    id            VARCHAR(36)  PRIMARY KEY,
    document_id   VARCHAR(255) NOT NULL,
    status        VARCHAR(50)  NOT NULL,
    priority      INTEGER      NOT NULL,
    metadata      JSON,
    error_message TEXT,
    created_at    VARCHAR(50)  NOT NULL,
    updated_at    VARCHAR(50)  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_job_document_id ON extraction_job(document_id);
CREATE INDEX IF NOT EXISTS idx_extraction_job_status ON extraction_job(status);
CREATE INDEX IF NOT EXISTS idx_extraction_job_created ON extraction_job(created_at, id);
`

var _ domain.JobRepository = (*Repository)(nil)

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db     *sql.DB
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

// New opens the SQLite database at dbPath, creating the parent directory
// and the schema if needed.
func New(dbPath string, opts ...Option) (*Repository, error) {
	r := &Repository{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, err
	}
	// One writer at a time; a read-then-write transaction on a second
	// connection would fail with SQLITE_BUSY instead of waiting.
	db.SetMaxOpenConns(1)
	r.db = db

	if err := r.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	r.logger.Debug("sqlite store opened", "path", dbPath)
	return r, nil
}

// dsn appends connection pragmas. busy_timeout covers other processes
// holding the file lock.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Migrate creates the table and indexes. It is safe to call repeatedly.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Add inserts a new job.
func (r *Repository) Add(ctx context.Context, job *domain.ExtractionJob) (*domain.ExtractionJob, error) {
	row, err := sqlrow.FromJob(job)
	if err != nil {
		return nil, storageErr("add job", err)
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO extraction_job (`+sqlrow.Columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.DocumentID, row.Status, row.Priority,
			metadataArg(row.Metadata), row.ErrorMessage, row.CreatedAt, row.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("sqlite: add job %s: %w", job.ID, domain.ErrConflict)
		}
		r.logger.Error("add job failed", "job_id", job.ID, "err", err)
		return nil, storageErr("add job", err)
	}
	return row.Job()
}

// Get retrieves a job by id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.ExtractionJob, bool, error) {
	var job *domain.ExtractionJob
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, storageErr("get job", err)
	}
	return job, job != nil, nil
}

// Update loads a job, applies mutate, and writes it back.
func (r *Repository) Update(ctx context.Context, id string, mutate func(*domain.ExtractionJob)) (*domain.ExtractionJob, bool, error) {
	var job *domain.ExtractionJob
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getJob(ctx, tx, id)
		if err != nil || current == nil {
			return err
		}

		mutate(current)
		row, err := sqlrow.FromJob(current)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE extraction_job
			 SET document_id = ?, status = ?, priority = ?, metadata = ?, error_message = ?, updated_at = ?
			 WHERE id = ?`,
			row.DocumentID, row.Status, row.Priority, metadataArg(row.Metadata),
			row.ErrorMessage, row.UpdatedAt, id,
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
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		jobs = make([]*domain.ExtractionJob, 0)
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
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
	if filter.DocumentID != nil {
		where = append(where, "document_id = ?")
		args = append(args, *filter.DocumentID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}

	query := `SELECT ` + sqlrow.Columns + ` FROM extraction_job`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	// SQLite only accepts OFFSET after a LIMIT; -1 means no limit.
	limit := -1
	if filter.Limit != nil {
		limit = *filter.Limit
	}
	offset := 0
	if filter.Offset != nil {
		offset = *filter.Offset
	}
	if limit >= 0 || offset > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	return query, args
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error.
func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Warn("rollback failed", "err", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func getJob(ctx context.Context, tx *sql.Tx, id string) (*domain.ExtractionJob, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+sqlrow.Columns+` FROM extraction_job WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.ExtractionJob, error) {
	var (
		row      sqlrow.Row
		metadata sql.NullString
		errMsg   sql.NullString
	)
	err := s.Scan(&row.ID, &row.DocumentID, &row.Status, &row.Priority,
		&metadata, &errMsg, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if metadata.Valid {
		row.Metadata = []byte(metadata.String)
	}
	if errMsg.Valid {
		row.ErrorMessage = &errMsg.String
	}
	return row.Job()
}

// metadataArg stores metadata as TEXT rather than BLOB so it stays
// readable by SQLite's JSON functions.
func metadataArg(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func isDuplicateKey(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return false
}

func storageErr(op string, err error) error {
	return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrStorage, err)
}
