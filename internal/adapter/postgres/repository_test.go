//go:build integration

package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cwygoda/extractd/internal/domain"
)

// setupTestRepo starts a Postgres container and returns a connected Repository.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("extractd_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := New(ctx, Config{DSN: connStr, MaxConns: 4, DialTimeout: 10 * time.Second},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newJob(id, doc string, offset time.Duration) *domain.ExtractionJob {
	ts := base.Add(offset)
	return &domain.ExtractionJob{
		ID:         id,
		DocumentID: doc,
		Status:     domain.StatusPending,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func strPtr(s string) *string { return &s }
func intPtr(v int) *int       { return &v }

func TestRepository_Lifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Ping(ctx))

	job := newJob("a1", "d1", 0)
	job.Priority = 5
	job.Metadata = map[string]any{"source": "upload", "tags": []any{"x", "y"}}

	added, err := repo.Add(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, job, added)

	_, err = repo.Add(ctx, newJob("a1", "d2", time.Second))
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, ok, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job, got)

	updated, ok, err := repo.Update(ctx, "a1", func(j *domain.ExtractionJob) {
		j.Status = domain.StatusFailed
		j.ErrorMessage = strPtr("boom")
		j.UpdatedAt = base.Add(time.Minute)
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err = repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, ok, err = repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.Update(ctx, "missing", func(*domain.ExtractionJob) {})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_List(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		doc := "doc-2"
		if i%2 == 0 {
			doc = "doc-1"
		}
		_, err := repo.Add(ctx, newJob(fmt.Sprintf("j%d", i), doc, time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter domain.ListFilter
		want   []string
	}{
		{"all", domain.ListFilter{}, []string{"j0", "j1", "j2", "j3", "j4"}},
		{"by document", domain.ListFilter{DocumentID: strPtr("doc-1")}, []string{"j0", "j2", "j4"}},
		{"by status", domain.ListFilter{Status: strPtr("failed")}, []string{}},
		{"limit zero", domain.ListFilter{Limit: intPtr(0)}, []string{}},
		{"offset", domain.ListFilter{Offset: intPtr(3)}, []string{"j3", "j4"}},
		{"page", domain.ListFilter{Limit: intPtr(2), Offset: intPtr(1)}, []string{"j1", "j2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			got := make([]string, 0, len(jobs))
			for _, j := range jobs {
				got = append(got, j.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
