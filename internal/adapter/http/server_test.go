package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cwygoda/extractd/internal/adapter/auth"
	"github.com/cwygoda/extractd/internal/adapter/sqlite"
	"github.com/cwygoda/extractd/internal/domain"
)

const goodToken = "good-token"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeVerifier accepts goodToken and fails everything else with err.
type fakeVerifier struct {
	err error
}

func (f fakeVerifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	if token == goodToken {
		return auth.Claims{"sub": "tester"}, nil
	}
	return nil, f.err
}

type testEnv struct {
	srv  *Server
	repo *sqlite.Repository
}

func setupTestServer(t *testing.T, verifier auth.Verifier, opts ...Option) *testEnv {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "jobs.db"), sqlite.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	// Each call advances the clock so creation order is unambiguous.
	var tick atomic.Int64
	clock := func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}
	svc := domain.NewJobService(repo, domain.WithLogger(discard), domain.WithClock(clock))
	opts = append([]Option{WithLogger(discard)}, opts...)
	return &testEnv{srv: NewServer(svc, verifier, ":0", opts...), repo: repo}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+goodToken)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) JobResponse {
	t.Helper()
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Detail
}

func (e *testEnv) create(t *testing.T, body string) JobResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/extraction-jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJob(t, rec)
}

func TestServer_Create(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	rec := env.do(t, http.MethodPost, "/extraction-jobs", `{"document_id":"doc-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	raw := rec.Body.String()
	job := decodeJob(t, rec)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "doc-1", job.DocumentID)
	assert.Equal(t, "pending", job.Status)
	assert.Equal(t, 0, job.Priority)
	assert.Nil(t, job.Metadata)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
	assert.Contains(t, raw, `"metadata":null`)
	assert.Contains(t, raw, `"error_message":null`)

	_, err := time.Parse(time.RFC3339Nano, job.CreatedAt)
	assert.NoError(t, err)
}

func TestServer_Create_PriorityAndMetadata(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	job := env.create(t, `{"document_id":"doc-1","priority":3.0,"metadata":{"source":"email","pages":[1,2]}}`)
	assert.Equal(t, 3, job.Priority)
	assert.Equal(t, map[string]any{"source": "email", "pages": []any{float64(1), float64(2)}}, job.Metadata)

	second := env.create(t, `{"document_id":"doc-1","priority":10}`)
	assert.NotEqual(t, job.ID, second.ID)
}

func TestServer_Create_MetadataNumbersExact(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	rec := env.do(t, http.MethodPost, "/extraction-jobs",
		`{"document_id":"d1","metadata":{"n":9007199254740993,"big":12345678901234567890,"f":0.1}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID       string          `json:"id"`
		Metadata json.RawMessage `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Contains(t, string(created.Metadata), `"n":9007199254740993`)
	assert.Contains(t, string(created.Metadata), `"big":12345678901234567890`)

	rec = env.do(t, http.MethodGet, "/extraction-jobs/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"n":9007199254740993`)
	assert.Contains(t, rec.Body.String(), `"big":12345678901234567890`)
	assert.Contains(t, rec.Body.String(), `"f":0.1`)
}

func TestServer_Create_MultibyteDocumentID(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	id := strings.Repeat("é", 255)
	job := env.create(t, `{"document_id":"`+id+`"}`)
	assert.Equal(t, id, job.DocumentID)

	rec := env.do(t, http.MethodPost, "/extraction-jobs", `{"document_id":"`+strings.Repeat("é", 256)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "document_id")
}

func TestServer_Create_Validation(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{"missing document_id", `{"priority":1}`, 422, "body"},
		{"empty document_id", `{"document_id":""}`, 422, "document_id"},
		{"null document_id", `{"document_id":null}`, 422, "document_id"},
		{"long document_id", `{"document_id":"` + strings.Repeat("x", 256) + `"}`, 422, "document_id"},
		{"priority too high", `{"document_id":"d","priority":11}`, 422, "priority"},
		{"priority negative", `{"document_id":"d","priority":-1}`, 422, "priority"},
		{"priority fractional", `{"document_id":"d","priority":2.5}`, 422, "priority"},
		{"priority string", `{"document_id":"d","priority":"high"}`, 422, "priority"},
		{"priority null", `{"document_id":"d","priority":null}`, 422, "priority"},
		{"metadata array", `{"document_id":"d","metadata":[1]}`, 422, "metadata"},
		{"not an object", `["d"]`, 422, "body"},
		{"malformed json", `{"document_id":`, 422, "invalid JSON"},
		{"trailing data", `{"document_id":"d"} {}`, 422, "invalid JSON"},
		{"empty body", ``, 422, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/extraction-jobs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decodeDetail(t, rec), tt.wantDetail)
		})
	}

	rec := env.do(t, http.MethodGet, "/extraction-jobs", "")
	assert.JSONEq(t, `[]`, rec.Body.String(), "rejected requests must not persist anything")
}

func TestServer_Create_BodyTooLarge(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	big := `{"document_id":"d","metadata":{"blob":"` + strings.Repeat("a", maxBodyBytes) + `"}}`
	rec := env.do(t, http.MethodPost, "/extraction-jobs", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_Get(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	created := env.create(t, `{"document_id":"doc-1","priority":4,"metadata":{"nested":{"ok":true},"n":null}}`)

	rec := env.do(t, http.MethodGet, "/extraction-jobs/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeJob(t, rec))
}

func TestServer_Get_NotFound(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	rec := env.do(t, http.MethodGet, "/extraction-jobs/nonexistent-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Extraction job not found", decodeDetail(t, rec))
}

func TestServer_Update(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})
	created := env.create(t, `{"document_id":"doc-1"}`)
	path := "/extraction-jobs/" + created.ID

	rec := env.do(t, http.MethodPatch, path, `{"status":"failed","error_message":"OCR timeout"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeJob(t, rec)
	assert.Equal(t, "failed", updated.Status)
	require.NotNil(t, updated.ErrorMessage)
	assert.Equal(t, "OCR timeout", *updated.ErrorMessage)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Greater(t, updated.UpdatedAt, created.UpdatedAt)

	// Omitting error_message keeps it.
	rec = env.do(t, http.MethodPatch, path, `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	kept := decodeJob(t, rec)
	require.NotNil(t, kept.ErrorMessage)
	assert.Equal(t, "OCR timeout", *kept.ErrorMessage)
	assert.Greater(t, kept.UpdatedAt, updated.UpdatedAt)

	// An explicit null clears it.
	rec = env.do(t, http.MethodPatch, path, `{"status":"completed","error_message":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decodeJob(t, rec)
	assert.Nil(t, cleared.ErrorMessage)

	rec = env.do(t, http.MethodGet, path, "")
	assert.Equal(t, cleared, decodeJob(t, rec))
}

func TestServer_Update_Validation(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})
	created := env.create(t, `{"document_id":"doc-1"}`)
	path := "/extraction-jobs/" + created.ID

	tests := []struct {
		name string
		body string
	}{
		{"unknown status", `{"status":"invalid_status"}`},
		{"missing status", `{"error_message":"x"}`},
		{"status wrong case", `{"status":"PENDING"}`},
		{"error_message number", `{"status":"failed","error_message":5}`},
		{"malformed", `{"status":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPatch, path, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}

	rec := env.do(t, http.MethodGet, path, "")
	assert.Equal(t, created, decodeJob(t, rec), "rejected updates must not change the job")
}

func TestServer_Update_NotFound(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	rec := env.do(t, http.MethodPatch, "/extraction-jobs/nonexistent-id", `{"status":"completed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Extraction job not found", decodeDetail(t, rec))
}

func TestServer_List(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	a := env.create(t, `{"document_id":"doc-a"}`)
	b := env.create(t, `{"document_id":"doc-b"}`)
	c := env.create(t, `{"document_id":"doc-a"}`)
	rec := env.do(t, http.MethodPatch, "/extraction-jobs/"+b.ID, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	list := func(query string) []string {
		t.Helper()
		rec := env.do(t, http.MethodGet, "/extraction-jobs"+query, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var jobs []JobResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		return ids
	}

	assert.Equal(t, []string{a.ID, b.ID, c.ID}, list(""))
	assert.Equal(t, []string{a.ID, c.ID}, list("?document_id=doc-a"))
	assert.Equal(t, []string{b.ID}, list("?status=completed"))
	assert.Equal(t, []string{c.ID}, list("?document_id=doc-a&status=pending&offset=1"))
	assert.Equal(t, []string{a.ID}, list("?limit=1"))
	assert.Equal(t, []string{b.ID, c.ID}, list("?offset=1"))
	assert.Equal(t, []string{}, list("?limit=0"))
	assert.Equal(t, []string{}, list("?status=bogus"))
	assert.Equal(t, []string{}, list("?document_id=missing"))

	rec = env.do(t, http.MethodGet, "/extraction-jobs?document_id=missing", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestServer_List_BadPaging(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	for _, q := range []string{"limit=-1", "offset=-1", "limit=abc", "offset=1.5"} {
		t.Run(q, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/extraction-jobs?"+q, "")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			field := strings.SplitN(q, "=", 2)[0]
			assert.Contains(t, decodeDetail(t, rec), field)
		})
	}
}

func TestServer_Auth(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{err: auth.ErrInvalidToken})
	expiredEnv := setupTestServer(t, fakeVerifier{err: auth.ErrTokenExpired})

	tests := []struct {
		name       string
		env        *testEnv
		header     string
		wantDetail string
	}{
		{"no header", env, "", "Missing or invalid Authorization header"},
		{"basic scheme", env, "Basic dXNlcjpwYXNz", "Missing or invalid Authorization header"},
		{"lowercase scheme", env, "bearer " + goodToken, "Missing or invalid Authorization header"},
		{"empty token", env, "Bearer    ", "Missing token"},
		{"invalid token", env, "Bearer nope", "Invalid token"},
		{"expired token", expiredEnv, "Bearer old", "Token has expired"},
	}

	routes := []struct{ method, path, body string }{
		{http.MethodPost, "/extraction-jobs", `{"document_id":"d"}`},
		{http.MethodGet, "/extraction-jobs", ""},
		{http.MethodGet, "/extraction-jobs/some-id", ""},
		{http.MethodPatch, "/extraction-jobs/some-id", `{"status":"completed"}`},
	}

	for _, tt := range tests {
		for _, rt := range routes {
			t.Run(tt.name+" "+rt.method+" "+rt.path, func(t *testing.T) {
				req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(rt.body))
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				rec := httptest.NewRecorder()
				tt.env.srv.ServeHTTP(rec, req)

				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Equal(t, tt.wantDetail, decodeDetail(t, rec))
			})
		}
	}

	jobs, err := env.repo.List(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "unauthenticated requests must not reach the store")
}

func TestServer_AuthDisabled(t *testing.T) {
	env := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/extraction-jobs", strings.NewReader(`{"document_id":"d"}`))
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_LogsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	env := setupTestServer(t, fakeVerifier{}, WithLogger(logger))

	env.create(t, `{"document_id":"d"}`)
	assert.Contains(t, buf.String(), "sub=tester")

	buf.Reset()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	env.srv.ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, buf.String(), "http request")
	assert.NotContains(t, buf.String(), "sub=")
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{err: auth.ErrInvalidToken})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, env.repo.Close())

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestServer_StorageFailureIs500(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})
	require.NoError(t, env.repo.Close())

	rec := env.do(t, http.MethodGet, "/extraction-jobs/any", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeDetail(t, rec))
}

func TestServer_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	env := setupTestServer(t, fakeVerifier{}, WithTracer(tp.Tracer("test")))

	env.create(t, `{"document_id":"doc-1"}`)
	require.NoError(t, env.repo.Close())
	env.do(t, http.MethodGet, "/extraction-jobs/any", "")

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "POST /extraction-jobs", spans[0].Name())
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(201), attrs["http.response.status_code"].AsInt64())
	assert.Equal(t, "POST /extraction-jobs", attrs["http.route"].AsString())

	assert.Equal(t, "GET /extraction-jobs/{job_id}", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestServer_Port(t *testing.T) {
	env := setupTestServer(t, nil)
	assert.Equal(t, 0, env.srv.Port())
	assert.Equal(t, ":0", env.srv.Addr())
}

// TestServer_EndToEnd walks a job through its whole lifecycle.
func TestServer_EndToEnd(t *testing.T) {
	env := setupTestServer(t, fakeVerifier{})

	job := env.create(t, `{"document_id":"invoice-42","priority":7,"metadata":{"pages":3}}`)

	rec := env.do(t, http.MethodGet, "/extraction-jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job, decodeJob(t, rec))

	rec = env.do(t, http.MethodPatch, "/extraction-jobs/"+job.ID, `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPatch, "/extraction-jobs/"+job.ID, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeJob(t, rec)

	rec = env.do(t, http.MethodGet, "/extraction-jobs?document_id=invoice-42&status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, done, jobs[0])
	assert.Equal(t, 7, jobs[0].Priority)
	assert.Equal(t, map[string]any{"pages": float64(3)}, jobs[0].Metadata)
}
