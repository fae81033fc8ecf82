package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

const (
	maxBodyBytes  = 1 << 20
	timeLayout    = "2006-01-02T15:04:05.000000Z"
	healthTimeout = 2 * time.Second
)

// createJobRequest is the request body for POST /extraction-jobs.
// Priority is decoded as a float so that 3.0 is accepted as 3; the
// schema has already checked it is integral.
type createJobRequest struct {
	DocumentID string         `json:"document_id"`
	Priority   *float64       `json:"priority"`
	Metadata   map[string]any `json:"metadata"`
}

// updateJobRequest is the request body for PATCH /extraction-jobs/{job_id}.
type updateJobRequest struct {
	Status       string                   `json:"status"`
	ErrorMessage domain.Optional[*string] `json:"error_message"`
}

// JobResponse is the JSON form of an extraction job.
type JobResponse struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage *string        `json:"error_message"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// NewJobResponse converts job to its JSON form.
func NewJobResponse(job *domain.ExtractionJob) JobResponse {
	return JobResponse{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		Status:       string(job.Status),
		Priority:     job.Priority,
		Metadata:     job.Metadata,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    job.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(createJobSchema, body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var req createJobRequest
	if err := decodeJSON(body, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	cr := domain.CreateRequest{
		DocumentID: req.DocumentID,
		Metadata:   req.Metadata,
	}
	if req.Priority != nil {
		p := int(*req.Priority)
		cr.Priority = &p
	}

	job, err := s.svc.Create(r.Context(), cr)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, NewJobResponse(job))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, ok, err := s.svc.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !ok {
		s.writeServiceError(w, r, domain.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, NewJobResponse(job))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(updateJobSchema, body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var req updateJobRequest
	if err := decodeJSON(body, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	job, found, err := s.svc.Update(r.Context(), r.PathValue("job_id"), domain.UpdateRequest{
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !found {
		s.writeServiceError(w, r, domain.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, NewJobResponse(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.ListFilter
	if q.Has("document_id") {
		v := q.Get("document_id")
		filter.DocumentID = &v
	}
	if q.Has("status") {
		v := q.Get("status")
		filter.Status = &v
	}

	var err error
	if filter.Limit, err = intParam(q, "limit"); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if filter.Offset, err = intParam(q, "offset"); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	jobs, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, NewJobResponse(job))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.svc.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check failed", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody reads the request body, writing an error response and
// returning false if it cannot.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// intParam parses an optional integer query parameter.
func intParam(q map[string][]string, name string) (*int, error) {
	vals, ok := q[name]
	if !ok || len(vals) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return nil, &domain.ValidationError{Field: name, Message: "must be an integer"}
	}
	return &n, nil
}
