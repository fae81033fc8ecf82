package domain

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// CreateRequest carries the caller-supplied fields of a new job.
type CreateRequest struct {
	DocumentID string
	Priority   *int
	Metadata   map[string]any
}

// UpdateRequest is a partial patch. ErrorMessage is applied only when Set;
// a Set nil value clears the stored message.
type UpdateRequest struct {
	Status       string
	ErrorMessage Optional[*string]
}

// JobService applies business rules on top of a JobRepository.
type JobService struct {
	repo  JobRepository
	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Option configures a JobService.
type Option func(*JobService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *JobService) { s.now = now }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *JobService) { s.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *JobService) { s.log = log }
}

// NewJobService creates a new JobService.
func NewJobService(repo JobRepository, opts ...Option) *JobService {
	s := &JobService{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates req and persists a new pending job.
func (s *JobService) Create(ctx context.Context, req CreateRequest) (*ExtractionJob, error) {
	if req.DocumentID == "" {
		return nil, invalid("document_id", "must not be empty")
	}
	if utf8.RuneCountInString(req.DocumentID) > MaxDocumentIDLength {
		return nil, invalid("document_id", "must be at most %d characters", MaxDocumentIDLength)
	}
	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, invalid("priority", "must be between %d and %d", MinPriority, MaxPriority)
	}

	now := s.timestamp()
	job := &ExtractionJob{
		ID:         s.newID(),
		DocumentID: req.DocumentID,
		Status:     StatusPending,
		Priority:   priority,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.repo.Add(ctx, job)
	if err != nil {
		return nil, err
	}
	s.log.Info("extraction job created", "job_id", created.ID, "document_id", created.DocumentID, "priority", created.Priority)
	return created, nil
}

// Get retrieves a job by id.
func (s *JobService) Get(ctx context.Context, id string) (*ExtractionJob, bool, error) {
	return s.repo.Get(ctx, id)
}

// Update sets the status of a job and, when supplied, its error message.
func (s *JobService) Update(ctx context.Context, id string, req UpdateRequest) (*ExtractionJob, bool, error) {
	if !IsValidStatus(req.Status) {
		return nil, false, invalid("status", "must be one of pending, processing, completed, failed")
	}

	now := s.timestamp()
	job, ok, err := s.repo.Update(ctx, id, func(j *ExtractionJob) {
		j.Status = JobStatus(req.Status)
		if req.ErrorMessage.Set {
			j.ErrorMessage = req.ErrorMessage.Value
		}
		// updated_at must move strictly forward even if the clock has not.
		if !now.After(j.UpdatedAt) {
			j.UpdatedAt = j.UpdatedAt.Add(time.Microsecond)
		} else {
			j.UpdatedAt = now
		}
	})
	if err != nil || !ok {
		return job, ok, err
	}
	s.log.Info("extraction job updated", "job_id", job.ID, "status", job.Status)
	return job, true, nil
}

// List returns jobs matching filter in creation order.
func (s *JobService) List(ctx context.Context, filter ListFilter) ([]*ExtractionJob, error) {
	if filter.Limit != nil && *filter.Limit < 0 {
		return nil, invalid("limit", "must be greater than or equal to 0")
	}
	if filter.Offset != nil && *filter.Offset < 0 {
		return nil, invalid("offset", "must be greater than or equal to 0")
	}
	return s.repo.List(ctx, filter)
}

// Ping checks that the backing store is reachable.
func (s *JobService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// timestamp returns the current UTC time at the precision the store keeps.
func (s *JobService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
