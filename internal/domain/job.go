package domain

import "time"

// JobStatus represents the processing state of an extraction job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Statuses lists every allowed status in lifecycle order.
var Statuses = []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Priority bounds, inclusive.
const (
	MinPriority = 0
	MaxPriority = 10
)

// MaxDocumentIDLength matches the width of the document_id column.
const MaxDocumentIDLength = 255

// IsValidStatus reports whether s is one of the allowed job statuses.
func IsValidStatus(s string) bool {
	for _, st := range Statuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// ExtractionJob is a request to extract data from a single document.
type ExtractionJob struct {
	ID           string
	DocumentID   string
	Status       JobStatus
	Priority     int
	Metadata     map[string]any
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListFilter selects and pages through jobs. Nil fields are not applied.
type ListFilter struct {
	DocumentID *string
	Status     *string
	Limit      *int
	Offset     *int
}
