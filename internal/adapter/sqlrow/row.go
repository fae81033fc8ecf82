// Package sqlrow maps extraction jobs to and from rows of the
// extraction_job table. It is shared by the SQLite and Postgres adapters.
package sqlrow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

// Columns lists the table columns in scan order.
const Columns = "id, document_id, status, priority, metadata, error_message, created_at, updated_at"

// TimeLayout is the on-disk timestamp format. The fixed width keeps
// lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Row is an extraction job in column form.
type Row struct {
	ID           string
	DocumentID   string
	Status       string
	Priority     int
	Metadata     []byte // raw JSON, nil for NULL
	ErrorMessage *string
	CreatedAt    string
	UpdatedAt    string
}

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Rows written by other tools may carry plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

// FromJob converts a job into its row form.
func FromJob(job *domain.ExtractionJob) (Row, error) {
	row := Row{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		Status:       string(job.Status),
		Priority:     job.Priority,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    FormatTime(job.CreatedAt),
		UpdatedAt:    FormatTime(job.UpdatedAt),
	}
	if job.Metadata != nil {
		b, err := json.Marshal(job.Metadata)
		if err != nil {
			return Row{}, fmt.Errorf("encode metadata: %w", err)
		}
		row.Metadata = b
	}
	return row, nil
}

// Job converts the row back into a job.
func (r Row) Job() (*domain.ExtractionJob, error) {
	job := &domain.ExtractionJob{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		Status:       domain.JobStatus(r.Status),
		Priority:     r.Priority,
		ErrorMessage: r.ErrorMessage,
	}

	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		// Numbers stay json.Number so large integers survive unchanged.
		dec := json.NewDecoder(bytes.NewReader(r.Metadata))
		dec.UseNumber()
		if err := dec.Decode(&job.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of job %s: %w", r.ID, err)
		}
	}

	var err error
	if job.CreatedAt, err = ParseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("decode created_at of job %s: %w", r.ID, err)
	}
	if job.UpdatedAt, err = ParseTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at of job %s: %w", r.ID, err)
	}
	return job, nil
}
