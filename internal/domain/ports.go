package domain

import "context"

// JobRepository is the driven port for job persistence.
//
// Every call runs in its own transaction. Get and Update report a missing
// job with ok == false and a nil error.
type JobRepository interface {
	Add(ctx context.Context, job *ExtractionJob) (*ExtractionJob, error)
	Get(ctx context.Context, id string) (job *ExtractionJob, ok bool, err error)
	Update(ctx context.Context, id string, mutate func(*ExtractionJob)) (job *ExtractionJob, ok bool, err error)
	List(ctx context.Context, filter ListFilter) ([]*ExtractionJob, error)
	Ping(ctx context.Context) error
	Close() error
}
