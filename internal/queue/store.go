package queue

import (
	"context"
	"time"
)

// Store is the durable backend shared by producers and workers. Workers
// coordinate only through it.
//
// Claim increments the attempt counter of the job it returns; every later
// write for that delivery passes the same attempt number and fails with
// domain.ErrLeaseLost when the job has moved on (lease expired and the job
// was redelivered).
type Store interface {
	Add(ctx context.Context, job *Job) error

	// Claim leases the next eligible job of queue until now+lease.
	// It returns (nil, nil) when no job is eligible.
	Claim(ctx context.Context, queue string, now time.Time, lease time.Duration) (*Job, error)
	Extend(ctx context.Context, id string, attempt int, until time.Time) error
	Complete(ctx context.Context, id string, attempt int, result []byte, now time.Time) error
	Retry(ctx context.Context, id string, attempt int, runAt time.Time, reason string, now time.Time) error
	Fail(ctx context.Context, id string, attempt int, reason string, now time.Time) error

	// RecoverExpired returns active jobs whose lease ran out to waiting, or
	// to failed when no attempts remain.
	RecoverExpired(ctx context.Context, queue string, now time.Time) (int, error)
	Trim(ctx context.Context, queue string, r Retention, now time.Time) (int, error)

	Counts(ctx context.Context, queue string, now time.Time) (Counts, error)
	ListFailed(ctx context.Context, queue string, limit int) ([]*Job, error)
	PurgeFailed(ctx context.Context, queue string) (int, error)
	Ping(ctx context.Context) error
}
