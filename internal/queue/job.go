package queue

import (
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/platepulse/recommender/internal/domain"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Names lists every queue the application produces to or consumes from.
var Names = []string{domain.QueueRecommendations, domain.QueueEmails}

// Known reports whether name is one of the application queues.
func Known(name string) bool {
	return slices.Contains(Names, name)
}

// BackoffType selects how the retry delay grows with the attempt number.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff describes the delay before a failed job becomes eligible again.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// After returns the delay applied after the given (1-based) failed attempt:
// Delay * 2^(attemptsMade-1) for exponential backoff, Delay for fixed.
func (b Backoff) After(attemptsMade int) time.Duration {
	if b.Type == BackoffFixed || attemptsMade <= 1 {
		return b.Delay
	}
	exp := math.Min(float64(attemptsMade-1), 30)
	return time.Duration(float64(b.Delay) * math.Pow(2, exp))
}

// Defaults applied to every enqueued job unless overridden.
const (
	DefaultAttempts     = 3
	DefaultBackoffDelay = 2 * time.Second
)

// Options controls how a job is scheduled.
type Options struct {
	// Priority orders eligible jobs: higher values are claimed first.
	Priority int
	// Delay postpones eligibility of the job.
	Delay time.Duration
	// Attempts is the maximum number of deliveries, including the first.
	Attempts int
	Backoff  Backoff
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = DefaultBackoffDelay
	}
	return o
}

// Job is a durable unit of work.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	Priority     int             `json:"priority"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      Backoff         `json:"-"`
	RunAt        time.Time       `json:"runAt"`
	LeaseUntil   *time.Time      `json:"leaseUntil,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`

	seq int64
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

// Exhausted reports whether the current attempt was the last one allowed.
func (j *Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

// Counts is a snapshot of a queue's jobs by state. Delayed jobs are waiting
// jobs whose run-at lies in the future.
type Counts struct {
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Retention bounds how many finished jobs are kept for inspection.
type Retention struct {
	CompletedCount int
	CompletedAge   time.Duration
	FailedCount    int
}

// DefaultRetention keeps the newest 100 completed jobs for at most a day
// and the newest 50 failed jobs.
var DefaultRetention = Retention{
	CompletedCount: 100,
	CompletedAge:   24 * time.Hour,
	FailedCount:    50,
}
