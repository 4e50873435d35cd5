package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platepulse/recommender/internal/domain"
)

// MemoryStore is an in-process Store for tests and local development.
// Jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int64

	// PingErr, when set, is returned by Ping to simulate an unreachable backend.
	PingErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Add(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	clone := *job
	clone.seq = s.seq
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, queue string, now time.Time, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *Job
	for _, j := range s.jobs {
		if j.Queue != queue || j.State != StateWaiting || j.RunAt.After(now) {
			continue
		}
		if next == nil || before(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	until := now.Add(lease)
	next.State = StateActive
	next.AttemptsMade++
	next.LeaseUntil = &until
	next.UpdatedAt = now
	return cloneJob(next), nil
}

func (s *MemoryStore) Extend(_ context.Context, id string, attempt int, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, attempt)
	if err != nil {
		return err
	}
	j.LeaseUntil = &until
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, attempt int, result []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, attempt)
	if err != nil {
		return err
	}
	j.State = StateCompleted
	j.Result = append([]byte(nil), result...)
	j.LeaseUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, id string, attempt int, runAt time.Time, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, attempt)
	if err != nil {
		return err
	}
	j.State = StateWaiting
	j.RunAt = runAt
	j.LastError = reason
	j.LeaseUntil = nil
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, attempt int, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, attempt)
	if err != nil {
		return err
	}
	j.State = StateFailed
	j.LastError = reason
	j.LeaseUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

func (s *MemoryStore) RecoverExpired(_ context.Context, queue string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Queue != queue || j.State != StateActive || j.LeaseUntil == nil || !j.LeaseUntil.Before(now) {
			continue
		}
		j.LeaseUntil = nil
		j.LastError = "lease expired"
		j.UpdatedAt = now
		if j.Exhausted() {
			j.State = StateFailed
			j.FinishedAt = &now
		} else {
			j.State = StateWaiting
			j.RunAt = now
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) Trim(_ context.Context, queue string, r Retention, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed, failed []*Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case StateCompleted:
			completed = append(completed, j)
		case StateFailed:
			failed = append(failed, j)
		}
	}

	removed := 0
	drop := func(j *Job) {
		delete(s.jobs, j.ID)
		removed++
	}

	sortNewestFirst(completed)
	for i, j := range completed {
		if i >= r.CompletedCount || (r.CompletedAge > 0 && j.FinishedAt != nil && now.Sub(*j.FinishedAt) > r.CompletedAge) {
			drop(j)
		}
	}
	sortNewestFirst(failed)
	for i, j := range failed {
		if i >= r.FailedCount {
			drop(j)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Counts(_ context.Context, queue string, now time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case StateWaiting:
			if j.RunAt.After(now) {
				c.Delayed++
			} else {
				c.Waiting++
			}
		case StateActive:
			c.Active++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *MemoryStore) ListFailed(_ context.Context, queue string, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == StateFailed {
			out = append(out, cloneJob(j))
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PurgeFailed(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Queue == queue && j.State == StateFailed {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return s.PingErr
}

// Jobs returns a snapshot of every job of queue in insertion order.
func (s *MemoryStore) Jobs(queue string) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.Queue == queue {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].seq < out[k].seq })
	return out
}

// ---- helpers ----

// leased returns the job if attempt still owns it. Caller holds s.mu.
func (s *MemoryStore) leased(id string, attempt int) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok || j.State != StateActive || j.AttemptsMade != attempt {
		return nil, domain.ErrLeaseLost
	}
	return j, nil
}

// before reports whether a is claimed ahead of b: higher priority, then
// earlier run-at, then insertion order.
func before(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.seq < b.seq
}

func sortNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		if a.FinishedAt != nil && b.FinishedAt != nil && !a.FinishedAt.Equal(*b.FinishedAt) {
			return a.FinishedAt.After(*b.FinishedAt)
		}
		return a.seq > b.seq
	})
}

func cloneJob(j *Job) *Job {
	clone := *j
	clone.Payload = append([]byte(nil), j.Payload...)
	if j.Result != nil {
		clone.Result = append([]byte(nil), j.Result...)
	}
	return &clone
}
