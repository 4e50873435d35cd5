package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/platepulse/recommender/internal/domain"
)

const jobColumns = `
	id, seq, queue, payload, state, priority, attempts_made, max_attempts,
	backoff_type, backoff_delay, run_at, lease_until, COALESCE(last_error, ''),
	result, created_at, updated_at, finished_at`

// PgStore is the PostgreSQL Store. Concurrent claims never hand out the same
// job: the candidate row is selected with FOR UPDATE SKIP LOCKED.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Add(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, queue, payload, state, priority, attempts_made, max_attempts,
			 backoff_type, backoff_delay, run_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		job.ID, job.Queue, []byte(job.Payload), job.State, job.Priority, job.AttemptsMade,
		job.MaxAttempts, job.Backoff.Type, job.Backoff.Delay.Milliseconds(), job.RunAt,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("add job: %w", err)
	}
	return nil
}

func (s *PgStore) Claim(ctx context.Context, queue string, now time.Time, lease time.Duration) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'active', attempts_made = attempts_made + 1,
		    lease_until = $3, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = 'waiting' AND run_at <= $2
			ORDER BY priority DESC, run_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+jobColumns,
		queue, now, now.Add(lease))

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PgStore) Extend(ctx context.Context, id string, attempt int, until time.Time) error {
	return s.fenced(ctx, "extend lease", `
		UPDATE jobs SET lease_until = $3
		WHERE id = $1 AND attempts_made = $2 AND state = 'active'`,
		id, attempt, until)
}

func (s *PgStore) Complete(ctx context.Context, id string, attempt int, result []byte, now time.Time) error {
	return s.fenced(ctx, "complete job", `
		UPDATE jobs
		SET state = 'completed', result = $3, lease_until = NULL,
		    updated_at = $4, finished_at = $4
		WHERE id = $1 AND attempts_made = $2 AND state = 'active'`,
		id, attempt, result, now)
}

func (s *PgStore) Retry(ctx context.Context, id string, attempt int, runAt time.Time, reason string, now time.Time) error {
	return s.fenced(ctx, "retry job", `
		UPDATE jobs
		SET state = 'waiting', run_at = $3, last_error = $4, lease_until = NULL,
		    updated_at = $5
		WHERE id = $1 AND attempts_made = $2 AND state = 'active'`,
		id, attempt, runAt, reason, now)
}

func (s *PgStore) Fail(ctx context.Context, id string, attempt int, reason string, now time.Time) error {
	return s.fenced(ctx, "fail job", `
		UPDATE jobs
		SET state = 'failed', last_error = $3, lease_until = NULL,
		    updated_at = $4, finished_at = $4
		WHERE id = $1 AND attempts_made = $2 AND state = 'active'`,
		id, attempt, reason, now)
}

func (s *PgStore) RecoverExpired(ctx context.Context, queue string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state       = CASE WHEN attempts_made >= max_attempts THEN 'failed' ELSE 'waiting' END,
		    finished_at = CASE WHEN attempts_made >= max_attempts THEN $2::timestamptz ELSE NULL END,
		    run_at      = $2,
		    lease_until = NULL,
		    last_error  = 'lease expired',
		    updated_at  = $2
		WHERE queue = $1 AND state = 'active' AND lease_until < $2`,
		queue, now)
	if err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgStore) Trim(ctx context.Context, queue string, r Retention, now time.Time) (int, error) {
	cutoff := now.Add(-r.CompletedAge)
	if r.CompletedAge <= 0 {
		cutoff = time.Time{}
	}

	completed, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE queue = $1 AND state = 'completed'
		  AND (finished_at < $2 OR id IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = 'completed'
			ORDER BY finished_at DESC, seq DESC
			OFFSET $3
		  ))`,
		queue, cutoff, r.CompletedCount)
	if err != nil {
		return 0, fmt.Errorf("trim completed jobs: %w", err)
	}

	failed, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = 'failed'
			ORDER BY finished_at DESC, seq DESC
			OFFSET $2
		)`,
		queue, r.FailedCount)
	if err != nil {
		return 0, fmt.Errorf("trim failed jobs: %w", err)
	}
	return int(completed.RowsAffected() + failed.RowsAffected()), nil
}

func (s *PgStore) Counts(ctx context.Context, queue string, now time.Time) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'waiting' AND run_at <= $2),
			COUNT(*) FILTER (WHERE state = 'waiting' AND run_at > $2),
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state = 'failed')
		FROM jobs WHERE queue = $1`,
		queue, now,
	).Scan(&c.Waiting, &c.Delayed, &c.Active, &c.Completed, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	return c, nil
}

func (s *PgStore) ListFailed(ctx context.Context, queue string, limit int) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM jobs
		WHERE queue = $1 AND state = 'failed'
		ORDER BY finished_at DESC, seq DESC
		LIMIT $2`, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PgStore) PurgeFailed(ctx context.Context, queue string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE queue = $1 AND state = 'failed'`, queue)
	if err != nil {
		return 0, fmt.Errorf("purge failed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ---- helpers ----

// fenced runs an update guarded by the attempt number and maps "no row" to
// ErrLeaseLost.
func (s *PgStore) fenced(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var payload, result []byte
	var backoffMs int64
	err := row.Scan(
		&j.ID, &j.seq, &j.Queue, &payload, &j.State, &j.Priority, &j.AttemptsMade,
		&j.MaxAttempts, &j.Backoff.Type, &backoffMs, &j.RunAt, &j.LeaseUntil,
		&j.LastError, &result, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Result = result
	j.Backoff.Delay = time.Duration(backoffMs) * time.Millisecond
	return &j, nil
}
