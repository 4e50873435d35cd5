package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platepulse/recommender/internal/domain"
)

// Client is the producer side of the queue.
type Client struct {
	store Store
	now   func() time.Time
}

func NewClient(store Store) *Client {
	return &Client{store: store, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Enqueue durably stores payload on queueName and returns the new job ID.
func (c *Client) Enqueue(ctx context.Context, queueName string, payload any, opts Options) (string, error) {
	if !Known(queueName) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownQueue, queueName)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	opts = opts.withDefaults()
	now := c.now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Payload:     body,
		State:       StateWaiting,
		Priority:    opts.Priority,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.Add(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Counts returns the per-state job counts of queueName.
func (c *Client) Counts(ctx context.Context, queueName string) (Counts, error) {
	if !Known(queueName) {
		return Counts{}, domain.ErrUnknownQueue
	}
	return c.store.Counts(ctx, queueName, c.now().UTC())
}

// Failed lists the newest terminally failed jobs of queueName.
func (c *Client) Failed(ctx context.Context, queueName string, limit int) ([]*Job, error) {
	if !Known(queueName) {
		return nil, domain.ErrUnknownQueue
	}
	return c.store.ListFailed(ctx, queueName, limit)
}

// PurgeFailed deletes every terminally failed job of queueName.
func (c *Client) PurgeFailed(ctx context.Context, queueName string) (int, error) {
	if !Known(queueName) {
		return 0, domain.ErrUnknownQueue
	}
	return c.store.PurgeFailed(ctx, queueName)
}

// Ping reports domain.ErrQueueUnavailable when the backend cannot be reached.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}
