package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/platepulse/recommender/internal/domain"
	"github.com/platepulse/recommender/internal/provider"
	"github.com/platepulse/recommender/internal/queue"
	"github.com/platepulse/recommender/internal/ratelimiter"
)

// EmailHandler renders and sends one recommendation email per job. Every
// goroutine of the email worker shares the same Window, so the send rate is
// bounded across the whole pool.
//
// Sending is not idempotent: a retry after a send whose acknowledgement was
// lost delivers the email twice.
type EmailHandler struct {
	transport provider.Transport
	renderer  *provider.Renderer
	limiter   *ratelimiter.Window
	logger    *zap.Logger
	now       func() time.Time

	onSent func()
}

// NewEmailHandler constructs the handler. onSent is optional (nil = no-op).
func NewEmailHandler(
	transport provider.Transport,
	renderer *provider.Renderer,
	limiter *ratelimiter.Window,
	logger *zap.Logger,
	onSent func(),
) *EmailHandler {
	if onSent == nil {
		onSent = func() {}
	}
	return &EmailHandler{
		transport: transport, renderer: renderer, limiter: limiter,
		logger: logger, now: time.Now, onSent: onSent,
	}
}

// Handle sends the email described by the job. Transport errors are returned
// so the queue retries the job.
func (h *EmailHandler) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var payload domain.EmailJob
	if err := job.Decode(&payload); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	subject, body, err := h.renderer.Render(&payload)
	if err != nil {
		return nil, err
	}

	// Block until the shared window grants a slot.
	if _, err := h.limiter.Take(ctx); err != nil {
		return nil, err
	}

	if err := h.transport.Send(ctx, payload.UserEmail, subject, body); err != nil {
		return nil, fmt.Errorf("send email to user %d: %w", payload.UserID, err)
	}

	h.onSent()
	h.logger.Info("recommendation email sent",
		zap.Int64("user_id", payload.UserID),
		zap.Int("recommendations", len(payload.Recommendations)),
	)
	return domain.EmailResult{
		UserID:    payload.UserID,
		Email:     payload.UserEmail,
		Status:    "sent",
		Timestamp: h.now().UTC(),
	}, nil
}
