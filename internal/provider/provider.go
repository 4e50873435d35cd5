package provider

import (
	"context"

	"go.uber.org/zap"
)

// Transport abstracts delivery of one email to an external service.
// Mocking this interface in tests gives full control over delivery behaviour
// without opening real connections.
type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogTransport only logs the email. Used in development when no SMTP server
// or email API is configured.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, to, subject, htmlBody string) error {
	t.logger.Info("email not delivered (log transport)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

// compile-time checks
var (
	_ Transport = (*LogTransport)(nil)
	_ Transport = (*SMTPTransport)(nil)
	_ Transport = (*WebhookTransport)(nil)
	_ Transport = (*MockTransport)(nil)
)
