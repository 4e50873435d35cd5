package provider

import (
	"context"
	"sync"
)

// SentEmail records one call to MockTransport.Send.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockTransport is a hand-written Transport for tests. It records every
// successful send.
type MockTransport struct {
	mu   sync.Mutex
	sent []SentEmail

	// SendErr, when set, decides the outcome of each call (nil = success).
	SendErr func(to string) error
}

func (m *MockTransport) Send(_ context.Context, to, subject, htmlBody string) error {
	if m.SendErr != nil {
		if err := m.SendErr(to); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

// Sent returns a copy of the recorded emails.
func (m *MockTransport) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}
