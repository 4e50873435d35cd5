package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SendRequest is the JSON body posted to the email API.
type SendRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// SendResponse maps the email API's accepted response body.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// WebhookTransport delivers email through an HTTP email API.
// The URL is injected from config so tests can point to a local mock.
type WebhookTransport struct {
	url    string
	from   string
	client *resty.Client
}

func NewWebhookTransport(url, apiKey, from string, timeout time.Duration) *WebhookTransport {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	client.SetTimeout(timeout)
	return &WebhookTransport{url: url, from: from, client: client}
}

// Send posts the email and expects a 2xx response.
func (t *WebhookTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	var sendResp SendResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(SendRequest{To: to, From: t.from, Subject: subject, HTML: htmlBody}).
		SetResult(&sendResp).
		Post(t.url)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("unexpected email api status: %d", resp.StatusCode())
	}
	return nil
}
