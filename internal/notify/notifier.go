package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// dispatchTimeout bounds a single notification attempt. The channel is
// best-effort: a slow notification service must never delay an order
// transition.
const dispatchTimeout = 2 * time.Second

// Notifier sends email and SMS through the external notification
// service. Every dispatch is at-most-once and failures are logged and
// swallowed.
type Notifier struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(baseURL string, client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: dispatchTimeout}
	}
	return &Notifier{baseURL: baseURL, httpClient: client, logger: logger}
}

// SendEmail dispatches an email without blocking the caller. The spawned
// attempt uses its own timeout, detached from the caller's context so a
// finished request doesn't cancel the send.
func (n *Notifier) SendEmail(to, subject, body string) {
	go n.dispatch("/send/email", map[string]string{"to": to, "subject": subject, "body": body})
}

// SendSMS dispatches an SMS without blocking the caller.
func (n *Notifier) SendSMS(to, body string) {
	go n.dispatch("/send/sms", map[string]string{"to": to, "body": body})
}

func (n *Notifier) dispatch(path string, payload map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal notification", "error", err, "path", path)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(data))
	if err != nil {
		n.logger.Error("failed to create notification request", "error", err, "path", path)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("notification dispatch failed", "error", err, "path", path)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		n.logger.Error("notification service rejected dispatch", "error", fmt.Sprintf("status %d", resp.StatusCode), "path", path)
	}
}
