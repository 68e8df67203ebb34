// Package notify delivers approval and timeout notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// WebhookTimeout is the maximum time to wait for a webhook request.
const WebhookTimeout = 10 * time.Second

// Event represents the type of notification event.
type Event string

const (
	// EventApprovalPending is sent when a statement enters an approval workflow.
	EventApprovalPending Event = "approval_pending"
	// EventApprovalResolved is sent when a pending approval resolves.
	EventApprovalResolved Event = "approval_resolved"
	// EventExecutionTimeout is sent when an in-flight execution times out.
	EventExecutionTimeout Event = "execution_timeout"
)

// Payload is the JSON payload sent to webhook URLs.
type Payload struct {
	Event     Event  `json:"event"`
	SubjectID string `json:"subject_id"`
	Statement string `json:"statement,omitempty"`
	Principal string `json:"principal,omitempty"`
	Server    string `json:"server,omitempty"`
	RiskLevel string `json:"risk_level,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Notifier delivers one notification. Implementations must never block the
// decision path for long; callers wrap sends in their own goroutine or
// timeout context.
type Notifier interface {
	Send(ctx context.Context, payload Payload) error
}

// Noop discards all notifications.
type Noop struct{}

// Send implements Notifier.
func (Noop) Send(context.Context, Payload) error { return nil }

// Webhook posts payloads to one configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier with a sending timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: WebhookTimeout,
		},
	}
}

// Send posts the payload as JSON. Non-2xx responses are errors.
func (w *Webhook) Send(ctx context.Context, payload Payload) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sqlgate-webhook/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	// Accept 2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Manager fans notifications out without blocking the caller. Send failures
// are logged, never propagated.
type Manager struct {
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// NewManager creates a notification manager. A nil notifier discards.
func NewManager(notifier Notifier, logger *log.Logger) *Manager {
	if notifier == nil {
		notifier = Noop{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{notifier: notifier, logger: logger, now: time.Now}
}

// Notify sends the payload in the background with its own timeout context.
func (m *Manager) Notify(event Event, payload Payload) {
	payload.Event = event
	payload.Statement = truncateStatement(payload.Statement)
	payload.Timestamp = m.now().UTC().Format(time.RFC3339)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), WebhookTimeout)
		defer cancel()

		if err := m.notifier.Send(ctx, payload); err != nil {
			m.logger.Warn("notification failed",
				"event", event,
				"subject", payload.SubjectID,
				"error", err)
			return
		}
		m.logger.Debug("notification sent",
			"event", event,
			"subject", payload.SubjectID)
	}()
}

func truncateStatement(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 140 {
		return s[:140] + "…"
	}
	return s
}
