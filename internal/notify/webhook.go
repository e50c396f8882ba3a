package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aatn/firegate/internal/config"
	"github.com/aatn/firegate/internal/fireconn"
)

// WebhookConfig holds webhook notification configuration
type WebhookConfig struct {
	URL         string
	Method      string            // HTTP method (POST, PUT, etc.)
	Headers     map[string]string // Custom headers
	ContentType string            // Content-Type header
}

// Webhook sends health transition notifications via HTTP
type Webhook struct {
	config WebhookConfig
	client *http.Client
}

// Transition is the payload sent when the health status changes
type Transition struct {
	ProjectID      string    `json:"project_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewWebhook creates a webhook notifier. Returns nil when no URL is configured,
// so callers can hold a nil notifier and skip sends.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.URL == "" {
		return nil
	}

	// Set defaults
	if cfg.Method == "" {
		cfg.Method = "POST"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return &Webhook{
		config: cfg,
		client: &http.Client{
			Timeout: config.GetTimeouts().HTTPClient,
		},
	}
}

// NotifyTransition sends the transition payload. Send failures are logged
// and swallowed; a health notification must never take the probe loop down.
func (w *Webhook) NotifyTransition(ctx context.Context, previous fireconn.Status, current fireconn.Result) {
	if w == nil {
		return
	}

	payload := Transition{
		ProjectID:      current.ProjectID,
		PreviousStatus: string(previous),
		Status:         string(current.Status),
		Error:          current.Error,
		OccurredAt:     current.CheckedAt,
	}

	if err := w.send(ctx, payload); err != nil {
		log.Error().Err(err).Str("url", w.config.URL).Msg("Failed to send health transition webhook")
		return
	}

	log.Debug().
		Str("previous", string(previous)).
		Str("status", string(current.Status)).
		Msg("Health transition webhook sent")
}

func (w *Webhook) send(ctx context.Context, payload Transition) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", w.config.ContentType)
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
