package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notifier is told about projects whose progress has stalled long enough
// to need a human.
type Notifier interface {
	NotifyStall(ctx context.Context, projectID, title string) error
}

// Log writes stall alerts to the structured log only.
type Log struct{}

func (Log) NotifyStall(_ context.Context, projectID, title string) error {
	slog.Warn("project stalled, escalating", "project", projectID, "title", title)
	return nil
}

// Webhook posts stall alerts as JSON to a fixed URL.
type Webhook struct {
	client *http.Client
	url    string
	now    func() time.Time
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		now:    time.Now,
	}
}

type stallEvent struct {
	Event     string    `json:"event"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	SentAt    time.Time `json:"sent_at"`
}

func (w *Webhook) NotifyStall(ctx context.Context, projectID, title string) error {
	body, err := json.Marshal(stallEvent{
		Event:     "project.stalled",
		ProjectID: projectID,
		Title:     title,
		SentAt:    w.now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("stall webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stall webhook: status %d: %s", resp.StatusCode, b)
	}
	return nil
}

// New returns a Webhook when url is set, otherwise Log.
func New(url string) Notifier {
	if url == "" {
		return Log{}
	}
	return NewWebhook(url)
}
