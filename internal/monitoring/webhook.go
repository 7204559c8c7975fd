package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Webhook POSTs alerts as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}
	return nil
}
