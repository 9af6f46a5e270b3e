package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/lox/aurorawatch/internal/httputil"
)

// webhookContentLimit is the longest message a Discord-compatible webhook
// accepts.
const webhookContentLimit = 2000

// Notifier delivers alert text. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, text string) error {
	log.Printf("notify: %s", text)
	return nil
}

// WebhookNotifier posts {"content": text} to a chat webhook.
type WebhookNotifier struct {
	client *http.Client
	url    string
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{client: httputil.NewClient(), url: url}
}

func (w *WebhookNotifier) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"content": truncateRunes(text, webhookContentLimit)})
	if err != nil {
		return err
	}
	_, _, err = httputil.Do(ctx, w.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	return nil
}

// MultiNotifier fans a message out to several notifiers and returns the
// first error.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, text string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, text); err != nil {
			log.Printf("notify: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
