// Package webhooks posts signed experiment notifications to subscriber URLs.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"vrpbench/internal/metrics"
)

// Target is one subscriber. Deliveries to a target with a secret carry an
// X-Signature header with the hex HMAC-SHA256 of the body.
type Target struct {
	URL    string `yaml:"url" json:"url"`
	Secret string `yaml:"secret,omitempty" json:"-"`
}

type Notifier struct {
	Targets     []Target
	HTTP        *http.Client
	MaxAttempts int
	// Backoff returns the wait after a failed attempt.
	Backoff func(attempts int) time.Duration
	Logger  *log.Logger
}

func NewNotifier(targets []Target, maxAttempts int, logger *log.Logger) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Notifier{
		Targets:     targets,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Backoff:     nextBackoff,
		Logger:      logger,
	}
}

// Notify delivers one event to every target, retrying each until it
// answers 2xx or MaxAttempts is spent. The error joins the failed targets.
func (n *Notifier) Notify(ctx context.Context, eventType string, data any) error {
	if n == nil || len(n.Targets) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"id":   "evt_" + uuid.NewString(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var errs []error
	for _, t := range n.Targets {
		err := n.deliver(ctx, t, eventType, body)
		outcome := "delivered"
		if err != nil {
			outcome = "failed"
			errs = append(errs, fmt.Errorf("%s: %w", t.URL, err))
		}
		metrics.WebhookDeliveries.WithLabelValues(eventType, outcome).Inc()
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, t Target, eventType string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < n.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(n.Backoff(attempt - 1)):
			}
		}
		start := time.Now()
		code, err := n.post(ctx, t, eventType, body)
		if err == nil && code >= 200 && code < 300 {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("status %d", code)
		}
		lastErr = err
		if n.Logger != nil {
			n.Logger.Printf("[WEBHOOK] %s attempt %d/%d failed after %v: %v", t.URL, attempt+1, n.MaxAttempts, time.Since(start), err)
		}
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, t Target, eventType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	if t.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(t.Secret, body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Minute {
		base = time.Minute
	}
	return base
}
