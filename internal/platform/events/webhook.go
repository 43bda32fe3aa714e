package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookPublisher delivers each published event as a signed JSON POST to a
// single configured endpoint.
type WebhookPublisher struct {
	url    string
	secret string
	client *http.Client
	log    zerolog.Logger
}

// webhookEnvelope is the wire format of one delivered event.
type webhookEnvelope struct {
	ID        string            `json:"id"`
	Event     string            `json:"event"`
	Payload   map[string]string `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewWebhookPublisher creates a publisher posting to url. When secret is
// non-empty, deliveries carry an HMAC-SHA256 signature over the body.
func NewWebhookPublisher(url, secret string, log zerolog.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (w *WebhookPublisher) Publish(ctx context.Context, name string, payload map[string]string) error {
	env := webhookEnvelope{
		ID:        uuid.New().String(),
		Event:     name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", name)
	req.Header.Set("X-Event-ID", env.ID)
	if w.secret != "" {
		ts := strconv.FormatInt(env.Timestamp.Unix(), 10)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", Sign(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Error().Err(err).Str("event", name).Msg("webhook delivery failed")
		return fmt.Errorf("deliver event %s: %w", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.log.Error().Str("event", name).Int("status", resp.StatusCode).Msg("webhook delivery rejected")
		return fmt.Errorf("deliver event %s: endpoint returned %d", name, resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature of "timestamp.body" under
// secret, the scheme receivers verify against.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
