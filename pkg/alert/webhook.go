package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Webhook sends notifications to a generic HTTP endpoint.
type Webhook struct {
	poster *poster
	url    string
	secret string
	now    func() time.Time
}

// NewWebhook creates a new generic webhook channel.
func NewWebhook(url, secret string, opts Options) *Webhook {
	return &Webhook{
		poster: newPoster("webhook", opts, nil),
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// WebhookPayload is the JSON body posted to generic webhooks.
type WebhookPayload struct {
	Text   string `json:"text"`
	SentAt int64  `json:"sent_at"`
}

func (w *Webhook) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(WebhookPayload{Text: text, SentAt: w.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var sig string
	// HMAC signature for verification.
	if w.secret != "" {
		sig = "sha256=" + Sign(w.secret, body)
	}

	return w.poster.post(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "intelhub/1.0")
		if sig != "" {
			req.Header.Set("X-Signature-256", sig)
		}
		return req, nil
	})
}

func (w *Webhook) Close() error {
	w.poster.client.CloseIdleConnections()
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
