package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	poster  *poster
	chatID  string
	sendURL string
}

// NewTelegram creates a Telegram channel. apiURL defaults to the public Bot API.
func NewTelegram(token, chatID, apiURL string, opts Options) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Telegram{
		poster:  newPoster("telegram", opts, classifyTelegram),
		chatID:  chatID,
		sendURL: strings.TrimRight(apiURL, "/") + "/bot" + token + "/sendMessage",
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	return t.poster.post(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sendURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (t *Telegram) Close() error {
	t.poster.client.CloseIdleConnections()
	return nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// classifyTelegram prefers the retry_after hint in the response body over
// the computed backoff, and treats "ok": false on a 200 as a rejection.
func classifyTelegram(status int, header http.Header, body []byte) attemptResult {
	var tr telegramResponse
	parsed := json.Unmarshal(body, &tr) == nil

	res := classifyStatus(status, header, body)
	if res.ok && parsed && !tr.OK {
		return attemptResult{err: statusError(status, body)}
	}
	if res.retryable && parsed && tr.Parameters.RetryAfter > 0 {
		res.retryAfter = time.Duration(tr.Parameters.RetryAfter) * time.Second
	}
	return res
}
