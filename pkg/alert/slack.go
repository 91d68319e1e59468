package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	poster     *poster
	webhookURL string
}

// NewSlack creates a new Slack channel.
func NewSlack(webhookURL string, opts Options) *Slack {
	return &Slack{
		poster:     newPoster("slack", opts, nil),
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{"text": text, "mrkdwn": false})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	return s.poster.post(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (s *Slack) Close() error {
	s.poster.client.CloseIdleConnections()
	return nil
}
