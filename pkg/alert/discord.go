package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// discordContentLimit is Discord's maximum message content length.
const discordContentLimit = 2000

// Discord sends notifications via Discord webhook.
type Discord struct {
	poster     *poster
	webhookURL string
}

// NewDiscord creates a new Discord channel.
func NewDiscord(webhookURL string, opts Options) *Discord {
	return &Discord{
		poster:     newPoster("discord", opts, nil),
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, text string) error {
	if utf8.RuneCountInString(text) > discordContentLimit {
		runes := []rune(text)
		text = string(runes[:discordContentLimit-3]) + "..."
	}

	body, err := json.Marshal(map[string]any{
		"content":          text,
		"allowed_mentions": map[string]any{"parse": []string{}},
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	return d.poster.post(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (d *Discord) Close() error {
	d.poster.client.CloseIdleConnections()
	return nil
}
