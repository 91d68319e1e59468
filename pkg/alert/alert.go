package alert

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrTerminal marks a rejection that retrying cannot fix (4xx other than 429).
	ErrTerminal = errors.New("delivery rejected")
	// ErrExhausted marks a transient failure that outlived the retry budget.
	ErrExhausted = errors.New("delivery retries exhausted")
	// ErrUnavailable is returned while a channel's circuit is open and no
	// fallback accepted the message.
	ErrUnavailable = errors.New("channel unavailable")
)

// Channel delivers formatted text to one destination. Send returns nil only
// when the destination accepted the message.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
	Close() error
}

// Options are shared by the HTTP-backed channels.
type Options struct {
	Retry RetryPolicy
	// RatePerSecond paces outbound requests; 0 means unlimited.
	RatePerSecond float64
	Client        *http.Client
	Log           zerolog.Logger
}

func (o Options) limiter() *rate.Limiter {
	if o.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(o.RatePerSecond), 1)
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return NewHTTPClient()
}

// NewHTTPClient returns a client with connect, TLS, response-header and
// overall timeouts. These are independent of the retry backoff.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 20 * time.Second}
}

// Selection describes which channel to build and its credentials.
type Selection struct {
	Channel string

	TelegramToken  string
	TelegramChatID string
	TelegramAPIURL string

	SlackWebhookURL   string
	DiscordWebhookURL string

	WebhookURL    string
	WebhookSecret string
}

// New builds the selected channel wrapped in a circuit breaker that falls
// back to stdout. When the selected channel lacks credentials, stdout is
// used directly.
func New(sel Selection, opts Options) Channel {
	sink := NewStdout(os.Stdout)

	var primary Channel
	switch sel.Channel {
	case "telegram":
		if sel.TelegramToken != "" && sel.TelegramChatID != "" {
			primary = NewTelegram(sel.TelegramToken, sel.TelegramChatID, sel.TelegramAPIURL, opts)
		}
	case "slack":
		if sel.SlackWebhookURL != "" {
			primary = NewSlack(sel.SlackWebhookURL, opts)
		}
	case "discord":
		if sel.DiscordWebhookURL != "" {
			primary = NewDiscord(sel.DiscordWebhookURL, opts)
		}
	case "webhook":
		if sel.WebhookURL != "" {
			primary = NewWebhook(sel.WebhookURL, sel.WebhookSecret, opts)
		}
	case "stdout":
		return sink
	}

	if primary == nil {
		opts.Log.Warn().Str("channel", sel.Channel).Msg("channel credentials missing, falling back to stdout")
		return sink
	}
	return NewGuarded(primary, sink, opts.Log)
}
