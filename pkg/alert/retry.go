package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/elonfeng/intelhub/internal/metrics"
)

// RetryPolicy bounds delivery attempts. The n-th retry waits
// min(Base*2^(n-1), Max) plus up to Jitter, unless the server asked for a
// specific delay.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
}

// DefaultRetry mirrors the default notifier config.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, Base: 2 * time.Second, Max: 30 * time.Second, Jitter: 600 * time.Millisecond}

// Delay returns the wait after a failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration, jitter float64) time.Duration {
	d := retryAfter
	if d <= 0 {
		d = p.Base << (attempt - 1)
		if d <= 0 { // overflow
			d = p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d + time.Duration(jitter*float64(p.Jitter))
}

// bodyPreviewLimit caps how much of a rejected response is logged.
const bodyPreviewLimit = 300

// attemptResult classifies one HTTP exchange.
type attemptResult struct {
	ok         bool
	retryable  bool
	retryAfter time.Duration
	err        error
}

// classifyFunc inspects a response. The default treats 2xx as success, 429
// and 5xx as retryable, everything else as terminal.
type classifyFunc func(status int, header http.Header, body []byte) attemptResult

// poster runs POSTs with pacing, retries and classification.
type poster struct {
	name     string
	client   *http.Client
	policy   RetryPolicy
	limiter  *rate.Limiter
	log      zerolog.Logger
	classify classifyFunc

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

func newPoster(name string, opts Options, classify classifyFunc) *poster {
	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetry
	}
	if classify == nil {
		classify = classifyStatus
	}
	return &poster{
		name:     name,
		client:   opts.client(),
		policy:   policy,
		limiter:  opts.limiter(),
		log:      opts.Log.With().Str("channel", name).Logger(),
		classify: classify,
		sleep:    sleepCtx,
		jitter:   rand.Float64,
	}
}

// post sends the request built by newReq until it succeeds, fails terminally
// or runs out of attempts. newReq is called once per attempt.
func (p *poster) post(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) error {
	var lastErr error

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate wait: %w", p.name, err)
		}

		req, err := newReq(ctx)
		if err != nil {
			return fmt.Errorf("create %s request: %w", p.name, err)
		}

		res := p.do(req)
		if res.ok {
			metrics.DeliveryAttempts.WithLabelValues(p.name, "ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !res.retryable {
			metrics.DeliveryAttempts.WithLabelValues(p.name, "terminal").Inc()
			p.log.Error().Err(res.err).Int("attempt", attempt).Msg("delivery rejected")
			return fmt.Errorf("%s: %w: %w", p.name, ErrTerminal, res.err)
		}

		metrics.DeliveryAttempts.WithLabelValues(p.name, "retry").Inc()
		lastErr = res.err
		if attempt == p.policy.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.policy.Delay(attempt, res.retryAfter, p.jitter())); err != nil {
			return err
		}
	}

	p.log.Error().Err(lastErr).Int("attempts", p.policy.MaxAttempts).Msg("delivery failed")
	return fmt.Errorf("%s: %w after %d attempts: %w", p.name, ErrExhausted, p.policy.MaxAttempts, lastErr)
}

func (p *poster) do(req *http.Request) attemptResult {
	resp, err := p.client.Do(req)
	if err != nil {
		return attemptResult{retryable: true, err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return attemptResult{retryable: true, err: fmt.Errorf("read response: %w", err)}
	}
	return p.classify(resp.StatusCode, resp.Header, body)
}

func classifyStatus(status int, header http.Header, body []byte) attemptResult {
	switch {
	case status >= 200 && status < 300:
		return attemptResult{ok: true}
	case status == http.StatusTooManyRequests || status >= 500:
		return attemptResult{
			retryable:  true,
			retryAfter: parseRetryAfter(header.Get("Retry-After")),
			err:        statusError(status, body),
		}
	default:
		return attemptResult{err: statusError(status, body)}
	}
}

// HTTPStatusError carries a non-success response.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

func statusError(status int, body []byte) error {
	if len(body) > bodyPreviewLimit {
		body = body[:bodyPreviewLimit]
	}
	return &HTTPStatusError{Status: status, Body: string(body)}
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.Status == status
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
