// Package source polls news feeds and hands raw items to the ingest queue.
package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/metrics"
	"github.com/elonfeng/intelhub/pkg/event"
)

const (
	userAgent = "intelhub/1.0"

	// maxBodyBytes caps a single feed response.
	maxBodyBytes = 10 << 20

	// seenCapacity bounds the per-poller memory of already emitted items.
	seenCapacity = 5000

	// maxRetryWait is the longest wait after a failed poll.
	maxRetryWait = 30 * time.Second
)

// Fetcher retrieves the current items of one feed.
type Fetcher interface {
	ID() string
	Fetch(ctx context.Context) ([]event.RawItem, error)
}

// StatusError is returned when a feed answers with a non-200 status.
type StatusError struct {
	Source string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source %s: status %d", e.Source, e.Status)
}

func newClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func get(ctx context.Context, client *http.Client, id, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", id, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Source: id, Status: resp.StatusCode}
	}
	return resp, nil
}

// Poller runs a Fetcher on an interval and forwards unseen items.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	out      chan<- event.RawItem
	log      zerolog.Logger
	seen     *seenSet
}

// NewPoller creates a poller. Sends on out block when the queue is full.
func NewPoller(f Fetcher, interval time.Duration, out chan<- event.RawItem, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		fetcher:  f,
		interval: interval,
		out:      out,
		log:      log.With().Str("source", f.ID()).Logger(),
		seen:     newSeenSet(seenCapacity),
	}
}

func (p *Poller) String() string { return "source:" + p.fetcher.ID() }

// Serve polls immediately, then on every interval, until ctx is cancelled.
func (p *Poller) Serve(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("poller started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		wait := p.interval
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = min(p.interval, maxRetryWait)
		}
		timer.Reset(wait)
	}
}

// Poll fetches once and forwards items not emitted before by this poller.
// It returns how many items were forwarded.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	id := p.fetcher.ID()

	items, err := p.fetcher.Fetch(ctx)
	if err != nil {
		metrics.CollectErrors.WithLabelValues(id).Inc()
		p.log.Warn().Err(err).Msg("poll failed")
		return 0, err
	}

	n := 0
	for _, item := range items {
		key := item.Link
		if key == "" {
			key = item.Headline
		}
		if !p.seen.Add(key) {
			continue
		}
		select {
		case p.out <- item:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}

	metrics.ItemsCollected.WithLabelValues(id).Add(float64(n))
	if n > 0 {
		p.log.Debug().Int("items", n).Msg("items forwarded")
	}
	return n, nil
}

// seenSet remembers up to cap keys, evicting the oldest first.
type seenSet struct {
	cap   int
	keys  map[string]struct{}
	order []string
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{cap: capacity, keys: make(map[string]struct{}, capacity)}
}

// Add records key and reports whether it was new.
func (s *seenSet) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keys, oldest)
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}
