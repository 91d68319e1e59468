// Package pipeline turns raw collector items into scored, persisted events
// and decides which of them reach the dispatcher.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/config"
	"github.com/elonfeng/intelhub/internal/metrics"
	"github.com/elonfeng/intelhub/pkg/event"
	"github.com/elonfeng/intelhub/pkg/score"
)

// Store is the subset of the event store the pipeline needs.
type Store interface {
	Upsert(ctx context.Context, ev *event.Event) error
	ExistsRecentThrottled(ctx context.Context, threadKey string, window time.Duration) (bool, error)
}

// Outcome is what happened to one item.
type Outcome int

const (
	Expired Outcome = iota
	Blacklisted
	StoreFailed
	AlreadyPushed
	BelowThreshold
	Throttled
	Forwarded
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Expired:
		return "expired"
	case Blacklisted:
		return "blacklisted"
	case StoreFailed:
		return "store_failed"
	case AlreadyPushed:
		return "already_pushed"
	case BelowThreshold:
		return "below_threshold"
	case Throttled:
		return "throttled"
	case Forwarded:
		return "forward"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Ingest consumes RawItems and forwards notify-worthy events. It runs as a
// single goroutine so per-source order is preserved.
type Ingest struct {
	store  Store
	engine *score.Engine
	cfg    *config.Holder
	in     <-chan event.RawItem
	out    chan<- event.Event
	log    zerolog.Logger
	now    func() time.Time
}

// New creates an ingest stage reading from in and writing to out.
func New(st Store, engine *score.Engine, cfg *config.Holder, in <-chan event.RawItem, out chan<- event.Event, log zerolog.Logger) *Ingest {
	return &Ingest{
		store:  st,
		engine: engine,
		cfg:    cfg,
		in:     in,
		out:    out,
		log:    log,
		now:    time.Now,
	}
}

func (p *Ingest) String() string { return "ingest" }

// Serve processes items until ctx is cancelled or the input closes.
func (p *Ingest) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-p.in:
			if !ok {
				return nil
			}
			p.Process(ctx, item)
		}
	}
}

// Process runs one item through filter, score, persist and the notify
// decision. Failures are logged; the returned outcome is informational.
func (p *Ingest) Process(ctx context.Context, item event.RawItem) Outcome {
	cfg := p.cfg.Load().Config
	rules := p.engine.Load()

	now := p.now()
	nowMs := now.UnixMilli()
	retention := cfg.ParseRetention()

	published := item.PublishedAt
	if published <= 0 {
		published = nowMs
	}

	if retention > 0 && published < now.Add(-retention).UnixMilli() {
		p.log.Info().Str("source", item.SourceID).Str("headline", item.Headline).Msg("dropped expired item")
		metrics.ItemsFiltered.WithLabelValues("expired").Inc()
		return Expired
	}

	if reason, hit := rules.Blacklisted(item.SourceID, item.Headline); hit {
		p.log.Info().Str("source", item.SourceID).Str("rule", reason).Str("headline", item.Headline).Msg("dropped blacklisted item")
		metrics.ItemsFiltered.WithLabelValues("blacklisted").Inc()
		return Blacklisted
	}

	res := rules.Score(item.Headline)
	link := event.NormalizeLink(item.Link)

	ev := event.Event{
		ID:          event.ID(item.SourceID, link, item.Headline, published),
		DetectedAt:  nowMs,
		PublishedAt: published,
		Headline:    item.Headline,
		Source:      item.SourceID,
		Link:        link,
		Market:      cfg.Market,
		Symbols:     res.Symbols,
		Categories:  res.Categories,
		Tags:        res.Tags,
		Score:       res.Score,
		ThreadKey:   rules.ThreadKey(res, item.SourceID),
	}
	if retention > 0 {
		ev.ExpiresAt = now.Add(retention).UnixMilli()
	}
	metrics.EventScore.Observe(ev.Score)

	if err := p.store.Upsert(ctx, &ev); err != nil {
		p.log.Error().Err(err).Str("id", ev.ID).Msg("persist event failed")
		metrics.StoreErrors.WithLabelValues("upsert").Inc()
		return StoreFailed
	}
	metrics.EventsStored.Inc()

	if ev.Pushed {
		return p.decided(AlreadyPushed)
	}
	if ev.Score < cfg.ImportantThreshold {
		return p.decided(BelowThreshold)
	}

	dedupe := cfg.Notifier.ParseDedupe()
	throttled, err := p.store.ExistsRecentThrottled(ctx, ev.ThreadKey, dedupe)
	if err != nil {
		p.log.Warn().Err(err).Str("thread", ev.ThreadKey).Msg("throttle lookup failed")
		metrics.StoreErrors.WithLabelValues("throttle").Inc()
		throttled = false
	}
	if throttled {
		if ev.Score < cfg.CriticalThreshold {
			p.log.Debug().Str("id", ev.ID).Str("thread", ev.ThreadKey).Float64("score", ev.Score).Msg("throttled")
			return p.decided(Throttled)
		}
		p.log.Info().Str("id", ev.ID).Str("thread", ev.ThreadKey).Float64("score", ev.Score).Msg("escalation override")
		metrics.NotifyDecisions.WithLabelValues("escalated").Inc()
	}

	select {
	case p.out <- ev:
		return p.decided(Forwarded)
	case <-ctx.Done():
		return Cancelled
	}
}

func (p *Ingest) decided(o Outcome) Outcome {
	metrics.NotifyDecisions.WithLabelValues(o.String()).Inc()
	return o
}
