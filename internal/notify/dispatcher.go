// Package notify decides when and how scored events are delivered: quiet
// hours, per-thread dedup, batch windows and message formatting.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/config"
	"github.com/elonfeng/intelhub/internal/metrics"
	"github.com/elonfeng/intelhub/pkg/alert"
	"github.com/elonfeng/intelhub/pkg/event"
)

// Store records successful deliveries.
type Store interface {
	MarkPushed(ctx context.Context, id string) error
}

// Outcome is what the dispatcher did with one event.
type Outcome string

const (
	Sent    Outcome = "sent"
	Failed  Outcome = "failed"
	Muted   Outcome = "muted"
	Deduped Outcome = "deduped"
	Batched Outcome = "batched"
)

// FlushTimeout bounds the shutdown flush of pending batches. The supervisor's
// stop timeout must exceed it.
const FlushTimeout = 8 * time.Second

type sendRecord struct {
	score float64
	at    time.Time
}

type batch struct {
	start time.Time
	best  event.Event
	count int
}

// settings is the dispatcher's view of one config snapshot.
type settings struct {
	version     uint64
	quiet       QuietHours
	dedupe      time.Duration
	batchWindow time.Duration
	refresh     time.Duration
	format      FormatOptions
}

// Dispatcher consumes forwarded events and delivers them through a channel.
// It runs as a single goroutine; the send and batch records are private to it.
type Dispatcher struct {
	in    <-chan event.Event
	ch    alert.Channel
	store Store
	cfg   *config.Holder
	log   zerolog.Logger
	now   func() time.Time

	set          settings
	lastRefresh  time.Time
	flushTimeout time.Duration
	running      sync.WaitGroup

	sent    map[string]sendRecord
	batches map[string]*batch
}

// New creates a dispatcher.
func New(in <-chan event.Event, ch alert.Channel, st Store, cfg *config.Holder, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		in:      in,
		ch:      ch,
		store:   st,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		sent:    make(map[string]sendRecord),
		batches: make(map[string]*batch),

		flushTimeout: FlushTimeout,
	}
	d.apply(cfg.Load())
	d.lastRefresh = d.now()
	return d
}

func (d *Dispatcher) String() string { return "dispatcher" }

// Serve delivers events until ctx is cancelled, then flushes pending batches.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.running.Add(1)
	defer d.running.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case ev, ok := <-d.in:
			if !ok {
				d.shutdown()
				return nil
			}
			d.refresh()
			d.Handle(ctx, ev)
		case <-ticker.C:
			d.refresh()
			d.FlushDue(ctx)
		}
	}
}

// Wait blocks until no Serve call is running, including its shutdown flush.
func (d *Dispatcher) Wait() { d.running.Wait() }

// Handle applies quiet hours, batching and dedup to one event.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) Outcome {
	now := d.now()

	if d.quiet(now) {
		d.sendMuted(ctx, ev, 0)
		return d.count(Muted)
	}

	if d.set.batchWindow > 0 && ev.ThreadKey != "" {
		d.addToBatch(ev, now)
		return d.count(Batched)
	}

	if d.duplicate(ev, now) {
		d.log.Debug().Str("id", ev.ID).Str("thread", ev.ThreadKey).Float64("score", ev.Score).Msg("deduplicated")
		return d.count(Deduped)
	}

	if err := d.deliver(ctx, ev, 0); err != nil {
		return d.count(Failed)
	}
	return d.count(Sent)
}

func (d *Dispatcher) quiet(now time.Time) bool {
	return d.set.quiet.Contains(now.In(d.set.format.Location))
}

// sendMuted delivers a marked copy without recording it as pushed or sent.
func (d *Dispatcher) sendMuted(ctx context.Context, ev event.Event, merged int) {
	opts := d.set.format
	opts.Muted = true
	opts.Merged = merged
	if err := d.ch.Send(ctx, Format(ev, opts)); err != nil {
		d.log.Warn().Err(err).Str("id", ev.ID).Msg("muted send failed")
	}
}

// duplicate reports whether a send for the same thread within the dedup
// window already carried a score at least as high.
func (d *Dispatcher) duplicate(ev event.Event, now time.Time) bool {
	if ev.ThreadKey == "" || d.set.dedupe <= 0 {
		return false
	}
	rec, ok := d.sent[ev.ThreadKey]
	if !ok || now.Sub(rec.at) > d.set.dedupe {
		return false
	}
	return rec.score >= ev.Score
}

func (d *Dispatcher) addToBatch(ev event.Event, now time.Time) {
	b, ok := d.batches[ev.ThreadKey]
	if !ok {
		d.batches[ev.ThreadKey] = &batch{start: now, best: ev, count: 1}
		metrics.PendingBatches.Set(float64(len(d.batches)))
		return
	}
	b.count++
	if ev.Score > b.best.Score {
		b.best = ev
	}
}

// FlushDue sends every batch whose window has elapsed.
func (d *Dispatcher) FlushDue(ctx context.Context) {
	now := d.now()
	for _, key := range d.batchKeys() {
		b := d.batches[key]
		if now.Sub(b.start) >= d.set.batchWindow {
			d.flush(ctx, key, b)
		}
	}
}

// FlushAll sends every pending batch regardless of age.
func (d *Dispatcher) FlushAll(ctx context.Context) {
	for _, key := range d.batchKeys() {
		d.flush(ctx, key, d.batches[key])
	}
}

func (d *Dispatcher) flush(ctx context.Context, key string, b *batch) {
	delete(d.batches, key)
	metrics.PendingBatches.Set(float64(len(d.batches)))
	if d.quiet(d.now()) {
		d.sendMuted(ctx, b.best, b.count)
		d.count(Muted)
		return
	}
	if err := d.deliver(ctx, b.best, b.count); err != nil {
		d.count(Failed)
		return
	}
	d.count(Sent)
}

func (d *Dispatcher) batchKeys() []string {
	keys := make([]string, 0, len(d.batches))
	for k := range d.batches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Dispatcher) deliver(ctx context.Context, ev event.Event, merged int) error {
	opts := d.set.format
	opts.Merged = merged

	if err := d.ch.Send(ctx, Format(ev, opts)); err != nil {
		d.log.Error().Err(err).Str("id", ev.ID).Str("thread", ev.ThreadKey).Msg("delivery failed")
		return err
	}

	if err := d.store.MarkPushed(ctx, ev.ID); err != nil {
		d.log.Error().Err(err).Str("id", ev.ID).Msg("mark pushed failed")
		metrics.StoreErrors.WithLabelValues("mark_pushed").Inc()
	}
	if ev.ThreadKey != "" {
		d.sent[ev.ThreadKey] = sendRecord{score: ev.Score, at: d.now()}
	}
	d.log.Info().Str("id", ev.ID).Str("thread", ev.ThreadKey).Float64("score", ev.Score).Int("merged", merged).Msg("delivered")
	return nil
}

func (d *Dispatcher) shutdown() {
	if len(d.batches) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.flushTimeout)
	defer cancel()
	d.log.Info().Int("pending", len(d.batches)).Msg("flushing batches")
	d.FlushAll(ctx)
}

// refresh picks up a newer config snapshot at most once per check interval.
func (d *Dispatcher) refresh() {
	now := d.now()
	if now.Sub(d.lastRefresh) < d.set.refresh {
		return
	}
	d.lastRefresh = now
	if snap := d.cfg.Load(); snap.Version != d.set.version {
		d.apply(snap)
		d.log.Info().Uint64("version", snap.Version).Msg("config refreshed")
	}
}

func (d *Dispatcher) apply(snap config.Snapshot) {
	cfg := snap.Config
	n := cfg.Notifier

	quiet, err := ParseQuietHours(n.QuietHours)
	if err != nil {
		d.log.Warn().Err(err).Msg("ignoring quiet hours")
	}

	d.set = settings{
		version:     snap.Version,
		quiet:       quiet,
		dedupe:      n.ParseDedupe(),
		batchWindow: n.ParseBatchWindow(),
		refresh:     cfg.Reload.ParseCheckInterval(),
		format: FormatOptions{
			Important: cfg.ImportantThreshold,
			Critical:  cfg.CriticalThreshold,
			Translate: n.Translate,
			MaxLen:    n.MaxMessageLen,
			Location:  n.Location(),
		},
	}
}

func (d *Dispatcher) count(o Outcome) Outcome {
	metrics.DispatchOutcomes.WithLabelValues(string(o)).Inc()
	return o
}
