package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/config"
	"github.com/elonfeng/intelhub/pkg/event"
	"github.com/elonfeng/intelhub/pkg/score"
)

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]event.Event
	throttled map[string]bool
	upsertErr error
	upserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]event.Event{}, throttled: map[string]bool{}}
}

func (f *fakeStore) Upsert(_ context.Context, ev *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if old, ok := f.rows[ev.ID]; ok && old.Pushed {
		ev.Pushed = true
	}
	f.rows[ev.ID] = *ev
	return nil
}

func (f *fakeStore) ExistsRecentThrottled(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.throttled[key], nil
}

func (f *fakeStore) markPushed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.rows[id]
	ev.Pushed = true
	f.rows[id] = ev
}

type harness struct {
	ingest *Ingest
	store  *fakeStore
	out    chan event.Event
	now    time.Time
}

func newHarness(t *testing.T, rs score.RuleSet, mutate func(*config.Config)) *harness {
	t.Helper()
	rules, err := score.Compile(rs)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		store: newFakeStore(),
		out:   make(chan event.Event, 10),
		now:   time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	}
	h.ingest = New(h.store, score.NewEngine(rules), config.NewHolder(cfg), nil, h.out, zerolog.Nop())
	h.ingest.now = func() time.Time { return h.now }
	return h
}

func ptr(f float64) *float64 { return &f }

func defaultRules() score.RuleSet {
	return score.RuleSet{
		Tiers:            score.Tiers{Tier1: []string{"contract"}},
		Negatives:        []string{"lawsuit"},
		Watchlist:        []string{"NVDA"},
		SourceBlacklist:  []string{"spam"},
		KeywordBlacklist: []string{"sponsored"},
		Weights: score.WeightSpec{
			Base: ptr(20), Tier1: ptr(50), WatchlistBonus: ptr(10), Negative: ptr(0),
		},
	}
}

func TestProcessEndToEnd(t *testing.T) {
	h := newHarness(t, defaultRules(), func(c *config.Config) { c.ImportantThreshold = 70 })
	ctx := context.Background()

	item := event.RawItem{
		Headline: "NVDA secures $2B government AI contract",
		Link:     "https://news.example.com/a?utm_source=x",
		SourceID: "feedA",
	}
	if got := h.ingest.Process(ctx, item); got != Forwarded {
		t.Fatalf("outcome = %v, want forward", got)
	}

	ev := <-h.out
	if ev.Score != 80 {
		t.Errorf("score = %v", ev.Score)
	}
	if ev.ThreadKey != "NVDA|contract" {
		t.Errorf("thread key = %q", ev.ThreadKey)
	}
	if ev.Link != "https://news.example.com/a" {
		t.Errorf("link = %q", ev.Link)
	}
	if ev.PublishedAt != h.now.UnixMilli() {
		t.Error("missing publish time should default to detection time")
	}
	if ev.ExpiresAt != h.now.Add(48*time.Hour).UnixMilli() {
		t.Errorf("expires = %d", ev.ExpiresAt)
	}
	if ev.ID != event.ID("feedA", "https://news.example.com/a", item.Headline, ev.PublishedAt) {
		t.Error("id not derived from canonical link")
	}

	// Delivered once: the dispatcher marks it pushed, re-ingest is not forwarded.
	h.store.markPushed(ev.ID)
	if got := h.ingest.Process(ctx, item); got != AlreadyPushed {
		t.Errorf("re-ingest outcome = %v, want already_pushed", got)
	}
	if len(h.out) != 0 {
		t.Error("event forwarded twice")
	}
	if len(h.store.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(h.store.rows))
	}
}

func TestProcessFilters(t *testing.T) {
	h := newHarness(t, defaultRules(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		item event.RawItem
		want Outcome
	}{
		{
			name: "expired",
			item: event.RawItem{Headline: "NVDA contract", SourceID: "feedA",
				PublishedAt: h.now.Add(-49 * time.Hour).UnixMilli()},
			want: Expired,
		},
		{
			name: "blacklisted source",
			item: event.RawItem{Headline: "NVDA contract", SourceID: "spam"},
			want: Blacklisted,
		},
		{
			name: "blacklisted keyword",
			item: event.RawItem{Headline: "Sponsored NVDA contract", SourceID: "feedA"},
			want: Blacklisted,
		},
		{
			name: "below threshold",
			item: event.RawItem{Headline: "Quiet market day", SourceID: "feedA"},
			want: BelowThreshold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.store.upserts
			if got := h.ingest.Process(ctx, tt.item); got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}
			if tt.want != BelowThreshold && h.store.upserts != before {
				t.Error("filtered item must not be stored")
			}
		})
	}
}

func TestEscalationOverride(t *testing.T) {
	rs := score.RuleSet{
		Tiers:   score.Tiers{Tier1: []string{"contract"}},
		Weights: score.WeightSpec{Base: ptr(60), Tier1: ptr(35)},
	}
	h := newHarness(t, rs, func(c *config.Config) {
		c.ImportantThreshold = 50
		c.CriticalThreshold = 90
	})
	ctx := context.Background()
	h.store.throttled["feedA|contract"] = true
	h.store.throttled["feedA|general"] = true

	if got := h.ingest.Process(ctx, event.RawItem{Headline: "Major contract win", SourceID: "feedA"}); got != Forwarded {
		t.Errorf("score 95 outcome = %v, want forward", got)
	}
	if got := h.ingest.Process(ctx, event.RawItem{Headline: "Routine update", SourceID: "feedA"}); got != Throttled {
		t.Errorf("score 60 outcome = %v, want throttled", got)
	}
	if len(h.out) != 1 {
		t.Errorf("forwarded = %d, want 1", len(h.out))
	}
}

func TestStoreFailureContinues(t *testing.T) {
	h := newHarness(t, defaultRules(), nil)
	h.store.upsertErr = errors.New("disk full")
	in := make(chan event.RawItem, 2)
	h.ingest.in = in
	in <- event.RawItem{Headline: "NVDA contract", SourceID: "feedA", Link: "https://x/1"}
	in <- event.RawItem{Headline: "NVDA contract again", SourceID: "feedA", Link: "https://x/2"}
	close(in)

	if err := h.ingest.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if h.store.upserts != 2 {
		t.Errorf("upserts = %d, want both items attempted", h.store.upserts)
	}
	if len(h.out) != 0 {
		t.Error("nothing should be forwarded when persistence fails")
	}
}

func TestForwardHonoursCancellation(t *testing.T) {
	h := newHarness(t, defaultRules(), nil)
	h.ingest.out = make(chan event.Event) // unbuffered, nobody reading

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome)
	go func() {
		done <- h.ingest.Process(ctx, event.RawItem{Headline: "NVDA contract", SourceID: "feedA"})
	}()
	cancel()

	select {
	case got := <-done:
		if got != Cancelled {
			t.Errorf("outcome = %v, want cancelled", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process blocked after cancellation")
	}
}
