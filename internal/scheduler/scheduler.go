package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/metrics"
)

// DefaultSweepSchedule runs the expiry sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper removes expired rows.
type Sweeper interface {
	DeleteExpired(ctx context.Context, nowMs int64) (int64, error)
}

// Housekeeper runs the periodic expiry sweep on a cron schedule.
type Housekeeper struct {
	store    Sweeper
	schedule cron.Schedule
	spec     string
	log      zerolog.Logger
	now      func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a housekeeper. spec is a five-field cron expression or a
// descriptor such as "@every 10m"; empty means DefaultSweepSchedule.
func New(s Sweeper, spec string, log zerolog.Logger) (*Housekeeper, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return &Housekeeper{
		store:    s,
		schedule: sched,
		spec:     spec,
		log:      log,
		now:      time.Now,
	}, nil
}

func (h *Housekeeper) String() string { return "housekeeper" }

// Serve runs the sweep on schedule until ctx is cancelled.
func (h *Housekeeper) Serve(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(h.schedule, cron.FuncJob(func() {
		h.Sweep(ctx)
	}))

	h.log.Info().Str("schedule", h.spec).Msg("housekeeper running")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep deletes expired events once and returns how many were removed.
func (h *Housekeeper) Sweep(ctx context.Context) (int64, error) {
	n, err := h.store.DeleteExpired(ctx, h.now().UnixMilli())
	if err != nil {
		h.log.Error().Err(err).Msg("expiry sweep failed")
		metrics.StoreErrors.WithLabelValues("delete_expired").Inc()
		return 0, err
	}
	metrics.EventsExpired.Add(float64(n))
	if n > 0 {
		h.log.Info().Int64("deleted", n).Msg("expired events removed")
	}
	return n, nil
}
