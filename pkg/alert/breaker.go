package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/elonfeng/intelhub/internal/metrics"
)

// BreakerSettings tune the circuit around a primary channel.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultBreaker opens after three consecutive failed sends and tries again
// after a minute.
var DefaultBreaker = BreakerSettings{FailureThreshold: 3, OpenTimeout: time.Minute}

// Guarded wraps a primary channel in a circuit breaker. While the circuit is
// open, messages go to the fallback channel instead.
type Guarded struct {
	primary  Channel
	fallback Channel
	cb       *gobreaker.CircuitBreaker[struct{}]
	log      zerolog.Logger
}

// NewGuarded creates a guarded channel with DefaultBreaker settings.
func NewGuarded(primary, fallback Channel, log zerolog.Logger) *Guarded {
	return NewGuardedWith(primary, fallback, DefaultBreaker, log)
}

// NewGuardedWith creates a guarded channel with explicit settings.
func NewGuardedWith(primary, fallback Channel, st BreakerSettings, log zerolog.Logger) *Guarded {
	g := &Guarded{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("channel", primary.Name()).Logger(),
	}
	g.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        primary.Name(),
		MaxRequests: 1,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			g.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
		},
	})
	metrics.BreakerState.WithLabelValues(primary.Name()).Set(float64(gobreaker.StateClosed))
	return g
}

func (g *Guarded) Name() string { return g.primary.Name() }

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

func (g *Guarded) Send(ctx context.Context, text string) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.primary.Send(ctx, text)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		return err
	}

	if g.fallback == nil {
		return fmt.Errorf("%s: %w", g.primary.Name(), ErrUnavailable)
	}
	g.log.Warn().Str("fallback", g.fallback.Name()).Msg("circuit open, using fallback")
	if ferr := g.fallback.Send(ctx, text); ferr != nil {
		return fmt.Errorf("%s: %w: %w", g.primary.Name(), ErrUnavailable, ferr)
	}
	return nil
}

func (g *Guarded) Close() error {
	var errs []error
	if err := g.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if g.fallback != nil {
		if err := g.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
