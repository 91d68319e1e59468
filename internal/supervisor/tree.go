// Package supervisor runs the long-lived services under a suture tree so a
// crashed collector or dispatcher is restarted instead of taking the
// process down.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Config tunes restart behaviour.
type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns the restart settings used by the run command.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree groups services into collect, process and api layers under one root.
type Tree struct {
	root    *suture.Supervisor
	collect *suture.Supervisor
	process *suture.Supervisor
	api     *suture.Supervisor
}

// New builds the tree. Zero fields in cfg fall back to DefaultConfig.
func New(name string, cfg Config, log zerolog.Logger) *Tree {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		EventHook:        EventHook(log),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &Tree{
		root:    suture.New(name, spec),
		collect: suture.New("collect", spec),
		process: suture.New("process", spec),
		api:     suture.New("api", spec),
	}
	t.root.Add(t.process)
	t.root.Add(t.collect)
	t.root.Add(t.api)
	return t
}

// AddCollector adds a feed poller.
func (t *Tree) AddCollector(svc suture.Service) suture.ServiceToken { return t.collect.Add(svc) }

// AddProcessor adds a pipeline stage, the dispatcher, a watcher or the housekeeper.
func (t *Tree) AddProcessor(svc suture.Service) suture.ServiceToken { return t.process.Add(svc) }

// AddAPI adds the HTTP server.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx is cancelled. A cancellation is a clean stop and
// returns nil.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// EventHook logs supervisor events through zerolog.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var ev *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic:
			ev = log.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeStopTimeout:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
