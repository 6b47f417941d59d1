// Package actor implements the runtime described by the core's concurrency
// model: every subsystem (MQTT client, entity store, workflow engine,
// plugin runner, file-transfer service, mapper, health) is one actor with
// its own goroutine and its own bounded inbox, communicating only through
// messages. Nothing shares memory across actor boundaries without a lock
// documented at the point of sharing.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Actor is one schedulable unit of the runtime. Run must return when ctx is
// cancelled; it owns its own mailbox draining loop.
type Actor interface {
	Name() string
	Run(ctx context.Context) error
}

// Critical marks an actor whose failure should bring the whole runtime
// down rather than be logged and ignored (spec's concurrency model: "a
// critical actor's exit triggers a coordinated shutdown of the rest").
type Critical interface {
	Actor
	CriticalFailure() bool
}

// Runtime owns the actor set and coordinates startup order, shutdown and
// failure propagation.
type Runtime struct {
	log   zerolog.Logger
	grace time.Duration

	mu      sync.Mutex
	actors  []Actor
	started bool

	cancel   context.CancelFunc
	doneCh   chan struct{}
	failedCh chan error
}

// NewRuntime creates a runtime. grace bounds how long Shutdown waits for
// actors to exit on their own before the aggregated error is returned
// regardless (the abort path).
func NewRuntime(log zerolog.Logger, grace time.Duration) *Runtime {
	return &Runtime{
		log:      log.With().Str("component", "runtime").Logger(),
		grace:    grace,
		failedCh: make(chan error, 1),
	}
}

// Register adds an actor to the runtime. Run launches the actors in
// registration order, each in its own goroutine, without waiting for one to
// be ready before starting the next; on shutdown they are all cancelled at
// once through the shared context.
func (r *Runtime) Register(a Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors = append(r.actors, a)
}

// Run starts every registered actor and blocks until ctx is cancelled or a
// critical actor exits, then shuts the rest down within the grace period.
// It returns the aggregated shutdown error, if any.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	r.started = true
	actors := append([]Actor(nil), r.actors...)
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	var wg sync.WaitGroup
	errs := make(chan namedErr, len(actors))

	for _, a := range actors {
		wg.Add(1)
		go func(a Actor) {
			defer wg.Done()
			log := r.log.With().Str("actor", a.Name()).Logger()
			log.Info().Msg("actor starting")
			err := a.Run(runCtx)
			if err != nil {
				log.Error().Err(err).Msg("actor exited with error")
			} else {
				log.Info().Msg("actor exited")
			}
			errs <- namedErr{name: a.Name(), err: err}

			if crit, ok := a.(Critical); ok && crit.CriticalFailure() && err != nil {
				select {
				case r.failedCh <- fmt.Errorf("critical actor %s failed: %w", a.Name(), err):
				default:
				}
				cancel()
			}
		}(a)
	}

	// Wait for either external cancellation, a critical-actor failure, or
	// (in tests) natural completion of every actor.
	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	var critErr error
	select {
	case <-ctx.Done():
		cancel()
	case err := <-r.failedCh:
		critErr = err
		r.log.Error().Err(err).Msg("shutting down due to critical actor failure")
		cancel()
	case <-allDone:
	}

	shutdownErr := r.awaitShutdown(allDone, errs, len(actors))
	if critErr != nil {
		return multierror.Append(critErr, shutdownErr).ErrorOrNil()
	}
	return shutdownErr
}

// Shutdown requests a graceful stop without waiting for an external ctx
// cancellation.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runtime) awaitShutdown(allDone <-chan struct{}, errs <-chan namedErr, n int) error {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case <-allDone:
	case <-timer.C:
		r.log.Warn().Dur("grace", r.grace).Msg("grace period expired, aborting with actors still running")
	}

	var merr *multierror.Error
	for i := 0; i < n; i++ {
		select {
		case ne := <-errs:
			if ne.err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", ne.name, ne.err))
			}
		default:
			i = n // stop draining; remaining actors never reported
		}
	}
	if merr != nil {
		return merr.ErrorOrNil()
	}
	return nil
}

type namedErr struct {
	name string
	err  error
}
