// Package coordinator owns the long-lived runtime lifecycle: it brings the
// job store, event bus, scheduler and (in leader/follower mode) dispatcher
// or follower client up in dependency order, and tears them down on
// shutdown with a bounded drain window before anything is hard-cancelled.
package coordinator

import (
	"context"
	"time"

	"github.com/encodis/encodis/internal/apperr"
	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/dispatcher"
	"github.com/encodis/encodis/internal/follower"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/scheduler"
	"github.com/encodis/encodis/internal/store"
	"golang.org/x/sync/errgroup"
)

// Mode selects which collaborators an instance runs.
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeLeader     Mode = "leader"
	ModeFollower   Mode = "follower"
)

// DefaultDrainTimeout bounds how long a graceful shutdown waits for
// in-flight work (dispatcher heartbeats, follower reconnects, the local
// worker's current encode) to notice context cancellation before the
// process exits regardless.
const DefaultDrainTimeout = 30 * time.Second

// Coordinator wires the core collaborators together for one process and
// runs whichever background loops its Mode requires.
type Coordinator struct {
	Mode Mode

	Store     store.JobStore
	Bus       bus.Bus
	Scheduler *scheduler.Scheduler

	// Leader-only.
	Dispatcher *dispatcher.Dispatcher

	// Follower-only.
	Follower *follower.Client

	// LocalWorker is the standalone-mode claim/execute loop. It must return
	// once ctx is done. Nil in leader and follower mode.
	LocalWorker func(ctx context.Context) error

	// HousekeepingInterval paces the scheduler's batch garbage collector in
	// standalone and leader mode. Non-positive falls back to
	// scheduler.DefaultHousekeepingInterval.
	HousekeepingInterval time.Duration

	DrainTimeout time.Duration
}

// New wires a Coordinator in ModeStandalone or ModeLeader: a JobStore-backed
// Scheduler, optionally paired with a Dispatcher for fronting followers.
// Callers in ModeFollower should populate Follower directly and call Run;
// a follower has no local store, scheduler, or dispatcher of its own.
func New(mode Mode, st store.JobStore, b bus.Bus, sched *scheduler.Scheduler, disp *dispatcher.Dispatcher) *Coordinator {
	return &Coordinator{
		Mode:         mode,
		Store:        st,
		Bus:          b,
		Scheduler:    sched,
		Dispatcher:   disp,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Run blocks until ctx is cancelled, then drains for DrainTimeout before
// returning. It starts the dispatcher's heartbeat loop in ModeLeader, the
// follower's reconnect loop in ModeFollower, and the local worker's
// claim/execute loop in ModeStandalone. Standalone and leader instances also
// run the scheduler's batch-GC housekeeping loop.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	switch c.Mode {
	case ModeLeader:
		if c.Dispatcher == nil {
			return errMissingDispatcher
		}
		g.Go(func() error {
			c.Dispatcher.Run(gctx)
			return nil
		})
	case ModeFollower:
		if c.Follower == nil {
			return errMissingFollower
		}
		g.Go(func() error {
			c.Follower.Run(gctx)
			return nil
		})
	case ModeStandalone:
		if c.LocalWorker != nil {
			g.Go(func() error {
				return c.LocalWorker(gctx)
			})
		}
	}

	if c.Mode != ModeFollower && c.Scheduler != nil {
		g.Go(func() error {
			return c.Scheduler.RunHousekeeping(gctx, c.HousekeepingInterval)
		})
	}

	<-ctx.Done()
	log.L().Info().Str("mode", string(c.Mode)).Msg("coordinator: shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.DrainTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		c.closeStore()
		return err
	case <-drainCtx.Done():
		log.L().Warn().Dur("timeout", c.DrainTimeout).Msg("coordinator: drain timeout exceeded, forcing exit")
		c.markInFlightShutdown(context.WithoutCancel(ctx))
		c.closeStore()
		return nil
	}
}

// markInFlightShutdown marks every job still Processing as failed with
// apperr.KindShutdown, so survivors of a forced drain-timeout exit aren't
// left stamped processing with no worker left alive to finish them.
func (c *Coordinator) markInFlightShutdown(ctx context.Context) {
	if c.Store == nil || c.Scheduler == nil {
		return
	}
	jobs, err := c.Store.ListJobs(ctx, store.JobFilter{Status: model.JobProcessing})
	if err != nil {
		log.L().Warn().Err(err).Msg("coordinator: failed to list in-flight jobs for forced shutdown")
		return
	}
	shutdownErr := apperr.New(apperr.KindShutdown, "shutdown: drain timeout exceeded before job finished", nil)
	for _, j := range jobs {
		if err := c.Scheduler.Complete(ctx, j.ID, false, shutdownErr.Error()); err != nil {
			log.L().Warn().Err(err).Int64(log.FieldJobID, j.ID).Msg("coordinator: failed to mark in-flight job failed on shutdown")
		}
	}
}

func (c *Coordinator) closeStore() {
	if c.Store == nil {
		return
	}
	if err := c.Store.Close(); err != nil {
		log.L().Warn().Err(err).Msg("coordinator: error closing job store")
	}
}

var (
	errMissingDispatcher = coordinatorError("leader mode requires a Dispatcher")
	errMissingFollower   = coordinatorError("follower mode requires a Follower client")
)

type coordinatorError string

func (e coordinatorError) Error() string { return string(e) }
