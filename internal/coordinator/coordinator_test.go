package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/scheduler"
	"github.com/encodis/encodis/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(mode Mode) *Coordinator {
	st := store.NewMemoryStore()
	evbus := bus.NewMemoryBus()
	sched := scheduler.New(st, evbus, nil)
	c := New(mode, st, evbus, sched, nil)
	c.DrainTimeout = 50 * time.Millisecond
	return c
}

func TestRun_StandaloneReturnsOnContextCancel(t *testing.T) {
	c := newTestCoordinator(ModeStandalone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRun_LeaderModeWithoutDispatcherErrors(t *testing.T) {
	c := newTestCoordinator(ModeLeader)
	err := c.Run(context.Background())
	require.ErrorIs(t, err, errMissingDispatcher)
}

func TestRun_FollowerModeWithoutClientErrors(t *testing.T) {
	c := newTestCoordinator(ModeFollower)
	err := c.Run(context.Background())
	require.ErrorIs(t, err, errMissingFollower)
}

func TestRun_StandaloneAwaitsLocalWorker(t *testing.T) {
	c := newTestCoordinator(ModeStandalone)
	started := make(chan struct{})
	finished := make(chan struct{})
	c.LocalWorker = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(finished)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after local worker finished")
	}

	select {
	case <-finished:
	default:
		t.Fatal("Run returned without awaiting LocalWorker's completion")
	}
}

func TestRun_ForcedDrainMarksInFlightJobsShutdown(t *testing.T) {
	c := newTestCoordinator(ModeStandalone)
	require.NoError(t, c.Store.CreateJob(context.Background(), &model.Job{
		ID: 1, Status: model.JobProcessing, AssignedWorker: "local",
	}))

	c.LocalWorker = func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second) // longer than DrainTimeout: never returns in time
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx)
	require.NoError(t, err)

	job, err := c.Store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, job.Status)
	require.Empty(t, job.AssignedWorker, "assigned_worker must be cleared on any terminal transition")
	require.Contains(t, job.ErrorMessage, "shutdown")
}
