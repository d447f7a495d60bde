// Package dispatcher tracks remote follower workers in leader mode: it
// heartbeats each registered follower, marks one dead after three
// consecutive failed probes, and requeues whatever job that follower was
// running. Job assignment itself is follower-pull: a follower asks the
// leader's HTTP transport for its next job, which calls ClaimForFollower.
package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/scheduler"
)

// deadAfterFailures is the number of consecutive failed heartbeats after
// which a follower is marked dead and its in-flight job requeued.
const deadAfterFailures = 3

// DefaultHeartbeatInterval is how often registered followers are probed.
const DefaultHeartbeatInterval = 10 * time.Second

// heartbeatTimeout bounds a single probe request.
const heartbeatTimeout = 3 * time.Second

// Dispatcher is the leader-side coordinator for a fleet of followers.
type Dispatcher struct {
	sched  *scheduler.Scheduler
	events bus.Bus
	client *http.Client

	heartbeatEvery time.Duration

	mu       sync.Mutex
	workers  map[string]*model.Follower
	jobOwner map[int64]string // jobID -> followerID, for requeue on death
}

// New returns a Dispatcher. heartbeatEvery defaults to DefaultHeartbeatInterval when zero.
func New(sched *scheduler.Scheduler, events bus.Bus, heartbeatEvery time.Duration) *Dispatcher {
	if heartbeatEvery <= 0 {
		heartbeatEvery = DefaultHeartbeatInterval
	}
	return &Dispatcher{
		sched:          sched,
		events:         events,
		client:         &http.Client{Timeout: heartbeatTimeout},
		heartbeatEvery: heartbeatEvery,
		workers:        make(map[string]*model.Follower),
		jobOwner:       make(map[int64]string),
	}
}

// RegisterFollower adds (or updates the URL of) a follower to the worker
// table, reachable at baseURL for heartbeat probes.
func (d *Dispatcher) RegisterFollower(id, baseURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.workers[id]; ok {
		f.URL = baseURL
		return
	}
	d.workers[id] = &model.Follower{ID: id, URL: baseURL, LastSeen: time.Now()}
}

// ListFollowers returns a snapshot of the worker table.
func (d *Dispatcher) ListFollowers() []model.Follower {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Follower, 0, len(d.workers))
	for _, f := range d.workers {
		out = append(out, *f)
	}
	return out
}

// Run probes every registered follower on heartbeatEvery until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.probeAll(ctx)
		}
	}
}

func (d *Dispatcher) probeAll(ctx context.Context) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			d.probeOne(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (d *Dispatcher) probeOne(ctx context.Context, id string) {
	d.mu.Lock()
	f, ok := d.workers[id]
	d.mu.Unlock()
	if !ok {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL+"/healthz", nil)
	var alive bool
	if err == nil {
		resp, rerr := d.client.Do(req)
		if rerr == nil {
			alive = resp.StatusCode == http.StatusOK
			_ = resp.Body.Close()
		}
	}

	d.mu.Lock()
	f, ok = d.workers[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	var justDied bool
	var orphanedJob int64
	var hadOrphan bool
	if alive {
		f.RecordHeartbeatSuccess(time.Now())
	} else {
		wasAlive := !f.Dead
		f.RecordHeartbeatFailure()
		justDied = wasAlive && f.Dead
		if justDied && f.CurrentJob != nil {
			orphanedJob = f.CurrentJob.ID
			hadOrphan = true
			f.CurrentJob = nil
			f.Busy = false
			delete(d.jobOwner, orphanedJob)
		}
	}
	snapshot := *f
	d.mu.Unlock()

	_ = d.events.Publish(ctx, model.TopicFollowers, model.FollowerStatusEvent{
		Type: model.EventFollowerStatus, FollowerID: snapshot.ID, Busy: snapshot.Busy,
		Dead: snapshot.Dead, CurrentJob: snapshot.CurrentJob,
	})

	if hadOrphan {
		log.L().Warn().Str("follower", id).Int64(log.FieldJobID, orphanedJob).Msg("follower went dead with a job in flight, requeuing")
		if err := d.sched.Retry(ctx, orphanedJob); err != nil {
			log.L().Error().Err(err).Int64(log.FieldJobID, orphanedJob).Msg("failed to requeue orphaned job")
		}
	}
}

// RetryDeadFollowers probes every follower currently marked dead and
// returns any that answer healthy back to the pool. It reports how many
// followers were revived.
func (d *Dispatcher) RetryDeadFollowers(ctx context.Context) int {
	d.mu.Lock()
	deadIDs := make([]string, 0)
	for id, f := range d.workers {
		if f.Dead {
			deadIDs = append(deadIDs, id)
		}
	}
	d.mu.Unlock()

	revived := 0
	for _, id := range deadIDs {
		d.probeOne(ctx, id)
		d.mu.Lock()
		f, ok := d.workers[id]
		stillDead := ok && f.Dead
		d.mu.Unlock()
		if ok && !stillDead {
			revived++
		}
	}
	return revived
}

// ClaimForFollower is called by the leader's transport when followerID
// long-polls for work. It claims the next ready job from the scheduler and
// marks the follower busy.
func (d *Dispatcher) ClaimForFollower(ctx context.Context, followerID string) (*model.Job, bool, error) {
	job, ok, err := d.sched.Claim(ctx, followerID)
	if err != nil || !ok {
		return nil, ok, err
	}

	d.mu.Lock()
	if f, exists := d.workers[followerID]; exists {
		f.Busy = true
		f.CurrentJob = &model.CurrentJob{ID: job.ID, Name: job.Name}
	}
	d.jobOwner[job.ID] = followerID
	d.mu.Unlock()

	return job, true, nil
}

// ReportProgress relays a follower's in-flight progress update. Reports from
// a follower that no longer owns jobID (it was reassigned after a dead-probe
// requeue) are dropped rather than applied.
func (d *Dispatcher) ReportProgress(ctx context.Context, followerID string, jobID int64, percent int) error {
	d.mu.Lock()
	if d.jobOwner[jobID] != followerID {
		d.mu.Unlock()
		return nil
	}
	if f, ok := d.workers[followerID]; ok && f.CurrentJob != nil && f.CurrentJob.ID == jobID {
		f.CurrentJob.Progress = percent
	}
	d.mu.Unlock()
	return d.sched.ReportProgress(ctx, jobID, percent)
}

// ReportCompletion relays a follower's terminal job outcome and frees it for
// the next claim. Like ReportProgress, a stale completion from a follower
// that no longer owns jobID is dropped: the job was already reassigned and
// recording this report would overwrite its current outcome.
func (d *Dispatcher) ReportCompletion(ctx context.Context, followerID string, jobID int64, success bool, errMsg string) error {
	d.mu.Lock()
	if d.jobOwner[jobID] != followerID {
		d.mu.Unlock()
		return nil
	}
	if f, ok := d.workers[followerID]; ok {
		f.Busy = false
		f.CurrentJob = nil
	}
	delete(d.jobOwner, jobID)
	d.mu.Unlock()

	return d.sched.Complete(ctx, jobID, success, errMsg)
}
