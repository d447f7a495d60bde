// Package scheduler owns the ready-queue of pending jobs and the lifecycle
// transitions (claim, complete, retry, cancel) that move a job between
// states. It has no opinion on where a job actually runs: the dispatcher
// claims jobs from it and hands them to a local executor or a follower.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/encodis/encodis/internal/apperr"
	"github.com/encodis/encodis/internal/argbuilder"
	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/store"
	"github.com/google/uuid"
)

// NotificationSink is notified when the queue drains to empty with no jobs
// in flight, so an operator-facing alert (Discord, Pushover, ...) can fire.
type NotificationSink interface {
	NotifyQuiescence(ctx context.Context, summary QuiescenceSummary) error
}

// QuiescenceSummary describes the batch of work that just finished.
type QuiescenceSummary struct {
	CompletedCount int
	FailedCount    int
}

// Scheduler maintains the in-memory FIFO of claimable job IDs backed by the
// durable JobStore, and publishes lifecycle events on the bus.
type Scheduler struct {
	store    store.JobStore
	events   bus.Bus
	notifier NotificationSink

	mu            sync.Mutex
	queue         []int64
	activeCount   int
	sinceQuietRun struct {
		completed int
		failed    int
	}
}

// New returns a Scheduler. notifier may be nil if quiescence notifications
// are not configured.
func New(st store.JobStore, events bus.Bus, notifier NotificationSink) *Scheduler {
	return &Scheduler{store: st, events: events, notifier: notifier}
}

// SubmitBatch stages one job per file under a new batch, publishing a
// BatchProgressEvent as each job is created and a JobCreatedEvent per job.
func (s *Scheduler) SubmitBatch(ctx context.Context, opts model.ConversionOptions) (*model.Batch, error) {
	files := opts.Files
	batch := &model.Batch{
		ID:         uuid.New().String(),
		TotalFiles: len(files),
		Status:     model.BatchCreating,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	_ = s.events.Publish(ctx, model.TopicBatches, model.BatchProgressEvent{
		Type: model.EventBatchProgress, BatchID: batch.ID,
		TotalFiles: batch.TotalFiles, CreatedCount: 0, Status: model.BatchCreating,
	})

	for _, file := range files {
		vec, err := argbuilder.Build(file, opts)
		if err != nil {
			_, _ = s.store.UpdateBatch(ctx, batch.ID, func(b *model.Batch) error {
				b.Status = model.BatchFailed
				b.ErrorMessage = err.Error()
				return nil
			})
			return nil, fmt.Errorf("build args for %q: %w", file.Name, err)
		}

		if collision, err := s.outputPathInUse(ctx, vec.OutputPath); err != nil {
			return nil, err
		} else if collision {
			collErr := apperr.New(apperr.KindOutputCollision,
				fmt.Sprintf("output path %q is already in use by a non-terminal job", vec.OutputPath), nil)
			_, _ = s.store.UpdateBatch(ctx, batch.ID, func(b *model.Batch) error {
				b.Status = model.BatchFailed
				b.ErrorMessage = collErr.Error()
				return nil
			})
			return nil, collErr
		}

		id, err := s.store.NextJobID(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		job := &model.Job{
			ID:         id,
			Name:       file.Name,
			InputPath:  vec.InputPath,
			OutputPath: vec.OutputPath,
			Args:       vec,
			Status:     model.JobPending,
			BatchID:    batch.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job for %q: %w", file.Name, err)
		}

		s.mu.Lock()
		s.queue = append(s.queue, id)
		s.mu.Unlock()

		_ = s.events.Publish(ctx, model.TopicJobs, model.JobCreatedEvent{
			Type: model.EventJobCreated, JobID: id, BatchID: batch.ID, Name: file.Name,
		})

		updated, err := s.store.UpdateBatch(ctx, batch.ID, func(b *model.Batch) error {
			b.CreatedCount++
			return nil
		})
		if err == nil {
			_ = s.events.Publish(ctx, model.TopicBatches, model.BatchProgressEvent{
				Type: model.EventBatchProgress, BatchID: batch.ID,
				TotalFiles: updated.TotalFiles, CreatedCount: updated.CreatedCount, Status: updated.Status,
			})
		}
	}

	final, err := s.store.UpdateBatch(ctx, batch.ID, func(b *model.Batch) error {
		b.Status = model.BatchCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// outputPathInUse reports whether path is the declared output of any
// non-terminal job (pending, processing, or queued for retry), enforcing the
// shared-resource policy that two in-flight jobs never race to write the
// same file.
func (s *Scheduler) outputPathInUse(ctx context.Context, path string) (bool, error) {
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{})
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if j.OutputPath == path && !j.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

// Claim atomically pops the next ready job off the FIFO, marks it
// Processing and assigned to workerID, and returns it. ok is false when the
// queue is empty.
func (s *Scheduler) Claim(ctx context.Context, workerID string) (*model.Job, bool, error) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, false, nil
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	s.activeCount++
	s.mu.Unlock()

	job, err := s.store.UpdateJob(ctx, id, func(j *model.Job) error {
		j.Status = model.JobProcessing
		j.AssignedWorker = workerID
		j.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		s.mu.Lock()
		s.activeCount--
		s.mu.Unlock()
		return nil, false, err
	}

	_ = s.events.Publish(ctx, model.TopicJobs, model.JobUpdatedEvent{
		Type: model.EventJobUpdated, JobID: job.ID, Status: job.Status, Progress: job.Progress,
	})
	return job, true, nil
}

// ReportProgress records an in-flight progress percentage for a job.
func (s *Scheduler) ReportProgress(ctx context.Context, jobID int64, percent int) error {
	job, err := s.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.Progress = percent
		j.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	return s.events.Publish(ctx, model.TopicJobs, model.JobUpdatedEvent{
		Type: model.EventJobUpdated, JobID: job.ID, Status: job.Status, Progress: job.Progress,
	})
}

// Complete records the terminal outcome of a claimed job and, if this was
// the last job in flight with nothing left queued, fires a quiescence
// notification summarizing the run.
func (s *Scheduler) Complete(ctx context.Context, jobID int64, success bool, errMsg string) error {
	status := model.JobCompleted
	if !success {
		status = model.JobFailed
	}
	now := time.Now()
	job, err := s.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.Status = status
		j.ErrorMessage = errMsg
		j.UpdatedAt = now
		j.CompletedAt = &now
		j.AssignedWorker = ""
		if success {
			j.Progress = 100
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = s.events.Publish(ctx, model.TopicJobs, model.JobUpdatedEvent{
		Type: model.EventJobUpdated, JobID: job.ID, Status: job.Status, Progress: job.Progress, ErrorMessage: errMsg,
	})

	s.mu.Lock()
	s.activeCount--
	if success {
		s.sinceQuietRun.completed++
	} else {
		s.sinceQuietRun.failed++
	}
	drained := s.activeCount == 0 && len(s.queue) == 0
	summary := QuiescenceSummary{CompletedCount: s.sinceQuietRun.completed, FailedCount: s.sinceQuietRun.failed}
	if drained {
		s.sinceQuietRun.completed = 0
		s.sinceQuietRun.failed = 0
	}
	s.mu.Unlock()

	if drained && s.notifier != nil {
		if err := s.notifier.NotifyQuiescence(ctx, summary); err != nil {
			log.L().Warn().Err(err).Msg("quiescence notification failed")
		}
	}
	return nil
}

// Retry requeues a single failed or cancelled job.
func (s *Scheduler) Retry(ctx context.Context, jobID int64) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobFailed && job.Status != model.JobCancelled {
		return fmt.Errorf("job %d is not in a retryable state (%s)", jobID, job.Status)
	}

	_, err = s.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobPending
		j.Retried = true
		j.ErrorMessage = ""
		j.Progress = 0
		j.UpdatedAt = time.Now()
		j.CompletedAt = nil
		j.AssignedWorker = ""
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.queue = append(s.queue, jobID)
	s.mu.Unlock()

	return s.events.Publish(ctx, model.TopicJobs, model.JobUpdatedEvent{
		Type: model.EventJobUpdated, JobID: jobID, Status: model.JobPending,
	})
}

// RetryAllFailed requeues every job currently in the Failed state.
func (s *Scheduler) RetryAllFailed(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{Status: model.JobFailed})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range jobs {
		if err := s.Retry(ctx, j.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Cancel marks jobID Cancelled. If it is still queued it is removed from
// the ready-queue. If it is in flight only its record changes: neither
// Cancel nor any of its callers interrupts the executor or follower running
// it.
func (s *Scheduler) Cancel(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	for i, id := range s.queue {
		if id == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	now := time.Now()
	job, err := s.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		if j.Status.IsTerminal() {
			return nil
		}
		j.Status = model.JobCancelled
		j.UpdatedAt = now
		j.CompletedAt = &now
		j.AssignedWorker = ""
		return nil
	})
	if err != nil {
		return err
	}
	return s.events.Publish(ctx, model.TopicJobs, model.JobUpdatedEvent{
		Type: model.EventJobUpdated, JobID: job.ID, Status: job.Status,
	})
}

// CancelAll cancels every non-terminal job.
func (s *Scheduler) CancelAll(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range jobs {
		if j.Status.IsTerminal() {
			continue
		}
		if err := s.Cancel(ctx, j.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ClearFinished hides every terminal job from the default queue view.
func (s *Scheduler) ClearFinished(ctx context.Context) (int, error) {
	return s.store.ClearFinished(ctx)
}

// QueueDepth reports the number of jobs waiting to be claimed.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ActiveCount reports the number of jobs currently claimed and in flight.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// BatchGCAge is the minimum age, counted from the batch's CreatedAt, at which
// a batch whose jobs are all terminal becomes eligible for garbage collection.
const BatchGCAge = 24 * time.Hour

// DefaultHousekeepingInterval is how often RunHousekeeping sweeps for
// garbage-collectible batches when the caller passes a non-positive interval.
const DefaultHousekeepingInterval = time.Minute

// GCBatches deletes every batch whose jobs are all terminal and whose
// CreatedAt is older than BatchGCAge. It returns the number of batches
// removed.
func (s *Scheduler) GCBatches(ctx context.Context) (int, error) {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, b := range batches {
		if now.Sub(b.CreatedAt) < BatchGCAge {
			continue
		}

		jobs, err := s.store.ListJobs(ctx, store.JobFilter{BatchID: b.ID, IncludeCleared: true})
		if err != nil {
			return removed, err
		}
		allTerminal := true
		for _, j := range jobs {
			if !j.Status.IsTerminal() {
				allTerminal = false
				break
			}
		}
		if !allTerminal {
			continue
		}

		if err := s.store.DeleteBatch(ctx, b.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RunHousekeeping periodically sweeps for garbage-collectible batches until
// ctx is done. interval <= 0 falls back to DefaultHousekeepingInterval.
func (s *Scheduler) RunHousekeeping(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.GCBatches(ctx)
			if err != nil {
				log.L().Warn().Err(err).Msg("housekeeping: batch GC failed")
				continue
			}
			if n > 0 {
				log.L().Info().Int("count", n).Msg("housekeeping: garbage collected batches")
			}
		}
	}
}
