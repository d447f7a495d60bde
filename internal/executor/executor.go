// Package executor spawns and supervises a single ffmpeg process for one
// job: wiring its stdout into the progress parser, bounding captured stderr,
// enforcing a wall-clock timeout, and escalating cancellation from a
// graceful interrupt to a hard kill.
package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/encodis/encodis/internal/argbuilder"
	"github.com/encodis/encodis/internal/fsutil"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encodis_executor_start_total",
		Help: "Total number of encoder process starts, by result.",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encodis_executor_exit_total",
		Help: "Total number of encoder process exits, by reason.",
	}, []string{"reason"})
)

// stderrTailCapacity is the number of trailing bytes of stderr retained per
// job; older bytes are dropped as new ones arrive.
const stderrTailCapacity = 64 * 1024

// gracePeriod is how long Cancel waits after the graceful interrupt before
// escalating to a hard kill.
const gracePeriod = 5 * time.Second

// dryRunDuration is the synthetic wall-clock length of a dry-run encode.
const dryRunDuration = 2 * time.Second

// State is the executor's lifecycle stage for a single job run.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// EventKind classifies an Event emitted on an executor's event channel.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
)

// Event is one notification emitted while a job runs.
type Event struct {
	Kind     EventKind
	Progress *progress.Progress
	Result   *Result
}

// Result is the terminal outcome of one Execute call.
type Result struct {
	Success    bool
	OutputPath string
	ExitCode   int
	Reason     string // "clean", "non_zero_exit", "killed_by_cancel", "timeout", "spawn_failed", "rejected", "path_traversal", "already_running"
	StderrTail string
}

// Options configures an Executor.
type Options struct {
	// Timeout bounds the wall-clock duration of a single encode. Zero means
	// no timeout.
	Timeout time.Duration
	// DryRun skips spawning ffmpeg and instead synthesizes a linear progress
	// curve over dryRunDuration before reporting success.
	DryRun bool
	// OutputRoot, when set, confines every output path to this directory
	// (resolved through symlinks) as a defense-in-depth check beyond the
	// argument builder's string-level path-traversal rejection. Empty
	// disables the check.
	OutputRoot string
}

// Executor supervises exactly one encoder process at a time. An Execute
// call made while an earlier run is still in flight is rejected with reason
// "already_running"; once that run has reached its terminal state the same
// Executor runs the next job, so one Executor serves a worker's jobs in
// sequence.
type Executor struct {
	opts Options

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	cancel context.CancelFunc
	tail   *stderrTail
}

// New returns an idle Executor configured with opts.
func New(opts Options) *Executor {
	return &Executor{opts: opts, state: StateIdle, tail: newStderrTail(stderrTailCapacity)}
}

// State reports the executor's current lifecycle stage.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Execute runs v to completion (or until ctx is cancelled, or the configured
// timeout expires), emitting Events on the returned channel. The channel is
// closed after the terminal EventCompleted is sent. estimatedDurationSec is
// passed to the progress parser to compute a percentage; pass 0 if unknown.
func (e *Executor) Execute(ctx context.Context, v model.ArgVector, estimatedDurationSec float64) <-chan Event {
	events := make(chan Event, 16)

	e.mu.Lock()
	if e.state != StateIdle && e.state != StateTerminal {
		e.mu.Unlock()
		go func() {
			events <- Event{Kind: EventCompleted, Result: &Result{
				Success: false,
				Reason:  "already_running",
			}}
			close(events)
		}()
		return events
	}
	e.state = StateStarting
	e.cmd = nil
	e.tail = newStderrTail(stderrTailCapacity)
	e.mu.Unlock()

	var cancel context.CancelFunc
	if e.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	if e.opts.DryRun {
		go e.runDry(ctx, v, events)
		return events
	}

	go e.run(ctx, v, estimatedDurationSec, events)
	return events
}

// Cancel requests termination of the in-flight process: a graceful
// interrupt first, escalating to SIGKILL after gracePeriod if the process
// has not exited.
func (e *Executor) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	cmd := e.cmd
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGINT)
	go func() {
		timer := time.NewTimer(gracePeriod)
		defer timer.Stop()
		<-timer.C
		e.mu.Lock()
		stillRunning := e.state == StateRunning || e.state == StateStarting
		e.mu.Unlock()
		if stillRunning {
			_ = cmd.Process.Kill()
		}
	}()
}

func (e *Executor) run(ctx context.Context, v model.ArgVector, estimatedDurationSec float64, events chan<- Event) {
	defer close(events)
	logger := log.WithComponentFromContext(ctx, "executor")

	if err := argbuilder.Validate(v); err != nil {
		startTotal.WithLabelValues("rejected").Inc()
		events <- Event{Kind: EventCompleted, Result: &Result{Success: false, Reason: "rejected"}}
		e.setState(StateTerminal)
		return
	}

	if err := os.MkdirAll(filepath.Dir(v.OutputPath), 0o755); err != nil {
		startTotal.WithLabelValues("err_mkdir").Inc()
		events <- Event{Kind: EventCompleted, Result: &Result{Success: false, Reason: "spawn_failed"}}
		e.setState(StateTerminal)
		return
	}

	if e.opts.OutputRoot != "" {
		if absOut, absErr := filepath.Abs(v.OutputPath); absErr == nil {
			if _, err := fsutil.ConfineAbsPath(e.opts.OutputRoot, absOut); err != nil {
				startTotal.WithLabelValues("err_confinement").Inc()
				events <- Event{Kind: EventCompleted, Result: &Result{Success: false, Reason: "path_traversal"}}
				e.setState(StateTerminal)
				return
			}
		}
	}

	cmd := exec.CommandContext(ctx, v.Args[0], v.Args[1:]...) // #nosec G204 -- argv built and validated by argbuilder, never shelled out
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		startTotal.WithLabelValues("err_pipe").Inc()
		events <- Event{Kind: EventCompleted, Result: &Result{Success: false, Reason: "spawn_failed"}}
		e.setState(StateTerminal)
		return
	}
	cmd.Stderr = e.tail

	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()

	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("err_start").Inc()
		events <- Event{Kind: EventCompleted, Result: &Result{
			Success:    false,
			Reason:     "spawn_failed",
			StderrTail: e.tail.String(),
		}}
		e.setState(StateTerminal)
		return
	}
	logger.Info().Str(log.FieldEncoder, v.Args[0]).Str(log.FieldPath, v.OutputPath).Msg("encoder process started")
	startTotal.WithLabelValues("ok").Inc()
	e.setState(StateRunning)
	events <- Event{Kind: EventStarted}

	parser := progress.NewParser(estimatedDurationSec)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, rerr := stdout.Read(buf)
			if n > 0 {
				for _, ev := range parser.Feed(buf[:n]) {
					ev := ev
					events <- Event{Kind: EventProgress, Progress: &ev}
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	result := e.classifyExit(ctx, waitErr, v.OutputPath)
	if result.Success {
		logger.Info().Str("output", v.OutputPath).Msg("encode completed")
	} else {
		logger.Warn().Str("reason", result.Reason).Int("exit_code", result.ExitCode).Msg("encode did not complete successfully")
	}
	exitTotal.WithLabelValues(result.Reason).Inc()
	events <- Event{Kind: EventCompleted, Result: &result}
	e.setState(StateTerminal)
}

func (e *Executor) classifyExit(ctx context.Context, waitErr error, outputPath string) Result {
	tail := e.tail.String()

	if waitErr == nil {
		return Result{Success: true, OutputPath: outputPath, ExitCode: 0, Reason: "clean", StderrTail: tail}
	}

	var exitErr *exec.ExitError
	code := -1
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{Success: false, ExitCode: code, Reason: "timeout", StderrTail: tail}
	}
	if ctx.Err() == context.Canceled {
		return Result{Success: false, ExitCode: code, Reason: "killed_by_cancel", StderrTail: tail}
	}
	return Result{Success: false, ExitCode: code, Reason: "non_zero_exit", StderrTail: tail}
}

// runDry synthesizes a linear progress curve without spawning a process,
// used for smoke-testing the pipeline without an ffmpeg binary present.
func (e *Executor) runDry(ctx context.Context, v model.ArgVector, events chan<- Event) {
	defer close(events)
	e.setState(StateRunning)
	events <- Event{Kind: EventStarted}

	const steps = 10
	step := dryRunDuration / steps
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			events <- Event{Kind: EventCompleted, Result: &Result{
				Success: false,
				Reason:  "killed_by_cancel",
			}}
			e.setState(StateTerminal)
			return
		case <-ticker.C:
			pct := i * 100 / steps
			events <- Event{Kind: EventProgress, Progress: &progress.Progress{ProgressPercent: &pct}}
		}
	}

	events <- Event{Kind: EventCompleted, Result: &Result{
		Success:    true,
		OutputPath: v.OutputPath,
		Reason:     "clean",
	}}
	e.setState(StateTerminal)
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// StderrTail returns a snapshot of the most recently captured stderr bytes
// for the in-flight or just-finished process.
func (e *Executor) StderrTail() string {
	return e.tail.String()
}
