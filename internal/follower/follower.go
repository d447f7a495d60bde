// Package follower implements the client side of the leader/follower
// protocol: a long-lived WebSocket connection over which a follower
// announces readiness, receives one job at a time, and streams progress and
// completion back to the leader.
package follower

import (
	"context"
	"net/http"
	"time"

	"github.com/encodis/encodis/internal/executor"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/model"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// progressSendRate bounds how often a single job's progress updates are
// relayed to the leader; ffmpeg's -progress stream can emit far faster than
// any consumer needs to observe it.
const progressSendRate = 5 // per second

// JobExecutor runs one argument vector to completion, emitting the same
// event stream *executor.Executor does. Abstracted so tests can stub it.
type JobExecutor interface {
	Execute(ctx context.Context, v model.ArgVector, estimatedDurationSec float64) <-chan executor.Event
}

const (
	baseBackoff     = 1 * time.Second
	maxBackoff      = 30 * time.Second
	readDeadline    = 90 * time.Second
	writeDeadline   = 10 * time.Second
	noWorkRetryWait = 2 * time.Second
)

// Client is one follower's connection to its leader.
type Client struct {
	ID        string
	LeaderURL string // e.g. "ws://leader:8080/ws/follower"
	Executor  JobExecutor
	Dialer    *websocket.Dialer
}

// NewClient returns a Client using gorilla's default dialer.
func NewClient(id, leaderURL string, exec JobExecutor) *Client {
	return &Client{ID: id, LeaderURL: leaderURL, Executor: exec, Dialer: websocket.DefaultDialer}
}

// Run connects to the leader and serves jobs until ctx is cancelled,
// reconnecting with exponential backoff (capped at maxBackoff) on any
// connection failure.
func (c *Client) Run(ctx context.Context) {
	backoff := baseBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := c.Dialer.DialContext(ctx, c.LeaderURL, http.Header{})
		if err != nil {
			log.L().Warn().Err(err).Str("leader", c.LeaderURL).Dur("retry_in", backoff).Msg("follower: connect to leader failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = baseBackoff
		log.L().Info().Str("leader", c.LeaderURL).Msg("follower: connected to leader")
		c.serve(ctx, conn)
		_ = conn.Close()
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	if err := c.announceReady(conn); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			log.L().Warn().Err(err).Msg("follower: lost connection to leader")
			return
		}

		switch msg.Type {
		case TypeJob:
			if msg.Job == nil {
				continue
			}
			c.runJob(ctx, conn, msg.Job)
			if err := c.announceReady(conn); err != nil {
				return
			}
		case TypeNoWork:
			select {
			case <-ctx.Done():
				return
			case <-time.After(noWorkRetryWait):
			}
			if err := c.announceReady(conn); err != nil {
				return
			}
		}
	}
}

func (c *Client) runJob(ctx context.Context, conn *websocket.Conn, job *JobPayload) {
	v := model.ArgVector{Args: job.Args, OutputPath: job.OutputPath}
	events := c.Executor.Execute(ctx, v, job.EstimatedDurationSec)
	limiter := rate.NewLimiter(rate.Limit(progressSendRate), 1)

	for ev := range events {
		switch ev.Kind {
		case executor.EventProgress:
			if ev.Progress == nil || ev.Progress.ProgressPercent == nil {
				continue
			}
			if !limiter.Allow() {
				continue
			}
			_ = c.send(conn, Message{Type: TypeProgress, Progress: &ProgressPayload{
				JobID: job.JobID, Percent: *ev.Progress.ProgressPercent,
			}})
		case executor.EventCompleted:
			success, reason := false, "unknown"
			if ev.Result != nil {
				success, reason = ev.Result.Success, ev.Result.Reason
			}
			errMsg := ""
			if !success {
				errMsg = reason
			}
			_ = c.send(conn, Message{Type: TypeComplete, Complete: &CompletePayload{
				JobID: job.JobID, Success: success, ErrorMessage: errMsg,
			}})
		}
	}
}

func (c *Client) announceReady(conn *websocket.Conn) error {
	return c.send(conn, Message{Type: TypeReady, Ready: &ReadyPayload{FollowerID: c.ID}})
}

func (c *Client) send(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(msg)
}
