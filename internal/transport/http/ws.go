package http

import (
	"net/http"
	"time"

	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/follower"
	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/model"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const clientWriteTimeout = 5 * time.Second

// handleClientWS relays job/batch/follower events to a browser client as
// they're published on the bus. One subscription per topic, fanned into a
// single outbound connection to preserve per-topic delivery order.
func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	topics := []string{model.TopicJobs, model.TopicBatches, model.TopicFollowers}
	subs := make([]bus.Subscriber, 0, len(topics))
	for _, topic := range topics {
		sub, err := s.Events.Subscribe(ctx, topic)
		if err != nil {
			log.L().Warn().Err(err).Str("topic", topic).Msg("client ws: subscribe failed")
			continue
		}
		subs = append(subs, sub)
		defer func() { _ = sub.Close() }()
	}

	merged := make(chan bus.Message, 64)
	done := make(chan struct{})
	defer close(done)
	for _, sub := range subs {
		go func(sub bus.Subscriber) {
			for {
				select {
				case msg, ok := <-sub.C():
					if !ok {
						return
					}
					select {
					case merged <- msg:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-merged:
			_ = conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// handleFollowerWS is the leader side of the follower protocol: it accepts
// a ready/job/progress/complete message loop from a connecting follower and
// bridges it to the Dispatcher.
func (s *Server) handleFollowerWS(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		http.Error(w, "not running in leader mode", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	var followerID string

	for {
		var msg follower.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case follower.TypeReady:
			if msg.Ready == nil {
				continue
			}
			followerID = msg.Ready.FollowerID
			s.Dispatcher.RegisterFollower(followerID, "")

			job, ok, err := s.Dispatcher.ClaimForFollower(ctx, followerID)
			if err != nil {
				log.L().Warn().Err(err).Str("follower", followerID).Msg("follower ws: claim failed")
				continue
			}
			if !ok {
				_ = conn.WriteJSON(follower.Message{Type: follower.TypeNoWork})
				continue
			}
			_ = conn.WriteJSON(follower.Message{Type: follower.TypeJob, Job: &follower.JobPayload{
				JobID: job.ID, Args: job.Args.Args, OutputPath: job.OutputPath,
			}})

		case follower.TypeProgress:
			if msg.Progress == nil {
				continue
			}
			_ = s.Dispatcher.ReportProgress(ctx, followerID, msg.Progress.JobID, msg.Progress.Percent)

		case follower.TypeComplete:
			if msg.Complete == nil {
				continue
			}
			_ = s.Dispatcher.ReportCompletion(ctx, followerID, msg.Complete.JobID, msg.Complete.Success, msg.Complete.ErrorMessage)
		}
	}
}
