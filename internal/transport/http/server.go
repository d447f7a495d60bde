// Package http is the thin HTTP/WebSocket transport fronting the core: it
// exposes the job/batch/follower operations over JSON and relays event-bus
// traffic to subscribed clients. Routing, auth, and UI concerns belong to
// an external collaborator; this package implements only the contract the
// core documents.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/dispatcher"
	"github.com/encodis/encodis/internal/scheduler"
	"github.com/encodis/encodis/internal/store"
	"github.com/go-chi/chi/v5"
)

// Server holds the collaborators the transport layer delegates to.
type Server struct {
	Scheduler  *scheduler.Scheduler
	Store      store.JobStore
	Events     bus.Bus
	Dispatcher *dispatcher.Dispatcher // nil outside leader mode

	// RateLimitRPS bounds requests per second per client IP; zero disables
	// rate limiting entirely.
	RateLimitRPS int

	// TracingServiceName names the otelhttp instrumentation scope; empty
	// disables tracing instrumentation.
	TracingServiceName string
}

// NewServer returns a Server with RateLimitRPS set to 100 and tracing
// disabled. sched and st are required, and events is required by the /ws
// client relay; disp may be nil outside leader mode.
func NewServer(sched *scheduler.Scheduler, st store.JobStore, events bus.Bus, disp *dispatcher.Dispatcher) *Server {
	return &Server{Scheduler: sched, Store: st, Events: events, Dispatcher: disp, RateLimitRPS: 100}
}

// Handler builds the chi router with the canonical middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	applyMiddleware(r, s.RateLimitRPS, s.TracingServiceName)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleSubmitBatch)
		r.Patch("/{id}", s.handleJobAction)
		r.Delete("/", s.handleCancelAll)
		r.Put("/", s.handleBulkOp)
	})

	r.Route("/settings/followers", func(r chi.Router) {
		r.Get("/", s.handleListFollowers)
		r.Post("/retry", s.handleRetryFollowers)
	})

	r.Get("/ws", s.handleClientWS)
	r.Get("/ws/follower", s.handleFollowerWS)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// shutdownWriteTimeout bounds how long in-flight WebSocket writes are given
// during a graceful server shutdown triggered by the Coordinator.
const shutdownWriteTimeout = 5 * time.Second

// Shutdown is a convenience wrapper so callers constructing an *http.Server
// around Handler() can reuse the transport package's drain timeout.
func Shutdown(ctx context.Context, srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownWriteTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
