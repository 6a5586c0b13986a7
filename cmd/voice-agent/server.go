package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/events"
	"github.com/sweeney/voice-agent/internal/handler"
	"github.com/sweeney/voice-agent/internal/session"
)

type serverOptions struct {
	Coordinator *session.Coordinator
	Handler     *handler.Handler
	Gatherer    prometheus.Gatherer
	Logger      *logrus.Logger
	MetricsPath string
	EventBuffer int
	AckTimeout  time.Duration
}

// server accepts one media bridge session per websocket connection.
type server struct {
	opts     serverOptions
	base     context.Context
	mux      *http.ServeMux
	sessions sync.WaitGroup
}

// newServer builds the HTTP surface. Sessions run on base, so cancelling it
// finalizes every live call.
func newServer(base context.Context, opts serverOptions) *server {
	s := &server{opts: opts, base: base, mux: http.NewServeMux()}
	s.mux.HandleFunc("/session", s.handleSession)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		s.mux.Handle(opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	conn, err := events.Upgrade(w, r,
		events.WithLogger(s.opts.Logger),
		events.WithAckTimeout(s.opts.AckTimeout))
	if err != nil {
		s.opts.Logger.WithError(err).Warn("Rejected session")
		return
	}
	defer conn.Close()

	s.opts.Logger.WithField("remote", r.RemoteAddr).Debug("Session connected")
	res := s.opts.Coordinator.Run(s.base, conn, conn.Events(s.base, s.opts.EventBuffer))
	s.opts.Logger.WithFields(logrus.Fields{
		"call_id": res.CallID,
		"remote":  r.RemoteAddr,
	}).Debug("Session closed")
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.base.Err() != nil {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"active_calls": len(s.opts.Handler.ActiveCalls()),
	})
}

// wait blocks until every session has finalized.
func (s *server) wait() {
	s.sessions.Wait()
}
