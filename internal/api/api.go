// Package api provides the HTTP control surface for the Chatterbox
// notification core.
//
// It exposes health and status probes, a manual poll trigger, a drain of
// pending notification events, and a narrow message surface for local
// deployments and integration testing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/dedup"
	"github.com/chatterbox-chat/chatterbox/internal/listener"
	"github.com/chatterbox-chat/chatterbox/internal/notify"
	"github.com/chatterbox-chat/chatterbox/internal/poller"
)

// DefaultAddr is the default listen address for the control API.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the notification core's components behind HTTP handlers.
type Server struct {
	addr     string
	backend  backend.Backend
	listener *listener.Listener
	poller   *poller.Poller
	events   *notify.EventNotifier
	seen     *dedup.SeenCache
	session  *listener.Session

	httpServer *http.Server
}

// NewServer creates the control API server over the given components. The
// event notifier may be nil when no event channel is configured; the
// /notifications endpoint then serves an empty list.
func NewServer(be backend.Backend, l *listener.Listener, p *poller.Poller, events *notify.EventNotifier, seen *dedup.SeenCache, sess *listener.Session, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:     cfg.Addr,
		backend:  be,
		listener: l,
		poller:   p,
		events:   events,
		seen:     seen,
		session:  sess,
	}
}

// Handler returns the routed HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/check", s.checkHandler)
	mux.HandleFunc("/notifications", s.notificationsHandler)
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/read", s.readHandler)
	return mux
}

// Run starts serving and blocks until the server stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	slog.Info("Server.Run: control API listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping control API")
	return s.httpServer.Shutdown(ctx)
}
