// Package api serves characterization results over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/resultstore"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.APIConfig
	store       resultstore.Store
	localServer *localFileServer
	users       map[string]string
	limiters    []*rateLimiterMap
	httpServer  *http.Server
	listener    net.Listener
	wg          sync.WaitGroup
}

// NewServer creates a new API server over a started results store.
// Characterization artifacts under projectsDir are served read-only when
// projectsDir is set.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	store resultstore.Store,
	projectsDir string,
) Server {
	s := &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		store: store,
		users: make(map[string]string, len(cfg.Auth.Basic.Users)),
	}

	if cfg.Auth.Basic.Enabled {
		for _, u := range cfg.Auth.Basic.Users {
			s.users[u.Username] = u.PasswordHash
		}
	}

	if projectsDir != "" {
		s.localServer = newLocalFileServer(s.log, []string{projectsDir})
	}

	return s
}

// Start binds the listener and serves HTTP in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the address the server listens on.
func (s *server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	for _, l := range s.limiters {
		l.stop()
	}

	s.log.Info("API server stopped")

	return nil
}
