package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/solverops/simtriage/pkg/api/indexer"
	"github.com/solverops/simtriage/pkg/api/storage"
	"github.com/solverops/simtriage/pkg/api/verdictstore"
	"github.com/solverops/simtriage/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.APIConfig
	store       verdictstore.Store
	localServer *localFileServer
	indexer     indexer.Indexer
	httpServer  *http.Server
	wg          sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start opens the verdict store, wires the optional background indexer,
// and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = verdictstore.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting verdict store: %w", err)
	}

	// Initialize local file serving if configured.
	if s.cfg.Storage.Local != nil && s.cfg.Storage.Local.Enabled {
		s.localServer = newLocalFileServer(s.log, s.cfg.Storage.Local)

		s.log.Info("Local file serving enabled")
	}

	// Prepare the indexing service before building the router, but do
	// NOT start the background indexer yet: the HTTP server must be
	// listening first.
	if s.cfg.Indexing != nil && s.cfg.Indexing.Enabled {
		if err := s.prepareIndexing(); err != nil {
			return fmt.Errorf("preparing indexing: %w", err)
		}
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Start the background indexer AFTER the API is listening so the
	// server is reachable while the first (potentially slow) pass runs.
	if s.indexer != nil {
		if err := s.indexer.Start(ctx); err != nil {
			return fmt.Errorf("starting indexer: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server, the indexer, and the store.
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

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping verdict store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// prepareIndexing creates the storage reader and the indexer without
// starting the background goroutine. Call indexer.Start() separately
// once the HTTP server is listening.
func (s *server) prepareIndexing() error {
	if s.cfg.Storage.Local == nil || !s.cfg.Storage.Local.Enabled {
		return fmt.Errorf("no storage backend configured for indexing")
	}

	reader := storage.NewLocalReader(s.cfg.Storage.Local)

	s.indexer = indexer.NewIndexer(
		s.log,
		s.store,
		reader,
		s.cfg.Indexing.IntervalDuration(),
		s.cfg.Indexing.Concurrency,
	)

	s.log.Info("Indexing service enabled")

	return nil
}
