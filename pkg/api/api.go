package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logoforge/logoforge/pkg/api/store"
	"github.com/logoforge/logoforge/pkg/bus"
	"github.com/logoforge/logoforge/pkg/comfy"
	"github.com/logoforge/logoforge/pkg/config"
	"github.com/logoforge/logoforge/pkg/generation"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = 15 * time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	presigner  *s3Storage
	localStore *localStorage
	publisher  *bus.Publisher
	service    *generation.Service
	reconciler *generation.Reconciler
	poller     *generation.Poller
	watcher    generation.Watcher
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start initializes the store, storage backends, and the generation
// pipeline, then starts the HTTP server. The background run watcher is
// started last so the API is reachable while its first pass runs.
func (s *server) Start(ctx context.Context) error {
	// Create and start the database store.
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	// Seed users from config.
	if len(s.cfg.Auth.Users) > 0 {
		if err := s.store.SeedUsers(ctx, s.cfg.Auth.Users); err != nil {
			return fmt.Errorf("seeding users: %w", err)
		}
	}

	if err := s.initStorage(); err != nil {
		return err
	}

	// Connect the event bus if configured.
	if s.cfg.Bus != nil && s.cfg.Bus.Enabled {
		publisher, err := bus.Connect(s.log, s.cfg.Bus)
		if err != nil {
			return fmt.Errorf("connecting event bus: %w", err)
		}

		s.publisher = publisher
	}

	if err := s.initGeneration(); err != nil {
		return err
	}

	// Build router and start HTTP server.
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start session cleanup goroutine.
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.store.DeleteExpiredSessions(ctx); err != nil {
					s.log.WithError(err).
						Warn("Failed to clean expired sessions")
				}
			case <-s.done:
				return
			}
		}
	}()

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	// Start HTTP server.
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

	// Start the run watcher AFTER the API is listening so webhook
	// deliveries are not refused while the first sweep runs.
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting run watcher: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

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

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.log.WithError(err).Warn("Run watcher stop error")
		}
	}

	s.publisher.Close()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// initStorage sets up the configured upload/serving backend. Local
// storage takes priority when both are enabled.
func (s *server) initStorage() error {
	if s.cfg.Storage.Local != nil && s.cfg.Storage.Local.Enabled {
		localStore, err := newLocalStorage(s.log, s.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("initializing local storage: %w", err)
		}

		s.localStore = localStore

		s.log.WithField("root", s.cfg.Storage.Local.Root).
			Info("Local file storage enabled")

		return nil
	}

	if s.cfg.Storage.S3 != nil && s.cfg.Storage.S3.Enabled {
		presigner, err := newS3Storage(s.log, s.cfg.Storage.S3)
		if err != nil {
			return fmt.Errorf("initializing s3 storage: %w", err)
		}

		s.presigner = presigner

		s.log.Info("S3 storage and presigned URL generation enabled")
	}

	return nil
}

// initGeneration wires the upstream client, reconciler, submission
// service, poller, and watcher.
func (s *server) initGeneration() error {
	client, err := comfy.NewClient(s.log, &s.cfg.Comfy)
	if err != nil {
		return fmt.Errorf("creating upstream client: %w", err)
	}

	s.reconciler = generation.NewReconciler(
		s.log, client, s.store, s.cfg.Comfy.OutputIDs, s.publisher,
	)

	s.service = generation.NewService(
		s.log, &s.cfg.Comfy, client, s.store, s.publisher,
	)

	pollInterval, err := time.ParseDuration(s.cfg.Comfy.PollInterval)
	if err != nil {
		return fmt.Errorf("parsing comfy.poll_interval: %w", err)
	}

	s.poller = generation.NewPoller(s.log, s.reconciler, pollInterval)

	if s.cfg.Watcher.Enabled {
		interval, err := time.ParseDuration(s.cfg.Watcher.Interval)
		if err != nil {
			return fmt.Errorf("parsing watcher.interval: %w", err)
		}

		s.watcher = generation.NewWatcher(
			s.log, s.store, s.reconciler,
			interval, s.cfg.Watcher.Concurrency,
		)
	}

	return nil
}
