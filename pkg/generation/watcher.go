package generation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/logoforge/logoforge/pkg/api/store"
)

// Watcher is a background service that periodically sweeps all
// non-terminal runs and reconciles each against the pull endpoint.
// The push channel is at-least-once but not reliable; the sweep
// guarantees a dropped webhook cannot strand a run in a stale state.
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Watcher = (*watcher)(nil)

type watcher struct {
	log         logrus.FieldLogger
	store       store.Store
	reconciler  *Reconciler
	interval    time.Duration
	concurrency int
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewWatcher creates a new background run watcher.
func NewWatcher(
	log logrus.FieldLogger,
	st store.Store,
	reconciler *Reconciler,
	interval time.Duration,
	concurrency int,
) Watcher {
	return &watcher{
		log:         log.WithField("component", "watcher"),
		store:       st,
		reconciler:  reconciler,
		interval:    interval,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

// Start launches the sweep goroutine. The first pass runs after one
// interval so a fresh server does not hammer upstream while booting.
func (w *watcher) Start(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"interval":    w.interval.String(),
		"concurrency": w.concurrency,
	}).Info("Starting run watcher")

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runPass(ctx)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the sweep goroutine to stop and waits for it.
func (w *watcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.log.Info("Run watcher stopped")

	return nil
}

// runPass reconciles every active run once, bounded by the configured
// concurrency.
func (w *watcher) runPass(ctx context.Context) {
	runs, err := w.store.ListActiveRuns(ctx)
	if err != nil {
		w.log.WithError(err).Warn("Failed to list active runs")

		return
	}

	if len(runs) == 0 {
		return
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i := range runs {
		runID := runs[i].RunID

		g.Go(func() error {
			if _, _, err := w.reconciler.Refresh(gctx, runID); err != nil {
				w.log.WithError(err).
					WithField("run_id", runID).
					Debug("Sweep reconcile failed")
			}

			// Sweep failures are per-run, never abort the pass.
			return nil
		})
	}

	_ = g.Wait()

	w.log.WithField("runs", len(runs)).
		WithField("duration", time.Since(start)).
		Debug("Sweep pass completed")
}
