package generation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logoforge/logoforge/pkg/api/store"
)

// Snapshot is one observed state of a watched run.
type Snapshot struct {
	Run           *store.Run
	QueuePosition *int
}

// Poller drives per-run poll sessions against the pull endpoint. Any
// number of sessions may watch the same run concurrently: every cycle
// only reads upstream state and merges it through the reconciler, so
// sessions cannot conflict.
type Poller struct {
	log        logrus.FieldLogger
	reconciler *Reconciler
	interval   time.Duration
}

// NewPoller creates a Poller cycling at the given interval.
func NewPoller(
	log logrus.FieldLogger,
	reconciler *Reconciler,
	interval time.Duration,
) *Poller {
	return &Poller{
		log:        log.WithField("component", "poller"),
		reconciler: reconciler,
		interval:   interval,
	}
}

// Watch starts a poll session for the run and returns a channel of
// snapshots. The channel closes when the run reaches a terminal status
// or a final image is resolved, when the run does not exist, or when
// ctx is cancelled. A fresh session may be started for the same run at
// any time.
func (p *Poller) Watch(ctx context.Context, runID string) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	go func() {
		defer close(ch)

		log := p.log.WithField("run_id", runID)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			run, status, err := p.reconciler.Refresh(ctx, runID)

			switch {
			case errors.Is(err, store.ErrRunNotFound):
				log.Debug("Poll session ended, run not found")

				return
			case err != nil:
				// Transient upstream failures: keep the session alive
				// and retry on the next tick.
				log.WithError(err).Debug("Poll cycle failed")
			default:
				snap := Snapshot{Run: run}
				if status != nil {
					snap.QueuePosition = status.QueuePosition
				}

				select {
				case ch <- snap:
				case <-ctx.Done():
					return
				}

				if terminalSnapshot(run) {
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// terminalSnapshot reports whether polling can stop: the run reached a
// terminal status or an image was resolved.
func terminalSnapshot(run *store.Run) bool {
	return run.Terminal() || run.ImageURL != ""
}
