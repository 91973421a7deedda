package generation

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/logoforge/logoforge/pkg/api/store"
	"github.com/logoforge/logoforge/pkg/bus"
	"github.com/logoforge/logoforge/pkg/comfy"
)

// Event types pushed by the generation service.
const (
	EventTypeOutput  = "run.output"
	EventTypeUpdated = "run.updated"
)

// Event is one status update for a run, arriving from either the push
// channel (webhook) or a pull of the status endpoint. Fields are
// optional; absent fields leave the stored state untouched.
type Event struct {
	RunID      string             `mapstructure:"run_id"`
	EventType  string             `mapstructure:"event_type"`
	Status     *string            `mapstructure:"status"`
	LiveStatus *string            `mapstructure:"live_status"`
	Progress   *float64           `mapstructure:"progress"`
	Outputs    []comfy.OutputNode `mapstructure:"outputs"`
}

// Reconciler merges status updates from both channels into the run
// store. The store's merge invariants guarantee that out-of-order or
// duplicate events never regress a run's state, so the reconciler
// itself is stateless.
type Reconciler struct {
	log       logrus.FieldLogger
	client    comfy.Client
	store     store.Store
	outputIDs []string
	bus       *bus.Publisher
}

// NewReconciler creates a Reconciler resolving final images against
// the given priority-ordered candidate output ids.
func NewReconciler(
	log logrus.FieldLogger,
	client comfy.Client,
	st store.Store,
	outputIDs []string,
	publisher *bus.Publisher,
) *Reconciler {
	return &Reconciler{
		log:       log.WithField("component", "reconciler"),
		client:    client,
		store:     st,
		outputIDs: outputIDs,
		bus:       publisher,
	}
}

// DecodeEvent converts a loosely-structured push payload into an
// Event. Payloads without a run id are malformed; the caller must
// still acknowledge them.
func DecodeEvent(payload map[string]any) (*Event, error) {
	var ev Event

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ev,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building event decoder: %w", err)
	}

	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if ev.RunID == "" {
		return nil, fmt.Errorf("%w: missing run_id", ErrMalformedEvent)
	}

	return &ev, nil
}

// ApplyEvent merges one event into the run store. Recoverable
// persistence failures are returned for logging but must never be
// surfaced to the push channel, which would retry indefinitely.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev *Event) error {
	upd := store.RunUpdate{
		Status:     ev.Status,
		LiveStatus: ev.LiveStatus,
		Progress:   ev.Progress,
	}

	// Output events, and updates that report success, may carry the
	// terminal image in the outputs payload.
	if ev.EventType == EventTypeOutput ||
		(ev.Status != nil && *ev.Status == store.StatusSuccess) {
		if url, ok := comfy.FindOutputImage(ev.Outputs, r.outputIDs); ok {
			upd.ImageURL = &url
		} else {
			r.log.WithField("run_id", ev.RunID).
				Debug("Event did not carry a resolvable final image")
		}
	}

	if upd.Empty() {
		return nil
	}

	run, err := r.store.MergeRunUpdate(ctx, ev.RunID, upd)
	if err != nil {
		return fmt.Errorf("merging event for run %s: %w", ev.RunID, err)
	}

	r.publish(ctx, run)

	return nil
}

// Refresh pulls current status from the upstream pull endpoint and
// merges it into the store. When upstream reports success and no image
// is stored yet, a second pull with outputs included resolves it: the
// pull endpoint omits outputs unless explicitly asked.
func (r *Reconciler) Refresh(
	ctx context.Context, runID string,
) (*store.Run, *comfy.RunStatus, error) {
	status, err := r.client.GetRun(ctx, runID, false)
	if err != nil {
		return nil, nil, err
	}

	run, err := r.store.MergeRunUpdate(ctx, runID, updateFromStatus(status))
	if err != nil {
		return nil, nil, err
	}

	if status.Status == store.StatusSuccess && run.ImageURL == "" {
		run, err = r.resolveImage(ctx, runID, run)
		if err != nil {
			// The status merge already succeeded; image resolution
			// retries on the next cycle.
			r.log.WithError(err).
				WithField("run_id", runID).
				Warn("Failed to resolve final image from outputs")
		}
	}

	r.publish(ctx, run)

	return run, status, nil
}

// resolveImage re-queries the pull endpoint with outputs included and
// merges the resolved image, if any.
func (r *Reconciler) resolveImage(
	ctx context.Context, runID string, run *store.Run,
) (*store.Run, error) {
	full, err := r.client.GetRun(ctx, runID, true)
	if err != nil {
		return run, err
	}

	url, ok := comfy.FindOutputImage(full.Outputs, r.outputIDs)
	if !ok {
		return run, nil
	}

	merged, err := r.store.MergeRunUpdate(ctx, runID, store.RunUpdate{
		ImageURL: &url,
	})
	if err != nil {
		return run, err
	}

	return merged, nil
}

func (r *Reconciler) publish(ctx context.Context, run *store.Run) {
	subject := SubjectRunUpdated
	if run.Terminal() || run.ImageURL != "" {
		subject = SubjectRunTerminal
	}

	r.bus.Publish(ctx, subject, run)
}

// updateFromStatus converts a pull result into a partial update,
// leaving absent fields untouched.
func updateFromStatus(status *comfy.RunStatus) store.RunUpdate {
	var upd store.RunUpdate

	if status.Status != "" {
		upd.Status = &status.Status
	}

	if status.LiveStatus != "" {
		upd.LiveStatus = &status.LiveStatus
	}

	if status.Progress != nil {
		upd.Progress = status.Progress
	}

	return upd
}
