package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logoforge/logoforge/pkg/api/store"
	"github.com/logoforge/logoforge/pkg/comfy"
)

func newTestReconciler(
	t *testing.T, client comfy.Client,
) (*Reconciler, store.Store) {
	t.Helper()

	st := newTestStore(t)
	rec := NewReconciler(
		testLogger(), client, st,
		[]string{"343", "final_result", "8"}, nil,
	)

	return rec, st
}

func seedRun(t *testing.T, st store.Store, runID string) {
	t.Helper()

	require.NoError(t, st.CreateRun(context.Background(), &store.Run{
		RunID:   runID,
		OwnerID: 1,
	}))
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantErr error
		check   func(t *testing.T, ev *Event)
	}{
		{
			name:    "missing run_id",
			payload: map[string]any{"status": "running"},
			wantErr: ErrMalformedEvent,
		},
		{
			name: "status update",
			payload: map[string]any{
				"run_id":      "run-1",
				"event_type":  "run.updated",
				"status":      "running",
				"live_status": "sampling",
				"progress":    0.4,
			},
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, "run-1", ev.RunID)
				assert.Equal(t, EventTypeUpdated, ev.EventType)
				require.NotNil(t, ev.Progress)
				assert.InDelta(t, 0.4, *ev.Progress, 1e-9)
			},
		},
		{
			// Push payloads are not strictly typed: progress can
			// arrive as an int and node ids as numbers.
			name: "weakly typed fields",
			payload: map[string]any{
				"run_id":   "run-1",
				"progress": 1,
				"outputs": []any{
					map[string]any{
						"node_id": 343,
						"data": map[string]any{
							"images": []any{
								map[string]any{"url": "https://img/logo.png"},
							},
						},
					},
				},
			},
			check: func(t *testing.T, ev *Event) {
				require.NotNil(t, ev.Progress)
				assert.InDelta(t, 1.0, *ev.Progress, 1e-9)
				require.Len(t, ev.Outputs, 1)
				assert.Equal(t, "343", ev.Outputs[0].NodeID)
			},
		},
		{
			name: "unknown fields ignored",
			payload: map[string]any{
				"run_id":     "run-1",
				"event_type": "run.output",
				"workflow":   map[string]any{"nodes": []any{}},
			},
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, EventTypeOutput, ev.EventType)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent(tt.payload)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestReconciler_ApplyEvent_MergesStatus(t *testing.T) {
	rec, st := newTestReconciler(t, &fakeClient{})
	ctx := context.Background()

	seedRun(t, st, "run-1")

	err := rec.ApplyEvent(ctx, &Event{
		RunID:      "run-1",
		EventType:  EventTypeUpdated,
		Status:     strPtr(store.StatusRunning),
		LiveStatus: strPtr("sampling"),
		Progress:   floatPtr(0.25),
	})
	require.NoError(t, err)

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusRunning, run.Status)
	assert.Equal(t, "sampling", run.LiveStatus)
	require.NotNil(t, run.Progress)
	assert.InDelta(t, 0.25, *run.Progress, 1e-9)
}

func TestReconciler_ApplyEvent_ResolvesImageFromOutputs(t *testing.T) {
	rec, st := newTestReconciler(t, &fakeClient{})
	ctx := context.Background()

	seedRun(t, st, "run-1")

	err := rec.ApplyEvent(ctx, &Event{
		RunID:     "run-1",
		EventType: EventTypeOutput,
		Outputs: []comfy.OutputNode{
			{
				NodeID: "7",
				Data: &comfy.OutputData{
					Images: []comfy.OutputImage{{URL: "https://img/preview.png"}},
				},
			},
			{
				NodeID: "343",
				Data: &comfy.OutputData{
					Images: []comfy.OutputImage{{URL: "https://img/final.png"}},
				},
			},
		},
	})
	require.NoError(t, err)

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/final.png", run.ImageURL)
}

func TestReconciler_ApplyEvent_UnknownRun(t *testing.T) {
	rec, _ := newTestReconciler(t, &fakeClient{})

	err := rec.ApplyEvent(context.Background(), &Event{
		RunID:  "missing",
		Status: strPtr(store.StatusRunning),
	})
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestReconciler_ApplyEvent_EmptyUpdateIsNoop(t *testing.T) {
	rec, _ := newTestReconciler(t, &fakeClient{})

	// No run exists, but an event carrying nothing mergeable must not
	// fail either.
	err := rec.ApplyEvent(context.Background(), &Event{
		RunID:     "missing",
		EventType: EventTypeUpdated,
	})
	require.NoError(t, err)
}

func TestReconciler_ApplyEvent_StaleAfterTerminal(t *testing.T) {
	rec, st := newTestReconciler(t, &fakeClient{})
	ctx := context.Background()

	seedRun(t, st, "run-1")

	require.NoError(t, rec.ApplyEvent(ctx, &Event{
		RunID:  "run-1",
		Status: strPtr(store.StatusSuccess),
	}))

	// A delayed progress event must not revert the terminal status.
	require.NoError(t, rec.ApplyEvent(ctx, &Event{
		RunID:      "run-1",
		Status:     strPtr(store.StatusRunning),
		LiveStatus: strPtr("sampling"),
		Progress:   floatPtr(0.5),
	}))

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, run.Status)
	assert.Nil(t, run.Progress)
}

func TestReconciler_Refresh_MergesPulledStatus(t *testing.T) {
	client := &fakeClient{
		statuses: map[string]*comfy.RunStatus{
			"run-1": {
				RunID:         "run-1",
				Status:        store.StatusRunning,
				LiveStatus:    "sampling",
				Progress:      floatPtr(0.6),
				QueuePosition: intPtr(0),
			},
		},
	}
	rec, st := newTestReconciler(t, client)
	ctx := context.Background()

	seedRun(t, st, "run-1")

	run, status, err := rec.Refresh(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusRunning, run.Status)
	require.NotNil(t, run.Progress)
	assert.InDelta(t, 0.6, *run.Progress, 1e-9)
	require.NotNil(t, status.QueuePosition)
	assert.Equal(t, 0, *status.QueuePosition)
}

func TestReconciler_Refresh_ResolvesImageOnSuccess(t *testing.T) {
	// The first pull omits outputs; a second pull with outputs
	// included resolves the image once success is reported.
	client := &fakeClient{
		statuses: map[string]*comfy.RunStatus{
			"run-1": {RunID: "run-1", Status: store.StatusSuccess},
		},
		full: map[string]*comfy.RunStatus{
			"run-1": {
				RunID:  "run-1",
				Status: store.StatusSuccess,
				Outputs: []comfy.OutputNode{
					{
						OutputID: "final_result",
						Data: &comfy.OutputData{
							Images: []comfy.OutputImage{{URL: "https://img/final.png"}},
						},
					},
				},
			},
		},
	}
	rec, st := newTestReconciler(t, client)
	ctx := context.Background()

	seedRun(t, st, "run-1")

	run, _, err := rec.Refresh(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusSuccess, run.Status)
	assert.Equal(t, "https://img/final.png", run.ImageURL)
}

func TestReconciler_Refresh_ImageResolutionFailureKeepsStatus(t *testing.T) {
	// Success pulls through even when the outputs pull fails: image
	// resolution retries on the next cycle.
	client := &fakeClient{
		statuses: map[string]*comfy.RunStatus{
			"run-1": {RunID: "run-1", Status: store.StatusSuccess},
		},
	}
	rec, st := newTestReconciler(t, client)
	ctx := context.Background()

	seedRun(t, st, "run-1")

	run, _, err := rec.Refresh(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusSuccess, run.Status)
	assert.Empty(t, run.ImageURL)
}

func intPtr(i int) *int { return &i }
