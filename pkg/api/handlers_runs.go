package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/logoforge/logoforge/pkg/api/store"
	"github.com/logoforge/logoforge/pkg/comfy"
	"github.com/logoforge/logoforge/pkg/generation"
)

type submitRunRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
	Size   int    `json:"size"`
}

type submitRunResponse struct {
	RunID string `json:"run_id"`
}

// runResponse is the display snapshot returned to the UI.
type runResponse struct {
	RunID         string         `json:"run_id"`
	Status        string         `json:"status,omitempty"`
	LiveStatus    string         `json:"live_status,omitempty"`
	Progress      *float64       `json:"progress,omitempty"`
	QueuePosition *int           `json:"queue_position,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

func toRunResponse(run *store.Run, queuePosition *int) runResponse {
	return runResponse{
		RunID:         run.RunID,
		Status:        run.Status,
		LiveStatus:    run.LiveStatus,
		Progress:      run.Progress,
		QueuePosition: queuePosition,
		ImageURL:      run.ImageURL,
		Inputs:        map[string]any(run.Inputs),
		CreatedAt:     run.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// handleSubmitRun validates the submission and queues it upstream.
func (s *server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	runID, err := s.service.Submit(r.Context(), user.ID, generation.SubmitInputs{
		Image:  req.Image,
		Prompt: req.Prompt,
		Size:   req.Size,
	})

	switch {
	case errors.Is(err, generation.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	case errors.Is(err, comfy.ErrUpstream):
		writeJSON(w, http.StatusBadGateway, errorResponse{err.Error()})

		return
	case err != nil:
		s.log.WithError(err).Error("Failed to submit run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	metricRunsSubmitted.Inc()

	writeJSON(w, http.StatusCreated, submitRunResponse{RunID: runID})
}

// handleListRuns lists the authenticated user's runs, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	runs, err := s.service.ListRuns(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]runResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunResponse(&runs[i], nil))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetRun returns the run's current state. For non-terminal runs
// the upstream pull endpoint is queried first and its result merged
// into the store, so the response reflects live upstream state. When
// upstream is unreachable the stored snapshot is returned instead.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	runID := chi.URLParam(r, "run_id")

	run, err := s.service.GetRun(r.Context(), user.ID, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	} else if err != nil {
		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if run.Terminal() && run.ImageURL != "" {
		writeJSON(w, http.StatusOK, toRunResponse(run, nil))

		return
	}

	refreshed, status, err := s.reconciler.Refresh(r.Context(), runID)
	if err != nil {
		s.log.WithError(err).
			WithField("run_id", runID).
			Debug("Upstream refresh failed, serving stored snapshot")

		writeJSON(w, http.StatusOK, toRunResponse(run, nil))

		return
	}

	var queuePosition *int
	if status != nil {
		queuePosition = status.QueuePosition
	}

	writeJSON(w, http.StatusOK, toRunResponse(refreshed, queuePosition))
}

// handleWatchRun streams run snapshots as server-sent events until the
// run reaches a terminal state or the client disconnects.
func (s *server) handleWatchRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	runID := chi.URLParam(r, "run_id")

	// Ownership check before the poll session starts.
	if _, err := s.service.GetRun(r.Context(), user.ID, runID); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"streaming not supported"})

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range s.poller.Watch(r.Context(), runID) {
		data, err := json.Marshal(toRunResponse(snap.Run, snap.QueuePosition))
		if err != nil {
			s.log.WithError(err).Warn("Failed to encode run snapshot")

			continue
		}

		fmt.Fprintf(w, "event: run\ndata: %s\n\n", data)
		flusher.Flush()
	}
}

// handleWebhook ingests a push event from the generation service. The
// upstream retries on any non-2xx response, so once the body parses as
// JSON the endpoint acknowledges with 200 regardless of what happens
// during the merge. Internal failures are logged and recovered by the
// pull path.
func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid JSON body"})

		return
	}

	ev, err := generation.DecodeEvent(payload)
	if err != nil {
		metricWebhookEvents.WithLabelValues(webhookOutcomeMalformed).Inc()

		s.log.WithError(err).Warn("Discarding malformed webhook event")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		return
	}

	if err := s.reconciler.ApplyEvent(r.Context(), ev); err != nil {
		metricWebhookEvents.WithLabelValues(webhookOutcomeFailed).Inc()

		s.log.WithError(err).
			WithField("run_id", ev.RunID).
			Warn("Failed to apply webhook event")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		return
	}

	metricWebhookEvents.WithLabelValues(webhookOutcomeApplied).Inc()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
