package comfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logoforge/logoforge/pkg/config"
)

func newTestClient(t *testing.T, upstream *httptest.Server) Client {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c, err := NewClient(log, &config.ComfyConfig{
		BaseURL:        upstream.URL,
		APIKey:         "test-key",
		RequestTimeout: "5s",
	})
	require.NoError(t, err)

	return c
}

func TestClient_QueueDeployment(t *testing.T) {
	var gotReq QueueRequest

	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/run/deployment/queue", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"run_id": "run-abc",
			})
		},
	))
	defer upstream.Close()

	c := newTestClient(t, upstream)

	runID, err := c.QueueDeployment(context.Background(), QueueRequest{
		DeploymentID: "dep-1",
		WebhookURL:   "https://example.com/webhook",
		Inputs: map[string]any{
			"input_text": "a fox logo",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-abc", runID)
	assert.Equal(t, "dep-1", gotReq.DeploymentID)
	assert.Equal(t, "https://example.com/webhook", gotReq.WebhookURL)
}

func TestClient_QueueDeployment_UpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"detail": "deployment not found",
			})
		},
	))
	defer upstream.Close()

	c := newTestClient(t, upstream)

	_, err := c.QueueDeployment(context.Background(), QueueRequest{
		DeploymentID: "missing",
	})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "deployment not found")
}

func TestClient_QueueDeployment_MissingRunID(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		},
	))
	defer upstream.Close()

	c := newTestClient(t, upstream)

	_, err := c.QueueDeployment(context.Background(), QueueRequest{})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "missing run_id")
}

func TestClient_GetRun(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/run/run-abc", r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("queue_position"))
			assert.Equal(t, "true", r.URL.Query().Get("outputs"))

			progress := 0.5
			pos := 2
			_ = json.NewEncoder(w).Encode(RunStatus{
				RunID:         "run-abc",
				Status:        "running",
				LiveStatus:    "sampling",
				Progress:      &progress,
				QueuePosition: &pos,
				Outputs: []OutputNode{
					{
						OutputID: "343",
						Data: &OutputData{
							Images: []OutputImage{{URL: "https://img/x.png"}},
						},
					},
				},
			})
		},
	))
	defer upstream.Close()

	c := newTestClient(t, upstream)

	status, err := c.GetRun(context.Background(), "run-abc", true)
	require.NoError(t, err)

	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "sampling", status.LiveStatus)
	require.NotNil(t, status.Progress)
	assert.InDelta(t, 0.5, *status.Progress, 1e-9)
	require.Len(t, status.Outputs, 1)

	url, ok := FindOutputImage(status.Outputs, []string{"343"})
	require.True(t, ok)
	assert.Equal(t, "https://img/x.png", url)
}

func TestClient_GetRun_ExcludesOutputsByDefault(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.URL.Query().Get("outputs"))
			_ = json.NewEncoder(w).Encode(RunStatus{RunID: "run-abc"})
		},
	))
	defer upstream.Close()

	c := newTestClient(t, upstream)

	_, err := c.GetRun(context.Background(), "run-abc", false)
	require.NoError(t, err)
}

func TestClient_GetRun_NotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "run not found", http.StatusNotFound)
		},
	))
	defer upstream.Close()

	c := newTestClient(t, upstream)

	_, err := c.GetRun(context.Background(), "nope", false)
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "404")
}
