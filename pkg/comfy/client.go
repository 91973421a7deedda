package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/logoforge/logoforge/pkg/config"
	"github.com/sirupsen/logrus"
)

// ErrUpstream indicates the generation service was unreachable,
// returned a non-success response, or produced a malformed body.
var ErrUpstream = errors.New("upstream service error")

// maxErrorBody bounds how much of an upstream error response is read
// for the detail message.
const maxErrorBody = 4 * 1024

// QueueRequest is a normalized job submission for the generation
// service.
type QueueRequest struct {
	DeploymentID string         `json:"deployment_id"`
	WebhookURL   string         `json:"webhook,omitempty"`
	Inputs       map[string]any `json:"inputs"`
}

// RunStatus is the state reported by the pull endpoint for a run. The
// pull endpoint is lower fidelity than webhook payloads: outputs are
// only populated when explicitly requested.
type RunStatus struct {
	RunID         string       `json:"run_id"`
	Status        string       `json:"status,omitempty"`
	LiveStatus    string       `json:"live_status,omitempty"`
	Progress      *float64     `json:"progress,omitempty"`
	QueuePosition *int         `json:"queue_position,omitempty"`
	Outputs       []OutputNode `json:"outputs,omitempty"`
}

// Client is the interface to the external image generation service.
type Client interface {
	// QueueDeployment submits a job and returns the upstream-assigned
	// run id.
	QueueDeployment(ctx context.Context, req QueueRequest) (string, error)

	// GetRun fetches current run status from the pull endpoint.
	// Outputs are included only when includeOutputs is set.
	GetRun(ctx context.Context, runID string, includeOutputs bool) (*RunStatus, error)
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log        logrus.FieldLogger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the configured generation service.
// All requests carry a bounded timeout so submission never hangs
// indefinitely.
func NewClient(log logrus.FieldLogger, cfg *config.ComfyConfig) (Client, error) {
	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing comfy.request_timeout: %w", err)
	}

	return &client{
		log:        log.WithField("component", "comfy-client"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type queueResponse struct {
	RunID string `json:"run_id"`
}

// QueueDeployment implements Client.
func (c *client) QueueDeployment(
	ctx context.Context, req QueueRequest,
) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding queue request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/api/run/deployment/queue",
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("building queue request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: queueing deployment: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.upstreamError(resp)
	}

	var queued queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return "", fmt.Errorf("%w: decoding queue response: %v", ErrUpstream, err)
	}

	if queued.RunID == "" {
		return "", fmt.Errorf("%w: queue response missing run_id", ErrUpstream)
	}

	return queued.RunID, nil
}

// GetRun implements Client.
func (c *client) GetRun(
	ctx context.Context, runID string, includeOutputs bool,
) (*RunStatus, error) {
	query := url.Values{"queue_position": {"true"}}
	if includeOutputs {
		query.Set("outputs", "true")
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+"/api/run/"+url.PathEscape(runID)+"?"+query.Encode(),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching run status: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.upstreamError(resp)
	}

	var status RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: decoding status response: %v", ErrUpstream, err)
	}

	return &status, nil
}

// upstreamError builds an ErrUpstream carrying the upstream detail
// message when one is available.
func (c *client) upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = resp.Status
	}

	// Upstream errors often arrive as {"error": "..."} or
	// {"detail": "..."}; surface the message alone when present.
	var parsed struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			detail = parsed.Error
		} else if parsed.Detail != "" {
			detail = parsed.Detail
		}
	}

	return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, detail)
}
