package generation

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/logoforge/logoforge/pkg/api/store"
	"github.com/logoforge/logoforge/pkg/bus"
	"github.com/logoforge/logoforge/pkg/comfy"
	"github.com/logoforge/logoforge/pkg/config"
)

// webhookPath is the event-intake route registered with the
// generation service at submission time.
const webhookPath = "/api/v1/webhook/comfy"

// Bus subjects for run lifecycle events.
const (
	SubjectRunSubmitted = "runs.submitted"
	SubjectRunUpdated   = "runs.updated"
	SubjectRunTerminal  = "runs.terminal"
)

// SubmitInputs are the submission parameters for one generation job.
type SubmitInputs struct {
	// Image is a reference to the uploaded logo (a URL or data URL).
	Image string `json:"image"`

	// Prompt is the free-form generation prompt.
	Prompt string `json:"prompt"`

	// Size is the requested output dimension in pixels.
	Size int `json:"size"`
}

// Service validates submissions, forwards them to the generation
// service with a webhook callback registered, and records the run.
type Service struct {
	log    logrus.FieldLogger
	cfg    *config.ComfyConfig
	client comfy.Client
	store  store.Store
	bus    *bus.Publisher
}

// NewService creates a new submission service.
func NewService(
	log logrus.FieldLogger,
	cfg *config.ComfyConfig,
	client comfy.Client,
	st store.Store,
	publisher *bus.Publisher,
) *Service {
	return &Service{
		log:    log.WithField("component", "generation"),
		cfg:    cfg,
		client: client,
		store:  st,
		bus:    publisher,
	}
}

// Submit validates the inputs, queues the job upstream, and records
// the run for the owner. On upstream failure no run row is created.
func (s *Service) Submit(
	ctx context.Context, ownerID uint, in SubmitInputs,
) (string, error) {
	if err := validateInputs(in); err != nil {
		return "", err
	}

	inputs := map[string]any{
		"input_image":  in.Image,
		"input_text":   in.Prompt,
		"input_number": in.Size,
	}

	runID, err := s.client.QueueDeployment(ctx, comfy.QueueRequest{
		DeploymentID: s.cfg.DeploymentID,
		WebhookURL:   s.webhookURL(),
		Inputs:       inputs,
	})
	if err != nil {
		return "", fmt.Errorf("queueing run: %w", err)
	}

	run := &store.Run{
		RunID:   runID,
		OwnerID: ownerID,
		Inputs:  datatypes.JSONMap(inputs),
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		// The job is already accepted upstream; reconciling the
		// missing local record is left to the operator.
		s.log.WithError(err).
			WithField("run_id", runID).
			Error("Run accepted upstream but local record creation failed")

		return "", fmt.Errorf("recording run %s: %w", runID, err)
	}

	s.log.WithField("run_id", runID).
		WithField("owner_id", ownerID).
		Info("Run submitted")

	s.bus.Publish(ctx, SubjectRunSubmitted, run)

	return runID, nil
}

// GetRun returns the stored run snapshot, scoped to the owner. An
// owner mismatch is indistinguishable from a missing run.
func (s *Service) GetRun(
	ctx context.Context, ownerID uint, runID string,
) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.OwnerID != ownerID {
		return nil, store.ErrRunNotFound
	}

	return run, nil
}

// ListRuns returns all runs for the owner, newest first.
func (s *Service) ListRuns(
	ctx context.Context, ownerID uint,
) ([]store.Run, error) {
	return s.store.ListRuns(ctx, ownerID)
}

// webhookURL builds the callback address the generation service will
// push events to. A dev tunnel URL file, when configured and readable,
// takes priority over the configured public base URL.
func (s *Service) webhookURL() string {
	base := s.cfg.CallbackBaseURL

	if s.cfg.TunnelURLFile != "" {
		data, err := os.ReadFile(s.cfg.TunnelURLFile)
		if err != nil {
			s.log.WithError(err).
				WithField("file", s.cfg.TunnelURLFile).
				Warn("Failed to read tunnel URL file, using callback base URL")
		} else if url := strings.TrimSpace(string(data)); url != "" {
			base = url
		}
	}

	return strings.TrimRight(base, "/") + webhookPath +
		"?target_events=run.output,run.updated"
}

func validateInputs(in SubmitInputs) error {
	if strings.TrimSpace(in.Image) == "" {
		return fmt.Errorf("%w: image reference is required", ErrInvalidInput)
	}

	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt text is required", ErrInvalidInput)
	}

	if in.Size <= 0 {
		return fmt.Errorf("%w: size must be a positive integer", ErrInvalidInput)
	}

	return nil
}
