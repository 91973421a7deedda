package config

// ComfyConfig contains settings for the external image generation
// service and status reconciliation.
type ComfyConfig struct {
	BaseURL      string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	DeploymentID string `yaml:"deployment_id" mapstructure:"deployment_id"`

	// CallbackBaseURL is the externally reachable base URL of this
	// server, used to build the webhook callback address.
	CallbackBaseURL string `yaml:"callback_base_url,omitempty" mapstructure:"callback_base_url"`

	// TunnelURLFile, when set, points to a file containing a dev tunnel
	// URL that takes priority over CallbackBaseURL. The file is written
	// by an external tunnel process and re-read on every submission.
	TunnelURLFile string `yaml:"tunnel_url_file,omitempty" mapstructure:"tunnel_url_file"`

	// OutputIDs is the priority-ordered list of workflow output node
	// identifiers checked when resolving the final image.
	OutputIDs []string `yaml:"output_ids,omitempty" mapstructure:"output_ids"`

	RequestTimeout string `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`
	PollInterval   string `yaml:"poll_interval,omitempty" mapstructure:"poll_interval"`
}

// WatcherConfig configures the background sweep that reconciles
// non-terminal runs against the pull endpoint.
type WatcherConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Interval    string `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// BusConfig configures the optional NATS event bus. Run lifecycle
// events are published so UIs can subscribe instead of polling.
type BusConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty" mapstructure:"subject_prefix"`
}
