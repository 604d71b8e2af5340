package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents an arfor.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	API       APIConfig     `yaml:"api"`
	Stream    StreamConfig  `yaml:"stream"`
	Search    SearchConfig  `yaml:"search"`
	Credits   CreditsConfig `yaml:"credits"`
	Archive   ArchiveConfig `yaml:"archive"`
	Adapter   AdapterConfig `yaml:"adapter"`
	Log       LogConfig     `yaml:"log"`
	StateFile string        `yaml:"state_file"`
}

// APIConfig locates the server and its credentials.
type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Token     string   `yaml:"token"`
	TokenFile string   `yaml:"token_file"`
	Timeout   Duration `yaml:"timeout"`
}

// StreamConfig tunes the progress stream.
type StreamConfig struct {
	Retry              Duration `yaml:"retry"`
	MaxTransportErrors int      `yaml:"max_transport_errors"`
	MaxParseFailures   int      `yaml:"max_parse_failures"`
}

// SearchConfig tunes ticker search.
type SearchConfig struct {
	Debounce Duration `yaml:"debounce"`
	Limit    int      `yaml:"limit"`
}

// CreditsConfig tunes the post-purchase balance poll.
type CreditsConfig struct {
	Schedule []Duration `yaml:"schedule"`
	Jitter   Duration   `yaml:"jitter"`
}

// ArchiveConfig selects where completed results are kept.
type ArchiveConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig selects the completion notifier.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "250ms" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ScheduleDurations returns the credit poll schedule as plain durations.
func (c CreditsConfig) ScheduleDurations() []time.Duration {
	if len(c.Schedule) == 0 {
		return nil
	}
	out := make([]time.Duration, len(c.Schedule))
	for i, d := range c.Schedule {
		out[i] = d.Duration
	}
	return out
}

// Validate rejects values no command could use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Archive.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("archive.backend must be fs or s3, got %q", c.Archive.Backend))
	}
	if c.Archive.Backend != "" && c.Archive.Path == "" {
		errs = append(errs, errors.New("archive.path is required when archive.backend is set"))
	}
	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for adapter type %s", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	if c.Stream.MaxTransportErrors < 0 || c.Stream.MaxParseFailures < 0 {
		errs = append(errs, errors.New("stream limits must be >= 0"))
	}
	if c.Search.Limit < 0 {
		errs = append(errs, fmt.Errorf("search.limit must be >= 0, got %d", c.Search.Limit))
	}
	for i, d := range c.Credits.Schedule {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("credits.schedule[%d] must be positive", i))
		}
	}
	return errors.Join(errs...)
}
