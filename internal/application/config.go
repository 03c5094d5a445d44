package application

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// Duration wraps time.Duration with YAML support for values like
// "1s" or "250ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration, loaded from YAML and
// validated with struct tags.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Retry     RetryConfig     `yaml:"retry"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects and tunes the document store backend.
type StoreConfig struct {
	// Backend chooses the DocumentStore implementation.
	Backend string `yaml:"backend" validate:"required,oneof=memory badger"`

	// Dir is the database directory for the badger backend.
	Dir string `yaml:"dir" validate:"required_if=Backend badger"`

	// RateLimit is the sustained request rate against the store.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`

	// Burst is the token bucket size above the sustained rate.
	Burst int `yaml:"burst" validate:"min=0"`
}

// RetryConfig tunes the safe operation wrapper's envelope.
type RetryConfig struct {
	// Retries is the number of retries after the first attempt.
	Retries int `yaml:"retries" validate:"min=0,max=10"`

	// Delay is the fixed wait between attempts.
	Delay Duration `yaml:"delay"`
}

// ReconcileConfig tunes the batch jobs.
type ReconcileConfig struct {
	// MaxConcurrent caps in-flight per-presentation work so batches
	// do not trip the remote store's rate limits.
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1,max=64"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	// Level is a logrus level name.
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
}

// DefaultConfig returns the configuration used when no file is given:
// an in-memory store, the standard retry envelope, and a fan-out of
// DefaultMaxConcurrent.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend:   "memory",
			RateLimit: 50,
			Burst:     25,
		},
		Retry: RetryConfig{
			Retries: 2,
			Delay:   Duration(time.Second),
		},
		Reconcile: ReconcileConfig{
			MaxConcurrent: DefaultMaxConcurrent,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML configuration file, layers it over the
// defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
