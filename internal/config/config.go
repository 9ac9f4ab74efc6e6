// Package config loads and validates the immutable engine configuration.
//
// The YAML file is unified with an embedded CUE schema before any value is
// used; a config that fails the schema never reaches the engine. The loaded
// Config is a plain value threaded in at construction - there is no global
// configuration state.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the immutable engine configuration.
type Config struct {
	// Database is the SQLite database path.
	Database string `yaml:"database" json:"database"`

	// HorizonDays is the rebuild window length: 7, 14 or 30.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// GranularityMin is the scheduling slot size in minutes.
	GranularityMin int `yaml:"scheduling_granularity_min" json:"scheduling_granularity_min"`
	// DurationDefaultMin is the default task duration in minutes.
	DurationDefaultMin int `yaml:"duration_default_min" json:"duration_default_min"`

	// ConfidenceThreshold is the minimum inference confidence to accept a
	// proposed attribute.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	// TierChangeConfirmThreshold is the minimum confidence for an
	// inference-driven tier change to apply without user confirmation.
	TierChangeConfirmThreshold float64 `yaml:"tier_change_confirm_threshold" json:"tier_change_confirm_threshold"`
	// ImpactTierThreshold is the impact score at which a task reaches the
	// downstream-impact tier.
	ImpactTierThreshold float64 `yaml:"impact_tier_threshold" json:"impact_tier_threshold"`

	// InferenceTimeout bounds each adapter call.
	InferenceTimeout time.Duration `yaml:"-" json:"-"`
	// AvailabilitySnapshotMaxAge is how stale a cached availability
	// snapshot may be before an outage aborts the rebuild.
	AvailabilitySnapshotMaxAge time.Duration `yaml:"-" json:"-"`
	// RetryBaseDelay seeds the exponential backoff at suspension points.
	RetryBaseDelay time.Duration `yaml:"-" json:"-"`
	// RetryMaxAttempts caps attempts at suspension points.
	RetryMaxAttempts int `yaml:"retry_max_attempts" json:"retry_max_attempts"`

	// SweepSchedule is the daemon's cron spec for the periodic
	// materialize/rebuild/sync sweep.
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`

	// Raw duration strings, kept for schema validation.
	InferenceTimeoutRaw           string `yaml:"inference_timeout" json:"inference_timeout"`
	AvailabilitySnapshotMaxAgeRaw string `yaml:"availability_snapshot_max_age" json:"availability_snapshot_max_age"`
	RetryBaseDelayRaw             string `yaml:"retry_base_delay" json:"retry_base_delay"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:                      "qzwhatnext.db",
		HorizonDays:                   7,
		GranularityMin:                30,
		DurationDefaultMin:            30,
		ConfidenceThreshold:           0.6,
		TierChangeConfirmThreshold:    0.8,
		ImpactTierThreshold:           0.7,
		InferenceTimeout:              10 * time.Second,
		AvailabilitySnapshotMaxAge:    5 * time.Minute,
		RetryBaseDelay:                500 * time.Millisecond,
		RetryMaxAttempts:              3,
		SweepSchedule:                 "*/15 * * * *",
		InferenceTimeoutRaw:           "10s",
		AvailabilitySnapshotMaxAgeRaw: "5m",
		RetryBaseDelayRaw:             "500ms",
	}
}

// Load reads, validates and resolves a YAML config file. Missing fields
// take defaults; present fields must satisfy the schema.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates and resolves raw YAML config bytes.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveDurations(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate unifies the config with the embedded CUE schema.
func validate(cfg Config) error {
	cueCtx := cuecontext.New()

	schema := cueCtx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	data := cueCtx.Encode(cfg)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("config")).Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) resolveDurations() error {
	var err error
	if c.InferenceTimeout, err = time.ParseDuration(c.InferenceTimeoutRaw); err != nil {
		return fmt.Errorf("invalid inference_timeout: %w", err)
	}
	if c.AvailabilitySnapshotMaxAge, err = time.ParseDuration(c.AvailabilitySnapshotMaxAgeRaw); err != nil {
		return fmt.Errorf("invalid availability_snapshot_max_age: %w", err)
	}
	if c.RetryBaseDelay, err = time.ParseDuration(c.RetryBaseDelayRaw); err != nil {
		return fmt.Errorf("invalid retry_base_delay: %w", err)
	}
	return nil
}

// Horizon returns the rebuild window length as a duration, preferring the
// user's own setting when valid.
func (c Config) Horizon(userDays int) time.Duration {
	days := c.HorizonDays
	if userDays == 7 || userDays == 14 || userDays == 30 {
		days = userDays
	}
	return time.Duration(days) * 24 * time.Hour
}
