package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`database: test.db`))
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.Database)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, 30, cfg.GranularityMin)
	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.8, cfg.TierChangeConfirmThreshold)
	assert.Equal(t, 0.7, cfg.ImpactTierThreshold)
	assert.Equal(t, 10*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 5*time.Minute, cfg.AvailabilitySnapshotMaxAge)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
database: planner.db
horizon_days: 30
scheduling_granularity_min: 15
inference_timeout: 2s
availability_snapshot_max_age: 1m
`))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.HorizonDays)
	assert.Equal(t, 15, cfg.GranularityMin)
	assert.Equal(t, 2*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, time.Minute, cfg.AvailabilitySnapshotMaxAge)
}

func TestParse_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad horizon", "horizon_days: 10"},
		{"empty database", `database: ""`},
		{"confidence out of range", "confidence_threshold: 1.5"},
		{"zero granularity", "scheduling_granularity_min: 0"},
		{"duration below minimum", "duration_default_min: 2"},
		{"malformed timeout", `inference_timeout: soon`},
		{"too many retries", "retry_max_attempts: 50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("{{nope"))
	require.Error(t, err)
}

func TestHorizon_UserOverride(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 7*24*time.Hour, cfg.Horizon(0))
	assert.Equal(t, 14*24*time.Hour, cfg.Horizon(14))
	assert.Equal(t, 7*24*time.Hour, cfg.Horizon(9), "invalid user horizon falls back")
}
