package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 24, c.Windows.Buckets)
	assert.Equal(t, 720*time.Hour, c.LongestWindow())
	assert.Equal(t, []time.Duration{168 * time.Hour, 720 * time.Hour}, c.Features.MeanWindows)
	assert.Equal(t, 0.6, c.Alerts.Threshold)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: test
windows:
  sizes: [1h, 24h]
  buckets: 12
features:
  baseline_window: 24h
  activity_window: 1h
  mean_windows: [24h]
pipeline:
  lateness_tolerance: 2m
  hard_cutoff: 10m
alerts:
  threshold: 0.75
detectors:
  weights:
    peer_deviation: 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, []time.Duration{time.Hour, 24 * time.Hour}, c.Windows.Sizes)
	assert.Equal(t, 12, c.Windows.Buckets)
	assert.Equal(t, 2*time.Minute, c.Pipeline.LatenessTolerance)
	assert.Equal(t, 0.75, c.Alerts.Threshold)
	assert.Equal(t, 0.5, c.Detectors.Weights[DetectorPeer])
	// unspecified weights keep their defaults
	assert.Equal(t, 0.35, c.Detectors.Weights[DetectorVolume])
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]struct {
		mutate func(c *Config)
		key    string
	}{
		"unknown detector": {
			mutate: func(c *Config) { c.Detectors.Weights["crystal_ball"] = 1 },
			key:    "detectors.weights.crystal_ball",
		},
		"zero weights": {
			mutate: func(c *Config) {
				for k := range c.Detectors.Weights {
					c.Detectors.Weights[k] = 0
				}
			},
			key: "detectors.weights",
		},
		"tolerance beyond ring": {
			mutate: func(c *Config) { c.Pipeline.LatenessTolerance = time.Hour },
			key:    "pipeline.lateness_tolerance",
		},
		"cutoff below tolerance": {
			mutate: func(c *Config) { c.Pipeline.HardCutoff = time.Minute },
			key:    "pipeline.hard_cutoff",
		},
		"cutoff beyond ring": {
			mutate: func(c *Config) { c.Pipeline.HardCutoff = 2 * time.Hour },
			key:    "pipeline.hard_cutoff",
		},
		"indivisible window": {
			mutate: func(c *Config) { c.Windows.Sizes = append(c.Windows.Sizes, 7*time.Nanosecond) },
			key:    "windows.sizes",
		},
		"baseline not configured": {
			mutate: func(c *Config) { c.Features.BaselineWindow = 48 * time.Hour },
			key:    "features.baseline_window",
		},
		"mean window not configured": {
			mutate: func(c *Config) { c.Features.MeanWindows = []time.Duration{72 * time.Hour} },
			key:    "features.mean_windows",
		},
		"threshold out of range": {
			mutate: func(c *Config) { c.Alerts.Threshold = 1.5 },
			key:    "alerts.threshold",
		},
		"silence shorter than cooldown": {
			mutate: func(c *Config) { c.Alerts.Silence = time.Hour },
			key:    "alerts.silence",
		},
		"remote without url": {
			mutate: func(c *Config) { c.Detectors.Weights[DetectorRemote] = 0.2 },
			key:    "detectors.remote.url",
		},
		"postgres without dsn": {
			mutate: func(c *Config) { c.Metadata.Source = "postgres" },
			key:    "postgres.dsn",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			var cerr *models.ConfigurationError
			require.True(t, errors.As(err, &cerr), "want ConfigurationError, got %v", err)
			assert.Equal(t, tc.key, cerr.Key)
		})
	}
}

func TestValidateStructTags(t *testing.T) {
	c := Default()
	c.Log.Level = "loud"
	var cerr *models.ConfigurationError
	require.ErrorAs(t, c.Validate(), &cerr)
	assert.Contains(t, cerr.Key, "Level")
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o600))

	t.Setenv("ALERT_THRESHOLD", "0.9")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, c.Alerts.Threshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadWithEnvRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o600))
	t.Setenv("ALERT_THRESHOLD", "high")

	_, err := LoadWithEnv(path)
	var cerr *models.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ALERT_THRESHOLD", cerr.Key)
}
