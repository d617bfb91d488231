package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, "steps: 1000\nbatch_size: 128\noptimizer: adam\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Steps)
	require.Equal(t, 128, cfg.BatchSize)
	require.Equal(t, "adam", cfg.Optimizer)
	// Untouched keys keep their defaults.
	require.Equal(t, Default().NumWorkers, cfg.NumWorkers)
	require.Equal(t, Default().LearningRate, cfg.LearningRate)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "steps: 10\nbatch_siez: 64\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{DataDir: "/data", Steps: 20, Seed: 7, LogEvery: 25})
	require.Equal(t, "/data", cfg.DataDir)
	require.Equal(t, 20, cfg.Steps)
	require.Equal(t, int64(7), cfg.Seed)
	require.Equal(t, 25, cfg.LogEvery)
	// Zero overrides leave values alone.
	require.Equal(t, Default().BatchSize, cfg.BatchSize)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero steps", func(c *Config) { c.Steps = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"bad optimizer", func(c *Config) { c.Optimizer = "rmsprop" }},
		{"zero lr", func(c *Config) { c.LearningRate = 0 }},
		{"momentum one", func(c *Config) { c.Momentum = 1 }},
		{"bad channels", func(c *Config) { c.Channels = 2 }},
		{"image size not multiple of 4", func(c *Config) { c.ImageHeight = 30 }},
		{"negative replicas", func(c *Config) { c.Replicas = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
