// Package config loads and validates training run configuration from YAML,
// with CLI-supplied overrides applied on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	// DataDir points at the dataset root. For IDX runs it holds the four
	// IDX files; for image-folder runs it holds one subdirectory per class.
	DataDir string `yaml:"data_dir"`

	// ModelDir receives checkpoints and is searched on resume.
	ModelDir string `yaml:"model_dir"`

	// Backbone is a checkpoint path providing pretrained trunk weights.
	Backbone string `yaml:"backbone"`

	Steps     int `yaml:"steps"`
	BatchSize int `yaml:"batch_size"`

	// Optimizer selects "sgd" or "adam".
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`

	// Replicas is the mirrored replica count; 0 uses every logical CPU.
	Replicas int `yaml:"replicas"`

	NumWorkers    int   `yaml:"num_workers"`
	ShuffleBuffer int   `yaml:"shuffle_buffer"`
	Prefetch      int   `yaml:"prefetch"`
	Seed          int64 `yaml:"seed"`

	LogEvery        int `yaml:"log_every"`
	SaveEvery       int `yaml:"save_every"`
	KeepCheckpoints int `yaml:"keep_checkpoints"`

	// Image geometry for image-folder datasets. IDX files carry their own.
	ImageHeight int `yaml:"image_height"`
	ImageWidth  int `yaml:"image_width"`
	Channels    int `yaml:"channels"`
}

// Overrides captures CLI supplied values. Zero values leave the config
// untouched.
type Overrides struct {
	DataDir   string
	ModelDir  string
	Backbone  string
	Steps     int
	BatchSize int
	Replicas  int
	Seed      int64
	LogEvery  int
}

// Default returns a runnable configuration for the built-in dataset.
func Default() *Config {
	return &Config{
		Steps:           500,
		BatchSize:       64,
		Optimizer:       "sgd",
		LearningRate:    0.05,
		Momentum:        0.9,
		Replicas:        0,
		NumWorkers:      4,
		ShuffleBuffer:   4096,
		Prefetch:        2,
		Seed:            1,
		LogEvery:        50,
		SaveEvery:       100,
		KeepCheckpoints: 5,
		ImageHeight:     64,
		ImageWidth:      64,
		Channels:        3,
	}
}

// Load reads a Config from YAML on top of the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.ModelDir != "" {
		c.ModelDir = o.ModelDir
	}
	if o.Backbone != "" {
		c.Backbone = o.Backbone
	}
	if o.Steps > 0 {
		c.Steps = o.Steps
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Replicas > 0 {
		c.Replicas = o.Replicas
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be > 0 (got %d)", c.Steps)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.Replicas < 0 {
		return fmt.Errorf("replicas must be >= 0 (got %d)", c.Replicas)
	}
	switch c.Optimizer {
	case "sgd", "adam":
	default:
		return fmt.Errorf("optimizer must be sgd or adam (got %q)", c.Optimizer)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("channels must be 1 or 3 (got %d)", c.Channels)
	}
	if c.ImageHeight <= 0 || c.ImageHeight%4 != 0 || c.ImageWidth <= 0 || c.ImageWidth%4 != 0 {
		return fmt.Errorf("image dimensions must be positive multiples of 4 (got %dx%d)",
			c.ImageHeight, c.ImageWidth)
	}
	return nil
}
