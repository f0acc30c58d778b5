// Package config provides configuration loading and management for pixfeatstack.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"pixfeatstack/pkg/features"
	"pixfeatstack/pkg/giftops"
	"pixfeatstack/pkg/scheduler"
	"pixfeatstack/pkg/stack"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Feature selection and the parameters shared by all selected features
	Features struct {
		// List names the features to compute, in output channel order
		List []string `yaml:"list"`

		// MinSigma is the smallest smoothing scale
		MinSigma float64 `yaml:"minSigma"`

		// MaxSigma is the largest smoothing scale
		MaxSigma float64 `yaml:"maxSigma"`

		// MembraneThickness is the expected membrane width in pixels
		MembraneThickness int `yaml:"membraneThickness"`

		// MembranePatchSize is the size of the membrane projection kernel
		MembranePatchSize int `yaml:"membranePatchSize"`

		// Window is the neighbourhood size for window filters; 0 derives it
		// from MaxSigma
		Window int `yaml:"window"`

		// AxisLabel names the feature axis of the output stack
		AxisLabel string `yaml:"axisLabel"`
	} `yaml:"features"`

	// Processing parameters
	Processing struct {
		// NumCores bounds the worker pool; 0 uses every available core
		NumCores int `yaml:"numCores"`

		// Sequential computes features one after another without a pool
		Sequential bool `yaml:"sequential"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// ChannelsDir receives one PNG per stack channel when set
		ChannelsDir string `yaml:"channelsDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// defaultFeatureCount is how many features the default list selects
const defaultFeatureCount = 5

// DefaultConfig returns a configuration with default values. The default
// feature list is the first kinds the bundled gift evaluator can compute.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Features.List = features.SelectionFor(giftops.NewRegistry().Supports, defaultFeatureCount)
	cfg.Features.MinSigma = features.DefaultMinSigma
	cfg.Features.MaxSigma = features.DefaultMaxSigma
	cfg.Features.MembraneThickness = features.DefaultMembraneThickness
	cfg.Features.MembranePatchSize = features.DefaultMembranePatchSize
	cfg.Features.AxisLabel = stack.DefaultAxisLabel

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Sequential = false

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Shared returns the feature settings shared by every selected feature
func (c *Config) Shared() features.Shared {
	return features.Shared{
		MinSigma:          c.Features.MinSigma,
		MaxSigma:          c.Features.MaxSigma,
		MembraneThickness: c.Features.MembraneThickness,
		MembranePatchSize: c.Features.MembranePatchSize,
		Window:            c.Features.Window,
	}
}

// Requests builds the ordered feature requests described by the configuration
func (c *Config) Requests() ([]features.Request, error) {
	return features.BuildRequests(c.Features.List, c.Shared())
}

// Mode returns the scheduler mode described by the configuration
func (c *Config) Mode() scheduler.Mode {
	if c.Processing.Sequential {
		return scheduler.Sequential()
	}
	return scheduler.Parallel(c.Processing.NumCores)
}

// Validate checks that every feature name resolves and that the parameters
// are usable by the selected features
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("numCores must not be negative, got %d", c.Processing.NumCores)
	}
	if c.Features.Window < 0 {
		return fmt.Errorf("window must not be negative, got %d", c.Features.Window)
	}
	if _, err := c.Requests(); err != nil {
		return err
	}
	return nil
}
