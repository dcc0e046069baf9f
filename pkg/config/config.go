// Package config handles configuration for maestro-orchestra.
//
// Two layers exist: the workspace config.yaml that sits next to the flows
// (flow selection, env, execution order) and the runner Settings (timeouts
// and limits) read through viper from a settings file and MAESTRO_*
// environment variables.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Glob patterns for flows
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Execution settings
	Env            env.Vars       `yaml:"env"` // Environment variables, in file order
	ExecutionOrder ExecutionOrder `yaml:"executionOrder"`

	// Device settings
	Platform string `yaml:"platform"` // Target platform
	Device   string `yaml:"device"`   // Target device
}

// ExecutionOrder pins the order of some flows.
type ExecutionOrder struct {
	ContinueOnFailure *bool    `yaml:"continueOnFailure"`
	FlowsOrder        []string `yaml:"flowsOrder"` // Flow names, run first in this order
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return empty config
	return &Config{}, nil
}

// StopOnFail reports whether the config asks to stop after the first
// failing flow. Execution continues unless continueOnFailure is false.
func (c *Config) StopOnFail() bool {
	return c.ExecutionOrder.ContinueOnFailure != nil && !*c.ExecutionOrder.ContinueOnFailure
}

// Order returns flows with those named in flowsOrder first, in that order,
// followed by the rest in their original order.
func (c *Config) Order(flows []*flow.Flow) []*flow.Flow {
	if len(c.ExecutionOrder.FlowsOrder) == 0 {
		return flows
	}

	byName := make(map[string][]int)
	for i, f := range flows {
		byName[f.Name()] = append(byName[f.Name()], i)
	}

	ordered := make([]*flow.Flow, 0, len(flows))
	taken := make([]bool, len(flows))
	for _, name := range c.ExecutionOrder.FlowsOrder {
		for _, i := range byName[name] {
			if !taken[i] {
				taken[i] = true
				ordered = append(ordered, flows[i])
			}
		}
	}
	for i, f := range flows {
		if !taken[i] {
			ordered = append(ordered, f)
		}
	}
	return ordered
}
