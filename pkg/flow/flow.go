// Package flow handles parsing and representation of Maestro YAML flow files.
package flow

import (
	"path/filepath"

	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
)

// Flow represents a parsed Maestro flow file.
type Flow struct {
	SourcePath string // Path to the source file
	Config     Config // Flow configuration (appId, tags, etc.)
	Steps      []Step // Steps to execute
}

// Config represents flow-level configuration.
type Config struct {
	AppID          string   `yaml:"appId"`
	URL            string   `yaml:"url"` // Web app URL (alternative to appId)
	Name           string   `yaml:"name"`
	Tags           []string `yaml:"tags"`
	Env            env.Vars `yaml:"env"`
	OnFlowStart    []Step   `yaml:"-"` // Runs before the commands
	OnFlowComplete []Step   `yaml:"-"` // Always runs after the commands
}

// Name returns the configured name, or the file name without extension.
func (f *Flow) Name() string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	base := filepath.Base(f.SourcePath)
	return base[:len(base)-len(filepath.Ext(base))]
}

// Dir returns the directory relative references resolve against.
func (f *Flow) Dir() string {
	return filepath.Dir(f.SourcePath)
}

// Vars returns the header env plus APP_ID when appId is set.
func (f *Flow) Vars() env.Vars {
	vars := make(env.Vars, 0, len(f.Config.Env)+1)
	if f.Config.AppID != "" {
		vars = append(vars, env.Var{Name: "APP_ID", Value: f.Config.AppID})
	}
	return append(vars, f.Config.Env...)
}

// AllSteps returns onFlowStart, main and onFlowComplete steps in that order.
func (f *Flow) AllSteps() []Step {
	out := make([]Step, 0, len(f.Config.OnFlowStart)+len(f.Steps)+len(f.Config.OnFlowComplete))
	out = append(out, f.Config.OnFlowStart...)
	out = append(out, f.Steps...)
	return append(out, f.Config.OnFlowComplete...)
}
