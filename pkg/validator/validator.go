// Package validator selects the flows of a run and checks them before
// execution. Every selected flow and every flow it references is parsed up
// front, so a broken file fails the run before any device work starts.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/config"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Flows are the selected top-level flows in execution order.
	Flows []*flow.Flow
	// Errors make the run invalid.
	Errors []error
	// Warnings describe references that can only fail at run time and
	// are tolerated there (optional or conditional sub-flows).
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Files returns the paths of the selected flows.
func (r *Result) Files() []string {
	files := make([]string, len(r.Flows))
	for i, f := range r.Flows {
		files[i] = f.SourcePath
	}
	return files
}

// Validator validates flow files.
type Validator struct {
	workspace   *config.Config
	includeTags []string
	excludeTags []string
}

// New creates a Validator. Tags given here are added to those of the
// workspace config. When cfg is nil, each validated directory uses its own
// config.yaml if it has one.
func New(cfg *config.Config, includeTags, excludeTags []string) *Validator {
	return &Validator{workspace: cfg, includeTags: includeTags, excludeTags: excludeTags}
}

// filter is the flow selection in effect for one path.
type filter struct {
	patterns    []string
	includeTags []string
	excludeTags []string
}

func (v *Validator) filterFor(dir string) (filter, error) {
	cfg := v.workspace
	if cfg == nil && dir != "" {
		var err error
		if cfg, err = config.LoadFromDir(dir); err != nil {
			return filter{}, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cfg == nil {
		return filter{includeTags: v.includeTags, excludeTags: v.excludeTags}, nil
	}
	return filter{
		patterns:    cfg.Flows,
		includeTags: append(slices.Clone(cfg.IncludeTags), v.includeTags...),
		excludeTags: append(slices.Clone(cfg.ExcludeTags), v.excludeTags...),
	}, nil
}

// Validate validates files and directories. A directory contributes the
// flows matched by the workspace flow patterns, or its top-level flow
// files when there are none.
func (v *Validator) Validate(paths ...string) *Result {
	result := &Result{}
	selected := make(map[string]bool)
	checked := make(map[string]bool)

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("cannot access: %v", err),
			})
			continue
		}

		dir := ""
		if info.IsDir() {
			dir = path
		}
		sel, err := v.filterFor(dir)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{File: path, Message: err.Error()})
			continue
		}

		files := []string{path}
		if info.IsDir() {
			files, err = collectFlowFiles(path, sel.patterns)
			if err != nil {
				result.Errors = append(result.Errors, &ValidationError{
					File:    path,
					Message: fmt.Sprintf("failed to scan directory: %v", err),
				})
				continue
			}
		}

		for _, file := range files {
			abs, err := filepath.Abs(file)
			if err != nil {
				abs = filepath.Clean(file)
			}
			if selected[abs] {
				continue
			}
			v.validateTopLevel(abs, sel, result, selected, checked)
		}
	}

	return result
}

func (v *Validator) validateTopLevel(path string, sel filter, result *Result, selected, checked map[string]bool) {
	f, err := flow.ParseFile(path)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return
	}
	if !flow.ShouldIncludeFlow(f, sel.includeTags, sel.excludeTags) {
		return
	}

	selected[path] = true
	checked[path] = true
	result.Flows = append(result.Flows, f)
	v.checkReferences(f, result, checked, []link{{path: path}})
}

// link is one flow on the current reference chain. conditional reports
// whether the reference that led to it carries a when condition.
type link struct {
	path        string
	conditional bool
}

// checkReferences validates the sub-flows f references, including those
// nested in composite commands and hooks.
func (v *Validator) checkReferences(f *flow.Flow, result *Result, checked map[string]bool, chain []link) {
	flow.Walk(f.AllSteps(), func(s flow.Step) bool {
		var ref string
		conditional := false
		switch step := s.(type) {
		case *flow.RunFlowStep:
			ref = step.File
			conditional = step.When != nil
		case *flow.RetryStep:
			ref = step.File
		default:
			return true
		}

		ref = strings.TrimSpace(ref)
		switch {
		case ref == "":
		case strings.Contains(ref, "$"):
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: %q is resolved at run time", f.SourcePath, ref))
		default:
			next := link{path: resolveFilePath(f.Dir(), ref), conditional: conditional}
			v.checkFile(next, s.IsOptional() || conditional, result, checked, chain)
		}
		return true
	})
}

// checkFile validates the flow next refers to. A missing file is an error
// unless the reference is optional or conditional. A cycle is an error
// unless every reference on it has a when condition.
func (v *Validator) checkFile(next link, guarded bool, result *Result, checked map[string]bool, chain []link) {
	parent := chain[len(chain)-1].path

	if i := slices.IndexFunc(chain, func(l link) bool { return l.path == next.path }); i >= 0 {
		conditional := next.conditional
		names := make([]string, 0, len(chain)-i+1)
		for j, l := range chain[i:] {
			if j > 0 {
				conditional = conditional && l.conditional
			}
			names = append(names, l.path)
		}
		names = append(names, next.path)
		cycle := strings.Join(names, " -> ")

		if conditional {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: conditional recursion %s", parent, cycle))
			return
		}
		result.Errors = append(result.Errors, &ValidationError{
			File:    next.path,
			Message: fmt.Sprintf("circular dependency detected: %s", cycle),
		})
		return
	}
	if checked[next.path] {
		return
	}
	checked[next.path] = true

	if _, err := os.Stat(next.path); err != nil {
		msg := fmt.Sprintf("referenced flow not found: %s", next.path)
		if guarded {
			result.Warnings = append(result.Warnings, parent+": "+msg)
		} else {
			result.Errors = append(result.Errors, &ValidationError{File: parent, Message: msg})
		}
		return
	}

	sub, err := flow.ParseFile(next.path)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return
	}
	v.checkReferences(sub, result, checked, append(slices.Clone(chain), next))
}

// collectFlowFiles returns the flow files of dir matched by patterns. A
// pattern ending in ** matches every flow file below its prefix; any other
// pattern is a glob whose matching directories are ignored.
func collectFlowFiles(dir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := matchPattern(dir, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func matchPattern(dir, pattern string) ([]string, error) {
	if prefix, ok := strings.CutSuffix(pattern, "**"); ok {
		var files []string
		err := filepath.WalkDir(filepath.Join(dir, prefix), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isCandidate(path) {
				files = append(files, path)
			}
			return nil
		})
		return files, err
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid flow pattern %q: %w", pattern, err)
	}
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() || !isCandidate(m) {
			continue
		}
		files = append(files, m)
	}
	return files, nil
}

// isCandidate reports whether path is a flow file other than the
// workspace config.
func isCandidate(path string) bool {
	if !flow.IsFlowFile(path) {
		return false
	}
	base := strings.ToLower(filepath.Base(path))
	return base != "config.yaml" && base != "config.yml"
}

// resolveFilePath resolves a file path relative to a base directory.
func resolveFilePath(baseDir, filePath string) string {
	if filepath.IsAbs(filePath) {
		return filepath.Clean(filePath)
	}
	return filepath.Join(baseDir, filePath)
}
