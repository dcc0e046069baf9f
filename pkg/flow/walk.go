package flow

import (
	"path/filepath"
	"slices"
	"strings"
)

// Walk calls fn for every step depth-first, descending into inline
// children of composite steps. Returning false from fn skips that step's
// children.
func Walk(steps []Step, fn func(Step) bool) {
	for _, step := range steps {
		if !fn(step) {
			continue
		}
		if c, ok := step.(Composite); ok {
			Walk(c.Children(), fn)
		}
	}
}

// IsFlowFile reports whether path has a YAML extension.
func IsFlowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ShouldIncludeFlow checks if a flow matches tag filters. Exclusion wins.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	for _, tag := range flow.Config.Tags {
		if slices.Contains(excludeTags, tag) {
			return false
		}
	}
	if len(includeTags) == 0 {
		return true
	}
	for _, tag := range flow.Config.Tags {
		if slices.Contains(includeTags, tag) {
			return true
		}
	}
	return false
}
