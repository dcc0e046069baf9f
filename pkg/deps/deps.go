// Package deps discovers every file a flow transitively references:
// sub-flows, scripts and media.
//
// Discovery is lenient. A referenced file that is missing or fails to
// parse is reported as a Warning and dropped; the walk continues with the
// remaining frontier.
package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
)

// Warning describes a reference that was dropped during discovery.
type Warning struct {
	File      string // File holding the reference, or the file that failed to parse
	Reference string // Raw reference as written; empty for parse failures
	Err       error
}

func (w Warning) Error() string {
	if w.Reference != "" {
		return fmt.Sprintf("%s: reference %q: %v", w.File, w.Reference, w.Err)
	}
	return fmt.Sprintf("%s: %v", w.File, w.Err)
}

// Walker runs the breadth-first discovery.
type Walker struct {
	// OnWarning is called for every dropped reference. Defaults to a debug log.
	OnWarning func(Warning)
}

// DiscoverAllDependencies returns root followed by every file it
// transitively references, each exactly once, in discovery order.
func DiscoverAllDependencies(root string) ([]string, error) {
	return (&Walker{}).Discover(root)
}

// Discover walks the reference graph from root. The only error is a
// missing root; everything past the root is best effort.
func (w *Walker) Discover(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	if !isRegularFile(abs) {
		return nil, fmt.Errorf("flow file not found: %s", root)
	}

	discovered := make(map[string]bool)
	var order []string
	frontier := []string{abs}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		if discovered[current] {
			continue
		}
		discovered[current] = true
		order = append(order, current)

		if !flow.IsFlowFile(current) {
			continue
		}

		f, err := flow.ParseFile(current)
		if err != nil {
			w.warn(Warning{File: current, Err: err})
			continue
		}

		for _, ref := range References(f) {
			resolved, ok := resolveDependencyFile(current, ref)
			if !ok {
				w.warn(Warning{File: current, Reference: ref, Err: os.ErrNotExist})
				continue
			}
			if !discovered[resolved] {
				frontier = append(frontier, resolved)
			}
		}
	}

	return order, nil
}

func (w *Walker) warn(warning Warning) {
	if w.OnWarning != nil {
		w.OnWarning(warning)
		return
	}
	logger.Debug("dependency discovery: %v", warning)
}

// References returns the raw file references of a parsed flow, including
// those nested in composite commands and lifecycle hooks.
func References(f *flow.Flow) []string {
	var refs []string
	flow.Walk(f.AllSteps(), func(s flow.Step) bool {
		switch step := s.(type) {
		case *flow.RunFlowStep:
			refs = append(refs, step.File)
		case *flow.RetryStep:
			refs = append(refs, step.File)
		case *flow.RunScriptStep:
			refs = append(refs, step.File)
		case *flow.AddMediaStep:
			refs = append(refs, step.Files...)
		}
		return true
	})

	out := refs[:0]
	for _, r := range refs {
		if strings.TrimSpace(r) != "" {
			out = append(out, r)
		}
	}
	return out
}

// resolveDependencyFile resolves ref against the directory of the
// referencing file. Only existing non-directory files are kept.
func resolveDependencyFile(from, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(from), path)
	}
	path = filepath.Clean(path)
	if !isRegularFile(path) {
		return "", false
	}
	return path, true
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
