package deps

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// Summary groups a flow's dependencies by kind.
type Summary struct {
	Root     string
	Total    int
	Subflows []string
	Scripts  []string
	Other    []string
}

// Summarize discovers the dependencies of root and groups them.
func Summarize(root string) (*Summary, error) {
	files, err := DiscoverAllDependencies(root)
	if err != nil {
		return nil, err
	}

	s := &Summary{Root: files[0], Total: len(files)}
	for _, f := range files[1:] {
		switch {
		case flow.IsFlowFile(f):
			s.Subflows = append(s.Subflows, f)
		case isScriptFile(f):
			s.Scripts = append(s.Scripts, f)
		default:
			s.Other = append(s.Other, f)
		}
	}
	return s, nil
}

func isScriptFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".js")
}

// String renders the summary as printed by the deps command.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dependency discovery for: %s\n", filepath.Base(s.Root))
	fmt.Fprintf(&b, "Total files: %d\n", s.Total)
	if len(s.Subflows) > 0 {
		fmt.Fprintf(&b, "Subflows: %d\n", len(s.Subflows))
	}
	if len(s.Scripts) > 0 {
		fmt.Fprintf(&b, "Scripts: %d\n", len(s.Scripts))
	}
	if len(s.Other) > 0 {
		fmt.Fprintf(&b, "Other files: %d\n", len(s.Other))
	}

	writeGroup(&b, "Subflow files:", s.Subflows)
	writeGroup(&b, "Script files:", s.Scripts)
	writeGroup(&b, "Other files:", s.Other)
	return b.String()
}

func writeGroup(b *strings.Builder, title string, files []string) {
	if len(files) == 0 {
		return
	}
	b.WriteString(title + "\n")
	for _, f := range files {
		fmt.Fprintf(b, "  - %s\n", filepath.Base(f))
	}
}
