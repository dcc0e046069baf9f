package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Document is the top level of report.json.
type Document struct {
	Version   string         `json:"version"`
	Generated time.Time      `json:"generated"`
	Status    string         `json:"status"`
	Suites    []*SuiteResult `json:"suites"`
}

// WriteJSON writes the suites to path as report.json.
func WriteJSON(path string, suites ...*SuiteResult) error {
	var all []*FlowResult
	for _, s := range suites {
		all = append(all, s.Flows...)
	}
	doc := Document{
		Version:   Version,
		Generated: time.Now(),
		Status:    Aggregate(all).String(),
		Suites:    suites,
	}
	return atomicWriteJSON(path, doc)
}

// atomicWriteJSON writes v to a temp file in the same directory and renames
// it over path, so readers never see a partial file.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
