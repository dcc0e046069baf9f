package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// fakeDriver implements core.Driver and every optional capability. Calls
// are recorded as short strings; the func fields override behavior.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	platform string
	screen   []core.ElementInfo

	tapFunc       func(p core.Point) error
	inputFunc     func(text string) error
	launchFunc    func(appID string) error
	hierarchyFunc func() (*core.Hierarchy, error)
}

func newFakeDriver(elements ...core.ElementInfo) *fakeDriver {
	return &fakeDriver{platform: "android", screen: elements}
}

func (d *fakeDriver) record(format string, args ...any) {
	d.mu.Lock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// count returns how many recorded calls start with prefix.
func (d *fakeDriver) count(prefix string) int {
	n := 0
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDriver) Tap(p core.Point) error {
	d.record("tap %d,%d", p.X, p.Y)
	if d.tapFunc != nil {
		return d.tapFunc(p)
	}
	return nil
}

func (d *fakeDriver) Swipe(start, end core.Point, duration time.Duration) error {
	d.record("swipe %d,%d->%d,%d %s", start.X, start.Y, end.X, end.Y, duration)
	return nil
}

func (d *fakeDriver) InputText(text string) error {
	d.record("input %s", text)
	if d.inputFunc != nil {
		return d.inputFunc(text)
	}
	return nil
}

func (d *fakeDriver) LaunchApp(appID string, _ map[string]any) error {
	d.record("launch %s", appID)
	if d.launchFunc != nil {
		return d.launchFunc(appID)
	}
	return nil
}

func (d *fakeDriver) StopApp(appID string) error {
	d.record("stop %s", appID)
	return nil
}

func (d *fakeDriver) TakeScreenshot() ([]byte, error) {
	d.record("screenshot")
	return []byte{0x89, 0x50, 0x4E, 0x47}, nil // PNG magic bytes
}

func (d *fakeDriver) ViewHierarchy() (*core.Hierarchy, error) {
	if d.hierarchyFunc != nil {
		return d.hierarchyFunc()
	}
	return screen(d.screen...), nil
}

func (d *fakeDriver) WaitUntilSettled(timeout time.Duration) error {
	d.record("settle %s", timeout)
	return nil
}

func (d *fakeDriver) SetLocation(lat, lon float64) error {
	d.record("location %g,%g", lat, lon)
	return nil
}

func (d *fakeDriver) PlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:     d.platform,
		DeviceID:     "emulator-5554",
		DeviceName:   "Pixel 7",
		ScreenWidth:  1000,
		ScreenHeight: 2000,
	}
}

func (d *fakeDriver) PressKey(key string) error {
	d.record("key %s", key)
	return nil
}

func (d *fakeDriver) Back() error {
	d.record("back")
	return nil
}

func (d *fakeDriver) HideKeyboard() error {
	d.record("hideKeyboard")
	return nil
}

func (d *fakeDriver) EraseText(n int) error {
	d.record("erase %d", n)
	return nil
}

func (d *fakeDriver) OpenLink(url string) error {
	d.record("link %s", url)
	return nil
}

func (d *fakeDriver) ClearState(appID string) error {
	d.record("clear %s", appID)
	return nil
}

func (d *fakeDriver) AddMedia(paths []string) error {
	d.record("media %d", len(paths))
	return nil
}

// bareDriver exposes only the core.Driver methods of a fakeDriver.
type bareDriver struct {
	core.Driver
}

func screen(elements ...core.ElementInfo) *core.Hierarchy {
	root := &core.Node{Element: core.ElementInfo{
		Class:   "FrameLayout",
		Visible: true,
		Bounds:  core.Bounds{Width: 1000, Height: 2000},
	}}
	for _, el := range elements {
		root.Children = append(root.Children, &core.Node{Element: el})
	}
	return &core.Hierarchy{Root: root}
}

// button is a visible, enabled element whose center is (x+50, y+25).
func button(text string, x, y int) core.ElementInfo {
	return core.ElementInfo{
		Text:    text,
		Visible: true,
		Enabled: true,
		Bounds:  core.Bounds{X: x, Y: y, Width: 100, Height: 50},
	}
}

// testOptions probes the hierarchy once instead of waiting.
func testOptions() Options {
	opts := DefaultOptions()
	opts.LookupTimeout = 0
	opts.Artifacts = core.ArtifactConfig{}
	return opts
}

// parseFlow parses src as dir/name.
func parseFlow(t *testing.T, dir, name, src string) *flow.Flow {
	t.Helper()
	f, err := flow.Parse([]byte(src), filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return f
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func statuses(outcomes []report.CommandOutcome) []core.CommandStatus {
	out := make([]core.CommandStatus, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Status
	}
	return out
}
