// Package mock provides a scripted in-memory driver for running flows
// without a device.
//
// The driver serves a fixed or scripted view hierarchy, records every call,
// and fails on request. Taps can move it to another screen, which is enough
// to exercise login-style flows end to end.
package mock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
)

// Config configures mock driver behavior.
type Config struct {
	// FailOnCall makes call N fail (1-indexed). 0 = never fail.
	FailOnCall int
	// FailWith is the error returned by the failing call; defaults to
	// core.ErrDriver.
	FailWith error
	// CallDelay adds artificial delay per call
	CallDelay time.Duration
	// Platform info to report
	Platform   string
	DeviceID   string
	DeviceName string
}

// Screen is one scripted screen. A tap inside an element whose text or id
// is a key of Transitions moves the driver to the named screen.
type Screen struct {
	Name        string             `yaml:"name"`
	Elements    []core.ElementInfo `yaml:"elements"`
	Transitions map[string]string  `yaml:"transitions"`
}

// Script is the YAML form of a set of screens. The first screen is shown
// after launch.
type Script struct {
	Screens []Screen `yaml:"screens"`
}

// LoadScript reads a screen script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided
	if err != nil {
		return nil, fmt.Errorf("failed to read mock script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse mock script: %w", err)
	}
	if len(s.Screens) == 0 {
		return nil, errors.New("mock script has no screens")
	}
	return &s, nil
}

// Driver is a mock implementation of core.Driver and every optional
// capability. It is safe for concurrent use.
type Driver struct {
	Config Config

	mu       sync.Mutex
	screens  map[string]*Screen
	first    string
	current  string
	calls    []string
	failures map[string]error
	running  map[string]bool
	location [2]float64
}

// New creates a new mock driver showing a single screen with one button.
func New(cfg Config) *Driver {
	if cfg.Platform == "" {
		cfg.Platform = "mock"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Mock Device"
	}
	d := &Driver{
		Config:   cfg,
		failures: make(map[string]error),
		running:  make(map[string]bool),
	}
	d.SetScreens(Screen{Name: "main", Elements: []core.ElementInfo{{
		ID:      "mock-element",
		Text:    "Mock Element",
		Class:   "Button",
		Visible: true,
		Enabled: true,
		Bounds:  core.Bounds{X: 100, Y: 200, Width: 200, Height: 50},
	}}})
	return d
}

// NewFromScript creates a driver that plays s.
func NewFromScript(cfg Config, s *Script) *Driver {
	d := New(cfg)
	d.SetScreens(s.Screens...)
	return d
}

// SetScreens replaces the scripted screens and shows the first one.
func (d *Driver) SetScreens(screens ...Screen) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.screens = make(map[string]*Screen, len(screens))
	d.first = ""
	for i := range screens {
		s := screens[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("screen-%d", i)
		}
		d.screens[s.Name] = &s
		if i == 0 {
			d.first = s.Name
		}
	}
	d.current = d.first
}

// Screen returns the name of the screen currently shown.
func (d *Driver) Screen() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// FailOn makes every call of method (e.g. "Tap", "ViewHierarchy") return
// err. A nil err clears the failure.
func (d *Driver) FailOn(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, method)
		return
	}
	d.failures[method] = err
}

// Calls returns the recorded calls, e.g. "Tap(150,225)".
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Running reports whether appID was launched and not stopped since.
func (d *Driver) Running(appID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[appID]
}

// Location returns the last location set.
func (d *Driver) Location() (lat, lon float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location[0], d.location[1]
}

// call records a call and returns the injected failure, if any. The
// caller holds no lock.
func (d *Driver) call(method, format string, args ...any) error {
	if d.Config.CallDelay > 0 {
		time.Sleep(d.Config.CallDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, method+"("+fmt.Sprintf(format, args...)+")")

	if err, ok := d.failures[method]; ok {
		return err
	}
	if d.Config.FailOnCall > 0 && len(d.calls) == d.Config.FailOnCall {
		if d.Config.FailWith != nil {
			return d.Config.FailWith
		}
		return core.ErrDriver.WithMessagef("mock failure on call %d (%s)", len(d.calls), method)
	}
	return nil
}

// Tap taps p and follows the transition of the element under it.
func (d *Driver) Tap(p core.Point) error {
	if err := d.call("Tap", "%d,%d", p.X, p.Y); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	screen := d.screens[d.current]
	if screen == nil {
		return nil
	}
	for _, el := range screen.Elements {
		if !el.Visible || !el.Bounds.Contains(p) {
			continue
		}
		for _, key := range []string{el.Text, el.ID} {
			if next, ok := screen.Transitions[key]; ok && key != "" {
				d.current = next
				return nil
			}
		}
	}
	return nil
}

// Swipe simulates a swipe.
func (d *Driver) Swipe(start, end core.Point, duration time.Duration) error {
	return d.call("Swipe", "%d,%d,%d,%d,%s", start.X, start.Y, end.X, end.Y, duration)
}

// InputText simulates typing.
func (d *Driver) InputText(text string) error {
	return d.call("InputText", "%q", text)
}

// LaunchApp marks appID running and shows the first screen.
func (d *Driver) LaunchApp(appID string, _ map[string]any) error {
	if err := d.call("LaunchApp", "%s", appID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[appID] = true
	d.current = d.first
	return nil
}

// StopApp marks appID stopped.
func (d *Driver) StopApp(appID string) error {
	if err := d.call("StopApp", "%s", appID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, appID)
	return nil
}

// TakeScreenshot returns a 1x1 PNG.
func (d *Driver) TakeScreenshot() ([]byte, error) {
	if err := d.call("TakeScreenshot", ""); err != nil {
		return nil, err
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// ViewHierarchy returns the current screen under a full-screen root. It is
// not recorded as a call since the executor polls it.
func (d *Driver) ViewHierarchy() (*core.Hierarchy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failures["ViewHierarchy"]; ok {
		return nil, err
	}

	root := &core.Node{Element: core.ElementInfo{
		Class:   "View",
		Visible: true,
		Bounds:  core.Bounds{Width: 1080, Height: 2400},
	}}
	if screen := d.screens[d.current]; screen != nil {
		for _, el := range screen.Elements {
			root.Children = append(root.Children, &core.Node{Element: el})
		}
	}
	return &core.Hierarchy{Root: root}, nil
}

// WaitUntilSettled returns immediately.
func (d *Driver) WaitUntilSettled(timeout time.Duration) error {
	return d.call("WaitUntilSettled", "%s", timeout)
}

// SetLocation stores the location.
func (d *Driver) SetLocation(lat, lon float64) error {
	if err := d.call("SetLocation", "%g,%g", lat, lon); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = [2]float64{lat, lon}
	return nil
}

// PlatformInfo returns mock platform info.
func (d *Driver) PlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:     d.Config.Platform,
		DeviceID:     d.Config.DeviceID,
		DeviceName:   d.Config.DeviceName,
		OSVersion:    "1.0",
		ScreenWidth:  1080,
		ScreenHeight: 2400,
	}
}

// PressKey simulates a key press.
func (d *Driver) PressKey(key string) error { return d.call("PressKey", "%s", key) }

// Back simulates the back button.
func (d *Driver) Back() error { return d.call("Back", "") }

// HideKeyboard simulates hiding the keyboard.
func (d *Driver) HideKeyboard() error { return d.call("HideKeyboard", "") }

// EraseText simulates erasing characters.
func (d *Driver) EraseText(characters int) error { return d.call("EraseText", "%d", characters) }

// OpenLink simulates opening a link.
func (d *Driver) OpenLink(url string) error { return d.call("OpenLink", "%s", url) }

// ClearState simulates clearing app data.
func (d *Driver) ClearState(appID string) error { return d.call("ClearState", "%s", appID) }

// AddMedia simulates pushing media files.
func (d *Driver) AddMedia(paths []string) error { return d.call("AddMedia", "%d", len(paths)) }

var (
	_ core.Driver          = (*Driver)(nil)
	_ core.KeyPresser      = (*Driver)(nil)
	_ core.TextEraser      = (*Driver)(nil)
	_ core.LinkOpener      = (*Driver)(nil)
	_ core.AppStateClearer = (*Driver)(nil)
	_ core.MediaAdder      = (*Driver)(nil)
)
