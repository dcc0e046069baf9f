package mock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
)

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})

	info := d.PlatformInfo()
	if info.Platform != "mock" || info.DeviceID != "mock-device" || info.DeviceName != "Mock Device" {
		t.Errorf("PlatformInfo() = %+v", info)
	}

	h, err := d.ViewHierarchy()
	if err != nil {
		t.Fatalf("ViewHierarchy() error = %v", err)
	}
	elements := h.Elements()
	if len(elements) != 2 || elements[1].Text != "Mock Element" {
		t.Errorf("Elements() = %+v", elements)
	}
}

func TestDriver_RecordsCalls(t *testing.T) {
	d := New(Config{})

	_ = d.LaunchApp("com.example", nil)
	_ = d.Tap(core.Point{X: 150, Y: 225})
	_ = d.InputText("hello")
	_ = d.Back()
	_ = d.SetLocation(52.5, 13.4)
	_ = d.StopApp("com.example")

	want := []string{
		"LaunchApp(com.example)",
		"Tap(150,225)",
		`InputText("hello")`,
		"Back()",
		"SetLocation(52.5,13.4)",
		"StopApp(com.example)",
	}
	if diff := cmp.Diff(want, d.Calls()); diff != "" {
		t.Errorf("Calls() mismatch (-want +got):\n%s", diff)
	}
	if d.Running("com.example") {
		t.Error("app still running after StopApp")
	}
	if lat, lon := d.Location(); lat != 52.5 || lon != 13.4 {
		t.Errorf("Location() = %g, %g", lat, lon)
	}
}

func TestDriver_FailOnCall(t *testing.T) {
	d := New(Config{FailOnCall: 2})

	if err := d.Tap(core.Point{}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	err := d.InputText("x")
	if !errors.Is(err, core.ErrDriver) {
		t.Errorf("second call error = %v, want driver error", err)
	}
	if err := d.Back(); err != nil {
		t.Errorf("third call failed: %v", err)
	}
}

func TestDriver_FailWith(t *testing.T) {
	d := New(Config{FailOnCall: 1, FailWith: core.ErrSessionLost})

	if err := d.Tap(core.Point{}); !core.IsSessionLoss(err) {
		t.Errorf("Tap() error = %v, want session loss", err)
	}
}

func TestDriver_FailOn(t *testing.T) {
	d := New(Config{})
	d.FailOn("ViewHierarchy", core.ErrDeviceDisconnected)

	if _, err := d.ViewHierarchy(); !core.IsSessionLoss(err) {
		t.Errorf("ViewHierarchy() error = %v", err)
	}

	d.FailOn("ViewHierarchy", nil)
	if _, err := d.ViewHierarchy(); err != nil {
		t.Errorf("ViewHierarchy() after clearing error = %v", err)
	}
}

func TestDriver_Transitions(t *testing.T) {
	d := New(Config{})
	d.SetScreens(
		Screen{
			Name: "login",
			Elements: []core.ElementInfo{
				{Text: "Login", Visible: true, Bounds: core.Bounds{X: 0, Y: 0, Width: 100, Height: 50}},
			},
			Transitions: map[string]string{"Login": "home"},
		},
		Screen{
			Name:     "home",
			Elements: []core.ElementInfo{{Text: "Welcome", Visible: true}},
		},
	)

	if err := d.Tap(core.Point{X: 500, Y: 500}); err != nil {
		t.Fatal(err)
	}
	if d.Screen() != "login" {
		t.Errorf("tap outside an element moved to %q", d.Screen())
	}

	if err := d.Tap(core.Point{X: 50, Y: 25}); err != nil {
		t.Fatal(err)
	}
	if d.Screen() != "home" {
		t.Errorf("Screen() = %q, want home", d.Screen())
	}

	if err := d.LaunchApp("com.example", nil); err != nil {
		t.Fatal(err)
	}
	if d.Screen() != "login" || !d.Running("com.example") {
		t.Errorf("after launch: screen %q, running %v", d.Screen(), d.Running("com.example"))
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screens.yaml")
	script := `
screens:
  - name: login
    elements:
      - text: Login
        visible: true
        enabled: true
        bounds: {x: 0, y: 0, width: 200, height: 100}
    transitions:
      Login: home
  - name: home
    elements:
      - id: welcome
        text: Welcome
        visible: true
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	d := NewFromScript(Config{}, s)
	_ = d.Tap(core.Point{X: 100, Y: 50})

	h, _ := d.ViewHierarchy()
	elements := h.Elements()
	if d.Screen() != "home" || len(elements) != 2 || elements[1].ID != "welcome" {
		t.Errorf("screen %q, elements %+v", d.Screen(), elements)
	}
}

func TestLoadScript_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("screens: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.yaml"), empty} {
		if _, err := LoadScript(path); err == nil {
			t.Errorf("LoadScript(%s) succeeded", filepath.Base(path))
		}
	}
}
