package core

import "time"

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Driver is the capability interface the executor calls for primitive UI
// actions. Calls are synchronous and may block on device I/O; failures are
// returned as errors, ideally *ExecutionError so the executor can tell a
// lost session from an ordinary failure.
type Driver interface {
	Tap(p Point) error
	Swipe(start, end Point, duration time.Duration) error
	InputText(text string) error
	LaunchApp(appID string, args map[string]any) error
	StopApp(appID string) error
	TakeScreenshot() ([]byte, error)
	ViewHierarchy() (*Hierarchy, error)
	WaitUntilSettled(timeout time.Duration) error
	SetLocation(latitude, longitude float64) error

	// PlatformInfo returns device details; it must not block.
	PlatformInfo() *PlatformInfo
}

// Optional capabilities. The executor type-asserts for these and reports
// ErrNotSupported when a driver lacks one.
type (
	// KeyPresser presses hardware and soft keys.
	KeyPresser interface {
		PressKey(key string) error
		Back() error
		HideKeyboard() error
	}

	// TextEraser deletes characters from the focused field.
	TextEraser interface {
		EraseText(characters int) error
	}

	// LinkOpener opens deep links and URLs.
	LinkOpener interface {
		OpenLink(url string) error
	}

	// AppStateClearer wipes app data.
	AppStateClearer interface {
		ClearState(appID string) error
	}

	// MediaAdder pushes media files into the device gallery.
	MediaAdder interface {
		AddMedia(paths []string) error
	}
)

// PlatformInfo contains device and platform details.
type PlatformInfo struct {
	Platform     string `json:"platform"`               // ios, android, web
	OSVersion    string `json:"osVersion,omitempty"`    // e.g., "17.0", "14"
	DeviceName   string `json:"deviceName,omitempty"`   // e.g., "iPhone 15 Pro", "Pixel 8"
	DeviceID     string `json:"deviceId,omitempty"`     // Unique device identifier
	ScreenWidth  int    `json:"screenWidth,omitempty"`  // Screen width in pixels
	ScreenHeight int    `json:"screenHeight,omitempty"` // Screen height in pixels
}
