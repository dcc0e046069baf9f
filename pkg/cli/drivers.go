package cli

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/driver/mock"
	"github.com/devicelab-dev/maestro-orchestra/pkg/executor"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
)

const driverMock = "mock"

// parseDevices splits the --device flag value into device IDs.
func parseDevices(deviceFlag string) []string {
	if deviceFlag == "" {
		return nil
	}
	var devices []string
	for _, d := range strings.Split(deviceFlag, ",") {
		if d = strings.TrimSpace(d); d != "" {
			devices = append(devices, d)
		}
	}
	return devices
}

// createWorkers returns one worker per device. Without --device, --parallel
// N creates N devices.
func createWorkers(cfg *RunConfig) ([]executor.DeviceWorker, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver != "" && driver != driverMock {
		return nil, fmt.Errorf("unsupported driver %q (available: %s)", cfg.Driver, driverMock)
	}

	var script *mock.Script
	if cfg.ScreensFile != "" {
		var err error
		if script, err = mock.LoadScript(cfg.ScreensFile); err != nil {
			return nil, err
		}
	}

	devices := cfg.Devices
	switch {
	case len(devices) == 0 && cfg.Parallel > 1:
		for i := 1; i <= cfg.Parallel; i++ {
			devices = append(devices, fmt.Sprintf("mock-%d", i))
		}
	case len(devices) == 0:
		devices = []string{""}
	case cfg.Parallel > 0 && cfg.Parallel < len(devices):
		devices = devices[:cfg.Parallel]
	}

	workers := make([]executor.DeviceWorker, len(devices))
	for i, id := range devices {
		mcfg := mock.Config{Platform: cfg.Platform, DeviceID: id, DeviceName: id}
		d := mock.New(mcfg)
		if script != nil {
			d = mock.NewFromScript(mcfg, script)
		}
		info := d.PlatformInfo()
		logger.Info("driver %s ready on %s (%s)", driverMock, info.DeviceID, info.Platform)
		workers[i] = executor.DeviceWorker{ID: i, DeviceID: info.DeviceID, Driver: d}
	}
	return workers, nil
}
