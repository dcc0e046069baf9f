package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "MAESTRO_ORCHESTRA_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the maestro-orchestra home directory, where the settings
// file and the run history live. It is $MAESTRO_ORCHESTRA_HOME when set,
// <home> when the binary is installed as <home>/bin/maestro-orchestra, and
// the working directory otherwise. The result is resolved once.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetHistoryPath returns <home>/history.db, the default run history store.
func GetHistoryPath() string {
	return filepath.Join(GetHome(), "history.db")
}

func resolveHome() string {
	if dir := os.Getenv(envHome); dir != "" {
		return dir
	}

	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if binDir := filepath.Dir(exe); filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// ResetHome forgets the resolved home directory so the next GetHome
// resolves it again.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
