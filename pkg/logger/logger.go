// Package logger provides the process-wide file logger. Until Init is
// called every call is a no-op, so library code can log unconditionally.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	sugar   = zap.NewNop().Sugar()
	level   = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logFile *os.File
)

// Init opens logPath for appending and routes all logging there as JSON lines.
func Init(logPath string) error {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //#nosec G304 -- path from CLI
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(f), level)

	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	logFile = f
	sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return nil
}

// SetLevel changes the minimum level: debug, info, warn or error.
func SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	_ = sugar.Sync()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	sugar = zap.NewNop().Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Info logs an info message.
func Info(format string, v ...any) { current().Infof(format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...any) { current().Debugf(format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...any) { current().Warnf(format, v...) }

// Error logs an error message.
func Error(format string, v ...any) { current().Errorf(format, v...) }

// With returns a logger carrying structured key/value pairs, e.g.
// logger.With("flow", name).Infow("started").
func With(keysAndValues ...any) *zap.SugaredLogger {
	return current().With(keysAndValues...)
}

// GetWriter returns the underlying log file, or io.Discard before Init.
func GetWriter() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	if logFile != nil {
		return logFile
	}
	return io.Discard
}
