package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings keys. Each can be set in the settings file or as an environment
// variable with the MAESTRO_ prefix, e.g. MAESTRO_LOOKUP_TIMEOUT=30s.
const (
	KeyRepeatMaxIterations = "repeat_max_iterations"
	KeyRetryMaxAttempts    = "retry_max_attempts"
	KeyMaxFlowDepth        = "max_flow_depth"
	KeyLookupTimeout       = "lookup_timeout"
	KeySettleTimeout       = "settle_timeout"
	KeyLogLevel            = "log_level"
	KeyHistoryDB           = "history_db"
)

const envPrefix = "MAESTRO"

// Settings are the runner limits and timeouts.
type Settings struct {
	RepeatMaxIterations int
	RetryMaxAttempts    int
	MaxFlowDepth        int
	LookupTimeout       time.Duration
	SettleTimeout       time.Duration
	LogLevel            string
	HistoryDB           string // Empty disables run history
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		RepeatMaxIterations: 1000,
		RetryMaxAttempts:    3,
		MaxFlowDepth:        50,
		LookupTimeout:       17 * time.Second,
		SettleTimeout:       5 * time.Second,
		LogLevel:            "info",
		HistoryDB:           GetHistoryPath(),
	}
}

// LoadSettings reads settings from path, or from settings.{yaml,json,toml}
// in the home directory when path is empty, then applies MAESTRO_*
// environment variables. A missing default settings file is not an error.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	def := DefaultSettings()
	v.SetDefault(KeyRepeatMaxIterations, def.RepeatMaxIterations)
	v.SetDefault(KeyRetryMaxAttempts, def.RetryMaxAttempts)
	v.SetDefault(KeyMaxFlowDepth, def.MaxFlowDepth)
	v.SetDefault(KeyLookupTimeout, def.LookupTimeout)
	v.SetDefault(KeySettleTimeout, def.SettleTimeout)
	v.SetDefault(KeyLogLevel, def.LogLevel)
	v.SetDefault(KeyHistoryDB, def.HistoryDB)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(GetHome())
	}
	if err := v.ReadInConfig(); err != nil {
		// it's ok if the default settings file doesn't exist
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	s := &Settings{
		RepeatMaxIterations: v.GetInt(KeyRepeatMaxIterations),
		RetryMaxAttempts:    v.GetInt(KeyRetryMaxAttempts),
		MaxFlowDepth:        v.GetInt(KeyMaxFlowDepth),
		LookupTimeout:       v.GetDuration(KeyLookupTimeout),
		SettleTimeout:       v.GetDuration(KeySettleTimeout),
		LogLevel:            v.GetString(KeyLogLevel),
		HistoryDB:           v.GetString(KeyHistoryDB),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that limits are positive and timeouts not negative.
func (s *Settings) Validate() error {
	switch {
	case s.RepeatMaxIterations <= 0:
		return fmt.Errorf("%s must be positive, got %d", KeyRepeatMaxIterations, s.RepeatMaxIterations)
	case s.RetryMaxAttempts <= 0:
		return fmt.Errorf("%s must be positive, got %d", KeyRetryMaxAttempts, s.RetryMaxAttempts)
	case s.MaxFlowDepth <= 0:
		return fmt.Errorf("%s must be positive, got %d", KeyMaxFlowDepth, s.MaxFlowDepth)
	case s.LookupTimeout < 0:
		return fmt.Errorf("%s must not be negative, got %s", KeyLookupTimeout, s.LookupTimeout)
	case s.SettleTimeout < 0:
		return fmt.Errorf("%s must not be negative, got %s", KeySettleTimeout, s.SettleTimeout)
	}
	return nil
}
