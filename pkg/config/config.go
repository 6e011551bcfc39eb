// Package config loads and validates the engine runtime configuration.
package config

import (
	"fmt"
	"strings"
)

// Config is the top-level runtime configuration of the engine.
//
// It configures the ambient services (logging, metrics, tracing) and the
// run-time behaviour of the simulation and optimisation subsystems. It
// does not describe hydrological models themselves; model files are a
// separate concern.
type Config struct {
	App        AppConfig        `koanf:"app"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Tracing    TracingConfig    `koanf:"tracing"`
	Simulation SimulationConfig `koanf:"simulation"`
	Session    SessionConfig    `koanf:"session"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `koanf:"level"`  // debug, info, warn, error
	Format     string `koanf:"format"` // json, text
	Output     string `koanf:"output"` // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"` // MB
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"` // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// SimulationConfig holds run-time settings of the model engine.
type SimulationConfig struct {
	// Threads used for parallel candidate evaluation in the optimisers.
	// The simulation itself is always single-threaded.
	Threads int `koanf:"threads"`

	// MassBalanceTolerance is the relative tolerance applied when the
	// global mass balance is verified after a run.
	MassBalanceTolerance float64 `koanf:"mass_balance_tolerance"`

	// ReportFrequency is the number of optimiser generations between
	// progress reports.
	ReportFrequency int `koanf:"report_frequency"`
}

// SessionConfig holds session protocol settings.
type SessionConfig struct {
	// LogToFrontend is loaded with the rest of the configuration but no
	// component reads it: engine log records are not forwarded to the
	// frontend as `log` messages.
	LogToFrontend bool `koanf:"log_to_frontend"`
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Sprintf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port))
	}

	if c.Simulation.Threads < 0 {
		errs = append(errs, fmt.Sprintf("simulation.threads must be non-negative, got %d", c.Simulation.Threads))
	}
	if c.Simulation.MassBalanceTolerance <= 0 {
		errs = append(errs, "simulation.mass_balance_tolerance must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
