package config

import "modelhub/internal/provider"

// Config represents the complete modelhub configuration
type Config struct {
	Enabled           bool                       `yaml:"enabled"`
	AutoSwitch        bool                       `yaml:"auto_switch"`
	MaxDiskSpaceBytes int64                      `yaml:"max_disk_space_bytes"`
	ModelsDirectory   string                     `yaml:"models_directory"`
	ActiveProvider    string                     `yaml:"active_provider"`
	Providers         map[string]provider.Config `yaml:"providers"`
	Discovery         DiscoveryConfig            `yaml:"discovery"`
	Downloads         DownloadsConfig            `yaml:"downloads"`
	Logging           LoggingConfig              `yaml:"logging"`
}

// DiscoveryConfig tunes the background provider scan
type DiscoveryConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds"`
}

// DownloadsConfig tunes the download worker pool and progress cadence
type DownloadsConfig struct {
	MaxConcurrent      int `yaml:"max_concurrent"`
	ProgressIntervalMS int `yaml:"progress_interval_ms"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}
