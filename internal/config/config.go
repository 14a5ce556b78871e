package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"modelhub/internal/configdir"
	"modelhub/internal/fsutil"
	"modelhub/internal/provider"
)

const (
	systemConfigFile = "config.yaml"
	userConfigDir    = ".modelhub"
	userConfigFile   = "config.yaml"
)

// Load loads and merges configuration from system and user files
// Priority: defaults < system config < user config
func Load() (Config, error) {
	cfg := DefaultConfig()

	systemPath := filepath.Join(configdir.ConfigDir(), systemConfigFile)
	if err := mergeConfigFile(&cfg, systemPath); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load system config: %w", err)
		}
		// System config not existing is OK, continue with defaults
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(homeDir, userConfigDir, userConfigFile)
		if err := mergeConfigFile(&cfg, userPath); err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to load user config: %w", err)
			}
		}
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// LoadFrom loads configuration from a specific file path
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// SaveTo writes the configuration to path atomically. API keys are
// stripped first: they belong to the encrypted key store, never to YAML.
func SaveTo(cfg Config, path string) error {
	sanitized := cfg
	sanitized.Providers = make(map[string]provider.Config, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		pc.APIKey = ""
		sanitized.Providers[name] = pc
	}

	data, err := yaml.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return fsutil.AtomicWriteFile(path, data, 0o600, nil)
}

// UserConfigPath returns the path to the user configuration file
func UserConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, userConfigFile), nil
}

// SystemConfigPath returns the path to the system configuration file
func SystemConfigPath() string {
	return filepath.Join(configdir.ConfigDir(), systemConfigFile)
}

// mergeConfigFile reads a YAML file and merges it into the existing config
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	mergeConfig(cfg, &overlay)
	return nil
}

// mergeConfig merges non-zero values from src into dst
func mergeConfig(dst, src *Config) {
	// Booleans are taken from the overlay as parsed
	dst.Enabled = src.Enabled
	dst.AutoSwitch = src.AutoSwitch

	if src.MaxDiskSpaceBytes != 0 {
		dst.MaxDiskSpaceBytes = src.MaxDiskSpaceBytes
	}
	if src.ModelsDirectory != "" {
		dst.ModelsDirectory = src.ModelsDirectory
	}
	if src.ActiveProvider != "" {
		dst.ActiveProvider = src.ActiveProvider
	}

	// Provider entries replace wholesale per provider type
	for name, pc := range src.Providers {
		if dst.Providers == nil {
			dst.Providers = map[string]provider.Config{}
		}
		dst.Providers[name] = pc
	}

	if src.Discovery.IntervalSeconds != 0 {
		dst.Discovery.IntervalSeconds = src.Discovery.IntervalSeconds
	}
	if src.Discovery.ProbeTimeoutSeconds != 0 {
		dst.Discovery.ProbeTimeoutSeconds = src.Discovery.ProbeTimeoutSeconds
	}
	if src.Downloads.MaxConcurrent != 0 {
		dst.Downloads.MaxConcurrent = src.Downloads.MaxConcurrent
	}
	if src.Downloads.ProgressIntervalMS != 0 {
		dst.Downloads.ProgressIntervalMS = src.Downloads.ProgressIntervalMS
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.File != "" {
		dst.Logging.File = src.Logging.File
	}
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}
