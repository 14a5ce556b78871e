package config

import (
	"path/filepath"

	"modelhub/internal/fsutil"
	"modelhub/internal/provider"
)

const (
	// DefaultDiscoveryInterval is the default scan interval in seconds
	DefaultDiscoveryInterval = 30
	// DefaultProbeTimeout is the default per-probe timeout in seconds
	DefaultProbeTimeout = 5
	// DefaultMaxConcurrentDownloads caps the download worker pool
	DefaultMaxConcurrentDownloads = 3
	// DefaultProgressIntervalMS is the minimum gap between progress events per model
	DefaultProgressIntervalMS = 200
	// DefaultMaxDiskSpaceBytes is the default model quota (50 GiB)
	DefaultMaxDiskSpaceBytes = int64(50) << 30
)

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	stateDir := fsutil.GetStateDir(fsutil.DefaultStateDir)

	return Config{
		Enabled:           true,
		AutoSwitch:        false,
		MaxDiskSpaceBytes: DefaultMaxDiskSpaceBytes,
		ModelsDirectory:   filepath.Join(stateDir, "models"),
		Providers:         map[string]provider.Config{},
		Discovery: DiscoveryConfig{
			IntervalSeconds:     DefaultDiscoveryInterval,
			ProbeTimeoutSeconds: DefaultProbeTimeout,
		},
		Downloads: DownloadsConfig{
			MaxConcurrent:      DefaultMaxConcurrentDownloads,
			ProgressIntervalMS: DefaultProgressIntervalMS,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
