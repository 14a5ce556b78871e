package config

import (
	"fmt"
	"net/url"

	"modelhub/internal/provider"
)

// Validate checks the merged configuration for structural errors
func (c Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.MaxDiskSpaceBytes < 0 {
		errs = append(errs, ValidationError{
			Path:    "max_disk_space_bytes",
			Message: "must not be negative",
		})
	}

	if c.ActiveProvider != "" && !provider.Type(c.ActiveProvider).IsValid() {
		errs = append(errs, ValidationError{
			Path:    "active_provider",
			Message: fmt.Sprintf("unknown provider type %q", c.ActiveProvider),
		})
	}

	for name, pc := range c.Providers {
		if !provider.Type(name).IsValid() {
			errs = append(errs, ValidationError{
				Path:    "providers." + name,
				Message: "unknown provider type",
			})
		}
		if pc.Endpoint != "" {
			if err := ValidateEndpoint(pc.Endpoint); err != nil {
				errs = append(errs, ValidationError{
					Path:    "providers." + name + ".endpoint",
					Message: err.Error(),
				})
			}
		}
	}

	if c.Discovery.IntervalSeconds < 5 {
		errs = append(errs, ValidationError{
			Path:    "discovery.interval_seconds",
			Message: "must be at least 5",
		})
	}
	if c.Discovery.ProbeTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Path:    "discovery.probe_timeout_seconds",
			Message: "must be at least 1",
		})
	}

	if c.Downloads.MaxConcurrent < 1 || c.Downloads.MaxConcurrent > 8 {
		errs = append(errs, ValidationError{
			Path:    "downloads.max_concurrent",
			Message: "must be between 1 and 8",
		})
	}
	if c.Downloads.ProgressIntervalMS < 50 {
		errs = append(errs, ValidationError{
			Path:    "downloads.progress_interval_ms",
			Message: "must be at least 50",
		})
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}

	return errs
}

// ValidateEndpoint checks that an endpoint URL is well-formed. It does
// not probe reachability; that is the discovery scanner's job.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
