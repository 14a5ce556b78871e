package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single reachability probe
const DefaultProbeTimeout = 5 * time.Second

// ProbeEndpoint performs a bounded HTTP GET against url and derives an
// AvailabilityResult. Unreachability is reported in the result, never as
// an error; adapters layer version detection on top of this.
func ProbeEndpoint(ctx context.Context, client *http.Client, url string) AvailabilityResult {
	now := time.Now().UTC()
	result := AvailabilityResult{LastProbedAt: &now}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("invalid probe request: %v", err)
		return result
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.LatencyMS = time.Since(start).Milliseconds()

	if resp.StatusCode >= 500 {
		result.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return result
	}

	result.Available = true
	return result
}
