// Package discovery runs the periodic provider scan: it probes every
// registered adapter, swaps the registry's availability map wholesale,
// and publishes one availability-changed event per provider whose
// reachability flipped. It also probes the well-known default endpoints
// of backend kinds the user has not configured yet and records the
// reachable ones as suggestions.
package discovery

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"modelhub/internal/catalog"
	"modelhub/internal/config"
	"modelhub/internal/events"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
	"modelhub/internal/registry"
)

// probeConcurrency bounds the scan fan-out
const probeConcurrency = 4

// Suggestion is an unconfigured backend that answered on its default
// endpoint during the last scan.
type Suggestion struct {
	Descriptor   provider.Descriptor         `json:"descriptor"`
	Availability provider.AvailabilityResult `json:"availability"`
}

// Scanner owns the discovery loop. At most one scan runs at a time;
// a trigger that arrives mid-scan is dropped, not queued.
type Scanner struct {
	registry     *registry.Registry
	bus          *events.Bus
	logger       *logging.Logger
	interval     time.Duration
	probeTimeout time.Duration

	// candidates are the backend kinds whose default endpoints the
	// suggestion probe tries when the kind is not registered.
	candidates []provider.Descriptor

	scanning atomic.Bool

	mu          sync.Mutex
	suggestions []Suggestion
	lastScanAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scanner from the discovery configuration
func New(reg *registry.Registry, bus *events.Bus, cfg config.DiscoveryConfig, logger *logging.Logger) *Scanner {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	probeTimeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	if probeTimeout <= 0 {
		probeTimeout = provider.DefaultProbeTimeout
	}

	return &Scanner{
		registry:     reg,
		bus:          bus,
		logger:       logger,
		interval:     interval,
		probeTimeout: probeTimeout,
		candidates:   catalog.BuiltinDescriptors(),
	}
}

// Start launches the periodic scan loop. An immediate scan runs first
// so availability is populated before the first tick.
func (s *Scanner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.ScanNow(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ScanNow(ctx)
			}
		}
	}()
}

// Stop terminates the scan loop and waits for it to exit
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// ScanNow triggers one scan. It returns false without scanning when a
// scan is already in flight.
func (s *Scanner) ScanNow(ctx context.Context) bool {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Debug("discovery.scan.skipped", "Scan already in progress", nil)
		return false
	}
	defer s.scanning.Store(false)

	started := time.Now()
	previous := s.registry.AvailabilityMap()

	results := s.probeRegistered(ctx)
	suggestions := s.probeSuggestions(ctx)

	s.registry.ReplaceAvailability(results)

	s.mu.Lock()
	s.suggestions = suggestions
	s.lastScanAt = time.Now().UTC()
	s.mu.Unlock()

	s.publishChanges(previous, results)

	s.logger.Info("discovery.scan.completed", "Provider scan completed", map[string]interface{}{
		"providers":   len(results),
		"suggestions": len(suggestions),
		"duration_ms": time.Since(started).Milliseconds(),
	})

	return true
}

// Suggestions returns the unconfigured-but-reachable backends from the
// most recent scan.
func (s *Scanner) Suggestions() []Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Suggestion(nil), s.suggestions...)
}

// LastScanAt returns when the most recent scan finished (zero before
// the first one).
func (s *Scanner) LastScanAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScanAt
}

func (s *Scanner) probeRegistered(ctx context.Context) map[provider.Type]provider.AvailabilityResult {
	types := s.registry.Types()

	var mu sync.Mutex
	results := make(map[provider.Type]provider.AvailabilityResult, len(types))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	for _, t := range types {
		t := t
		g.Go(func() error {
			adapter, err := s.registry.Adapter(t)
			if err != nil {
				return nil // unregistered between listing and probing
			}

			probeCtx, cancel := context.WithTimeout(gctx, s.probeTimeout)
			result := adapter.Probe(probeCtx)
			cancel()

			mu.Lock()
			results[t] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

// suggestionProbePath maps each built-in kind to the request path its
// default endpoint answers on.
var suggestionProbePath = map[provider.Type]string{
	provider.TypeOllama:       "/api/version",
	provider.TypeOpenAICompat: "/models",
	provider.TypeLlamaServer:  "/health",
}

func (s *Scanner) probeSuggestions(ctx context.Context) []Suggestion {
	registered := make(map[provider.Type]bool)
	for _, t := range s.registry.Types() {
		registered[t] = true
	}

	var mu sync.Mutex
	suggestions := make([]Suggestion, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	client := &http.Client{Timeout: s.probeTimeout}
	for _, desc := range s.candidates {
		if registered[desc.Type] || desc.DefaultEndpoint == "" {
			continue
		}

		desc := desc
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, s.probeTimeout)
			result := provider.ProbeEndpoint(probeCtx, client, desc.DefaultEndpoint+suggestionProbePath[desc.Type])
			cancel()

			if !result.Available {
				return nil
			}

			s.logger.Info("discovery.suggestion.found", "Unconfigured backend answered on default endpoint", map[string]interface{}{
				"provider": desc.Type.String(),
				"endpoint": desc.DefaultEndpoint,
			})

			mu.Lock()
			suggestions = append(suggestions, Suggestion{Descriptor: desc, Availability: result})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return suggestions
}

// publishChanges emits one event per provider whose Available bool
// flipped between scans. A provider never probed before counts as
// unavailable, so the first scan only announces reachable ones.
func (s *Scanner) publishChanges(previous, current map[provider.Type]provider.AvailabilityResult) {
	for t, result := range current {
		wasAvailable := previous[t].Available
		if result.Available == wasAvailable {
			continue
		}

		available := result.Available
		s.bus.Publish(events.Event{
			Type:      events.ProviderAvailabilityChanged,
			Provider:  t,
			Available: &available,
			Error:     result.Error,
		})
	}

	// A provider that left the scan set while available counts as going
	// down; one that left while already down stays silent.
	for t, prev := range previous {
		if _, ok := current[t]; ok || !prev.Available {
			continue
		}

		available := false
		s.bus.Publish(events.Event{
			Type:      events.ProviderAvailabilityChanged,
			Provider:  t,
			Available: &available,
		})
	}
}
