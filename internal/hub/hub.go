// Package hub wires the registry, catalog, discovery scanner, download
// manager, and event bus together and exposes the command surface the
// client layer calls. Every method returns a typed error whose kind the
// caller can branch on; none of them panic across the boundary.
package hub

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"modelhub/internal/catalog"
	"modelhub/internal/config"
	"modelhub/internal/discovery"
	"modelhub/internal/download"
	"modelhub/internal/events"
	"modelhub/internal/fsutil"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
	"modelhub/internal/provider/llamaserver"
	"modelhub/internal/provider/ollama"
	"modelhub/internal/provider/openaicompat"
	"modelhub/internal/registry"
	"modelhub/internal/secrets"
)

// ProviderInfo is the per-provider view returned to the client layer
type ProviderInfo struct {
	Descriptor   provider.Descriptor         `json:"descriptor"`
	Config       provider.Config             `json:"config"`
	Availability provider.AvailabilityResult `json:"availability"`
	Active       bool                        `json:"active"`
}

// Service is the single entry point for the client layer
type Service struct {
	mu         sync.Mutex
	cfg        config.Config
	configPath string

	logger    *logging.Logger
	catalog   *catalog.Catalog
	registry  *registry.Registry
	bus       *events.Bus
	keys      *secrets.KeyStore
	downloads *download.Manager
	scanner   *discovery.Scanner
}

// New builds the service from configuration. configPath is where config
// mutations (active provider, disk limit, provider configs) are written
// back; empty disables persistence.
func New(cfg config.Config, configPath string, logger *logging.Logger) (*Service, error) {
	return newService(cfg, configPath, logger, nil)
}

func newService(cfg config.Config, configPath string, logger *logging.Logger, factory registry.Factory) (*Service, error) {
	s := &Service{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		catalog:    catalog.New(),
	}

	stateDir := fsutil.GetStateDir(fsutil.DefaultStateDir)
	keys, err := secrets.NewKeyStore(filepath.Join(stateDir, "secrets"), logger)
	if err != nil {
		return nil, provider.WrapError(provider.KindInternal, "failed to open key store", err)
	}
	s.keys = keys

	if s.cfg.ModelsDirectory != "" {
		if err := os.MkdirAll(s.cfg.ModelsDirectory, 0o750); err != nil {
			return nil, provider.WrapError(provider.KindConfiguration, "failed to create models directory", err)
		}
	}

	if factory == nil {
		factory = s.buildAdapter
	}
	s.registry = registry.New(factory, logger)
	s.bus = events.NewBus(logger)

	for name, pc := range cfg.Providers {
		t := provider.Type(name)
		if pc.APIKey == "" {
			if key, err := keys.APIKey(name); err == nil {
				pc.APIKey = key
			}
		}
		if err := s.registry.Register(t, pc); err != nil {
			logger.Warn("hub.register_failed", "Skipping misconfigured provider", map[string]interface{}{
				"provider": name,
				"error":    err.Error(),
			})
		}
	}

	if cfg.ActiveProvider != "" {
		if err := s.registry.SetActive(provider.Type(cfg.ActiveProvider)); err != nil {
			logger.Warn("hub.active_invalid", "Configured active provider is not registered", map[string]interface{}{
				"provider": cfg.ActiveProvider,
			})
		}
	}

	downloads, err := download.NewManager(s.registry, s.catalog, s.bus, &s.cfg, logger)
	if err != nil {
		return nil, err
	}
	s.downloads = downloads
	s.scanner = discovery.New(s.registry, s.bus, cfg.Discovery, logger)

	return s, nil
}

// buildAdapter is the registry's factory for the built-in backend kinds.
// This is the only place that branches on provider kind.
func (s *Service) buildAdapter(t provider.Type, cfg provider.Config) (provider.Provider, error) {
	switch {
	case t == provider.TypeOllama:
		return ollama.New(cfg, s.catalog, s.logger), nil
	case t == provider.TypeOpenAICompat:
		return openaicompat.New(cfg, s.logger), nil
	case t == provider.TypeLlamaServer:
		return llamaserver.New(cfg, s.cfg.ModelsDirectory, s.catalog, s.logger), nil
	case t.IsCustom():
		name := strings.TrimPrefix(string(t), "custom:")
		return openaicompat.NewCustom(name, cfg, s.logger), nil
	default:
		return nil, provider.Errorf(provider.KindUnknownProvider, "no adapter for provider type %q", t)
	}
}

// Start launches the background discovery loop and the models watcher
func (s *Service) Start(ctx context.Context) {
	s.scanner.Start(ctx)

	if err := s.downloads.Start(ctx); err != nil {
		s.logger.Warn("hub.watch_unavailable", "Models directory watcher not running", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Close stops background work and waits for in-flight transfers to wind
// down.
func (s *Service) Close() {
	s.scanner.Stop()
	s.downloads.Close()
}

// Subscribe registers an event stream consumer
func (s *Service) Subscribe(buffer int) *events.Subscription {
	return s.bus.Subscribe(buffer)
}

// Unsubscribe removes an event stream consumer
func (s *Service) Unsubscribe(id uuid.UUID) {
	s.bus.Unsubscribe(id)
}

// AllProviders returns every registered provider with its configuration
// (API key redacted), last-known availability, and active flag.
func (s *Service) AllProviders() []ProviderInfo {
	active := s.registry.Active()

	infos := make([]ProviderInfo, 0)
	for _, t := range s.registry.Types() {
		adapter, err := s.registry.Adapter(t)
		if err != nil {
			continue
		}
		cfg, _ := s.registry.Config(t)
		cfg.APIKey = ""

		infos = append(infos, ProviderInfo{
			Descriptor:   adapter.Describe(),
			Config:       cfg,
			Availability: s.registry.Availability(t),
			Active:       t == active,
		})
	}
	return infos
}

// ProviderAvailability returns the last-known availability for one
// provider, or for the active one when t is empty.
func (s *Service) ProviderAvailability(t provider.Type) (provider.AvailabilityResult, error) {
	resolved, _, err := s.registry.Resolve(t)
	if err != nil {
		return provider.AvailabilityResult{}, err
	}
	return s.registry.Availability(resolved), nil
}

// ActiveProvider returns the current selection (empty when none)
func (s *Service) ActiveProvider() provider.Type {
	return s.registry.Active()
}

// SetActiveProvider selects the active provider and persists the choice
func (s *Service) SetActiveProvider(t provider.Type) error {
	if err := s.registry.SetActive(t); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg.ActiveProvider = string(t)
	s.mu.Unlock()
	s.persist()
	return nil
}

// ProviderConfig returns the stored configuration with the API key
// redacted.
func (s *Service) ProviderConfig(t provider.Type) (provider.Config, error) {
	cfg, err := s.registry.Config(t)
	if err != nil {
		return provider.Config{}, err
	}
	cfg.APIKey = ""
	return cfg, nil
}

// UpdateProviderConfig validates and applies a provider configuration.
// A non-empty API key goes to the encrypted store; the YAML config file
// never carries it.
func (s *Service) UpdateProviderConfig(t provider.Type, cfg provider.Config) error {
	if cfg.APIKey != "" {
		if err := s.keys.SetAPIKey(string(t), cfg.APIKey); err != nil {
			return provider.WrapError(provider.KindInternal, "failed to store API key", err)
		}
	}

	if _, err := s.registry.Config(t); err != nil {
		// First-time configuration of this provider
		if err := s.registry.Register(t, cfg); err != nil {
			return err
		}
	} else if err := s.registry.UpdateConfig(t, cfg); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cfg.Providers == nil {
		s.cfg.Providers = map[string]provider.Config{}
	}
	s.cfg.Providers[string(t)] = cfg
	s.mu.Unlock()
	s.persist()
	return nil
}

// AvailableModels lists the models a provider offers for download. An
// unreachable provider yields an empty list, not an error.
func (s *Service) AvailableModels(ctx context.Context, t provider.Type) ([]provider.ModelDescriptor, error) {
	resolved, adapter, err := s.registry.Resolve(t)
	if err != nil {
		return nil, err
	}

	if !s.reachable(ctx, resolved, adapter) {
		return []provider.ModelDescriptor{}, nil
	}

	models, err := adapter.CatalogModels(ctx)
	if err != nil {
		if provider.KindOf(err) == provider.KindUnavailable {
			return []provider.ModelDescriptor{}, nil
		}
		return nil, err
	}

	for i := range models {
		state := s.downloads.Status(resolved, models[i].ID)
		models[i].Downloaded = state.Status == provider.StatusCompleted
	}
	return models, nil
}

// DownloadedModels lists the models already materialized locally
func (s *Service) DownloadedModels(ctx context.Context, t provider.Type) ([]provider.ModelDescriptor, error) {
	resolved, adapter, err := s.registry.Resolve(t)
	if err != nil {
		return nil, err
	}

	if !s.reachable(ctx, resolved, adapter) {
		return []provider.ModelDescriptor{}, nil
	}

	models, err := adapter.LocalModels(ctx)
	if err != nil {
		if provider.KindOf(err) == provider.KindUnavailable {
			return []provider.ModelDescriptor{}, nil
		}
		return nil, err
	}
	return models, nil
}

// DownloadModel admits a download and returns its handle
func (s *Service) DownloadModel(ctx context.Context, modelID string, t provider.Type) (uuid.UUID, error) {
	return s.downloads.StartDownload(ctx, t, modelID)
}

// DownloadStatus returns the authoritative state for one model
func (s *Service) DownloadStatus(modelID string, t provider.Type) (provider.DownloadState, error) {
	resolved, _, err := s.registry.Resolve(t)
	if err != nil {
		return provider.NotStarted(), err
	}
	return s.downloads.Status(resolved, modelID), nil
}

// CancelDownload requests cooperative cancellation; idempotent
func (s *Service) CancelDownload(modelID string, t provider.Type) error {
	resolved, _, err := s.registry.Resolve(t)
	if err != nil {
		return err
	}
	return s.downloads.Cancel(resolved, modelID)
}

// DeleteModel removes a downloaded model and resets its state
func (s *Service) DeleteModel(ctx context.Context, modelID string, t provider.Type) error {
	return s.downloads.Delete(ctx, t, modelID)
}

// DiskUsage reports quota accounting
func (s *Service) DiskUsage() provider.DiskUsageInfo {
	return s.downloads.DiskUsage()
}

// SetDiskSpaceLimit updates and persists the quota
func (s *Service) SetDiskSpaceLimit(bytes int64) error {
	if err := s.downloads.SetLimit(bytes); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg.MaxDiskSpaceBytes = bytes
	s.mu.Unlock()
	s.persist()
	return nil
}

// EvictOldest removes the longest-completed model to reclaim space
func (s *Service) EvictOldest(ctx context.Context) (string, error) {
	return s.downloads.EvictOldest(ctx)
}

// ScanForProviders triggers an immediate discovery scan. Returns false
// when a scan was already running.
func (s *Service) ScanForProviders(ctx context.Context) bool {
	return s.scanner.ScanNow(ctx)
}

// DiscoverySuggestions returns unconfigured backends that answered on
// their default endpoints during the last scan.
func (s *Service) DiscoverySuggestions() []discovery.Suggestion {
	return s.scanner.Suggestions()
}

// GenerateText runs one completion on the requested or active provider.
// With auto-switch enabled, a known-unavailable selection falls over to
// the first reachable provider instead of failing fast.
func (s *Service) GenerateText(ctx context.Context, prompt, modelID string, t provider.Type, maxTokens int) (provider.GenerateResponse, error) {
	resolved, adapter, err := s.registry.Resolve(t)
	if err != nil {
		return provider.GenerateResponse{}, err
	}

	if a := s.registry.Availability(resolved); a.LastProbedAt != nil && !a.Available {
		switched := false
		if s.autoSwitch() {
			for _, candidate := range s.registry.Types() {
				if candidate == resolved {
					continue
				}
				if ca := s.registry.Availability(candidate); ca.Available {
					if alt, err := s.registry.Adapter(candidate); err == nil {
						s.logger.Info("hub.auto_switch", "Routing around unavailable provider", map[string]interface{}{
							"from": resolved.String(),
							"to":   candidate.String(),
						})
						resolved, adapter, switched = candidate, alt, true
						break
					}
				}
			}
		}
		if !switched {
			return provider.GenerateResponse{}, provider.Errorf(provider.KindUnavailable,
				"provider %q is unreachable: %s", resolved, a.Error)
		}
	}

	if modelID == "" {
		if cfg, err := s.registry.Config(resolved); err == nil {
			modelID = cfg.DefaultModel
		}
	}

	return adapter.Generate(ctx, provider.GenerateRequest{
		Model:     modelID,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
}

// reachable decides whether to bother a provider with a listing call.
// A provider the scanner has marked down is skipped; one never probed
// gets an on-demand probe whose result is used locally without touching
// the scanner-owned availability map.
func (s *Service) reachable(ctx context.Context, t provider.Type, adapter provider.Provider) bool {
	a := s.registry.Availability(t)
	if a.LastProbedAt != nil {
		return a.Available
	}
	return adapter.Probe(ctx).Available
}

func (s *Service) autoSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.AutoSwitch
}

// persist writes the configuration back to disk
func (s *Service) persist() {
	s.mu.Lock()
	cfg := s.cfg
	path := s.configPath
	s.mu.Unlock()

	if path == "" {
		return
	}
	if err := config.SaveTo(cfg, path); err != nil {
		s.logger.Warn("hub.persist_failed", "Could not write configuration", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}
