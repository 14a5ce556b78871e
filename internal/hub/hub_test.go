package hub

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modelhub/internal/config"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
	"modelhub/internal/provider/providertest"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError)
}

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, map[provider.Type]*providertest.Fake) {
	t.Helper()

	stateDir, err := os.MkdirTemp("", "hub-state-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(stateDir) })
	t.Setenv("MODELHUB_STATE_DIR", stateDir)

	modelsDir, err := os.MkdirTemp("", "hub-models-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(modelsDir) })

	cfg := config.DefaultConfig()
	cfg.ModelsDirectory = modelsDir
	cfg.Providers = map[string]provider.Config{
		string(provider.TypeOllama):      {Endpoint: "http://localhost:11434"},
		string(provider.TypeLlamaServer): {Endpoint: "http://localhost:8080"},
	}
	cfg.ActiveProvider = string(provider.TypeOllama)
	if mutate != nil {
		mutate(&cfg)
	}

	fakes := map[provider.Type]*providertest.Fake{
		provider.TypeOllama:      providertest.Reachable(provider.TypeOllama),
		provider.TypeLlamaServer: providertest.Reachable(provider.TypeLlamaServer),
	}
	factory := func(pt provider.Type, _ provider.Config) (provider.Provider, error) {
		if f, ok := fakes[pt]; ok {
			return f, nil
		}
		return providertest.Reachable(pt), nil
	}

	svc, err := newService(cfg, filepath.Join(stateDir, "config.yaml"), testLogger(), factory)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)

	return svc, fakes
}

func markUnavailable(svc *Service, t provider.Type) {
	now := time.Now().UTC()
	m := svc.registry.AvailabilityMap()
	m[t] = provider.AvailabilityResult{Available: false, Error: "connection refused", LastProbedAt: &now}
	svc.registry.ReplaceAvailability(m)
}

func TestService_AllProvidersRedactsAPIKey(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Providers[string(provider.TypeOllama)] = provider.Config{
			Endpoint: "http://localhost:11434",
			APIKey:   "super-secret",
		}
	})

	for _, info := range svc.AllProviders() {
		if info.Config.APIKey != "" {
			t.Errorf("API key leaked for %s", info.Descriptor.Type)
		}
	}

	cfg, err := svc.ProviderConfig(provider.TypeOllama)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "" {
		t.Error("API key leaked through ProviderConfig")
	}
}

func TestService_ActiveProviderFromConfig(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if got := svc.ActiveProvider(); got != provider.TypeOllama {
		t.Errorf("Expected configured active provider, got %s", got)
	}

	if err := svc.SetActiveProvider(provider.TypeLlamaServer); err != nil {
		t.Fatal(err)
	}
	if got := svc.ActiveProvider(); got != provider.TypeLlamaServer {
		t.Errorf("Active not switched, got %s", got)
	}

	err := svc.SetActiveProvider(provider.TypeOpenAICompat)
	if provider.KindOf(err) != provider.KindUnknownProvider {
		t.Errorf("Expected unknown_provider for unregistered type, got %v", err)
	}
}

func TestService_SetActivePersistsWithoutSecrets(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Providers[string(provider.TypeOllama)] = provider.Config{
			Endpoint: "http://localhost:11434",
			APIKey:   "super-secret",
		}
	})

	if err := svc.SetActiveProvider(provider.TypeLlamaServer); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(svc.configPath)
	if err != nil {
		t.Fatalf("Config not persisted: %v", err)
	}
	if !strings.Contains(string(data), "active_provider: llama-server") {
		t.Errorf("Persisted config missing selection:\n%s", data)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Error("API key written to the config file")
	}
}

func TestService_UpdateProviderConfig(t *testing.T) {
	svc, _ := newTestService(t, nil)

	err := svc.UpdateProviderConfig(provider.TypeOllama, provider.Config{Endpoint: "not a url"})
	if provider.KindOf(err) != provider.KindConfiguration {
		t.Errorf("Expected configuration error, got %v", err)
	}

	// First-time configuration registers the provider
	if err := svc.UpdateProviderConfig(provider.TypeOpenAICompat, provider.Config{
		Endpoint: "http://localhost:1234/v1",
		APIKey:   "sk-local",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.registry.Adapter(provider.TypeOpenAICompat); err != nil {
		t.Errorf("Provider not registered by first update: %v", err)
	}

	key, err := svc.keys.APIKey(string(provider.TypeOpenAICompat))
	if err != nil {
		t.Fatal(err)
	}
	if key != "sk-local" {
		t.Errorf("API key not stored, got %q", key)
	}
}

func TestService_UnreachableProviderListsEmpty(t *testing.T) {
	svc, fakes := newTestService(t, nil)

	fakes[provider.TypeOllama].Catalog = []provider.ModelDescriptor{
		{ID: "llama3.1:8b", Provider: provider.TypeOllama},
	}
	markUnavailable(svc, provider.TypeOllama)

	models, err := svc.AvailableModels(context.Background(), provider.TypeOllama)
	if err != nil {
		t.Fatalf("Expected empty list, not error: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("Expected no models from unreachable provider, got %d", len(models))
	}

	downloaded, err := svc.DownloadedModels(context.Background(), provider.TypeOllama)
	if err != nil {
		t.Fatalf("Expected empty list, not error: %v", err)
	}
	if len(downloaded) != 0 {
		t.Errorf("Expected no local models from unreachable provider, got %d", len(downloaded))
	}
}

func TestService_AvailableModelsMarksDownloaded(t *testing.T) {
	svc, fakes := newTestService(t, nil)

	fakes[provider.TypeOllama].Catalog = []provider.ModelDescriptor{
		{ID: "llama3.1:8b", Provider: provider.TypeOllama},
		{ID: "nomic-embed-text", Provider: provider.TypeOllama},
	}

	if _, err := svc.DownloadModel(context.Background(), "llama3.1:8b", provider.TypeOllama); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		state, err := svc.DownloadStatus("llama3.1:8b", provider.TypeOllama)
		if err != nil {
			t.Fatal(err)
		}
		if state.Status == provider.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Download never completed, stuck at %s", state.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	models, err := svc.AvailableModels(context.Background(), provider.TypeOllama)
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]bool{}
	for _, m := range models {
		byID[m.ID] = m.Downloaded
	}
	if !byID["llama3.1:8b"] {
		t.Error("Completed model not marked downloaded")
	}
	if byID["nomic-embed-text"] {
		t.Error("Never-downloaded model marked downloaded")
	}
}

func TestService_CancelOnFreshModelIsNoOp(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if err := svc.CancelDownload("never-requested", provider.TypeOllama); err != nil {
		t.Errorf("Expected no-op cancel, got %v", err)
	}

	state, err := svc.DownloadStatus("never-requested", provider.TypeOllama)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != provider.StatusNotStarted {
		t.Errorf("Expected not_started, got %s", state.Status)
	}
}

func TestService_GenerateText(t *testing.T) {
	svc, fakes := newTestService(t, nil)

	fakes[provider.TypeOllama].GenerateFunc = func(_ context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
		return provider.GenerateResponse{Model: req.Model, Text: "hello from ollama"}, nil
	}

	resp, err := svc.GenerateText(context.Background(), "say hi", "llama3.1:8b", "", 64)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "hello from ollama" {
		t.Errorf("Unexpected response: %q", resp.Text)
	}
}

func TestService_GenerateFailsFastWhenUnavailable(t *testing.T) {
	svc, _ := newTestService(t, nil)

	markUnavailable(svc, provider.TypeOllama)

	_, err := svc.GenerateText(context.Background(), "say hi", "", provider.TypeOllama, 0)
	if provider.KindOf(err) != provider.KindUnavailable {
		t.Errorf("Expected unavailable error, got %v", err)
	}
}

func TestService_GenerateAutoSwitches(t *testing.T) {
	svc, fakes := newTestService(t, func(cfg *config.Config) {
		cfg.AutoSwitch = true
	})

	fakes[provider.TypeLlamaServer].GenerateFunc = func(_ context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
		return provider.GenerateResponse{Text: "served by fallback"}, nil
	}

	now := time.Now().UTC()
	svc.registry.ReplaceAvailability(map[provider.Type]provider.AvailabilityResult{
		provider.TypeOllama:      {Available: false, Error: "down", LastProbedAt: &now},
		provider.TypeLlamaServer: {Available: true, LastProbedAt: &now},
	})

	resp, err := svc.GenerateText(context.Background(), "say hi", "", provider.TypeOllama, 0)
	if err != nil {
		t.Fatalf("Expected fallback to reachable provider: %v", err)
	}
	if resp.Text != "served by fallback" {
		t.Errorf("Unexpected response: %q", resp.Text)
	}
}

func TestService_DiskUsageAndLimit(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if err := svc.SetDiskSpaceLimit(1 << 20); err != nil {
		t.Fatal(err)
	}
	usage := svc.DiskUsage()
	if usage.LimitBytes != 1<<20 {
		t.Errorf("Limit not applied: %+v", usage)
	}

	data, err := os.ReadFile(svc.configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "max_disk_space_bytes: 1048576") {
		t.Errorf("Limit not persisted:\n%s", data)
	}
}
