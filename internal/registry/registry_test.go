package registry

import (
	"testing"
	"time"

	"modelhub/internal/logging"
	"modelhub/internal/provider"
	"modelhub/internal/provider/providertest"
)

func fakeFactory(t provider.Type, _ provider.Config) (provider.Provider, error) {
	return providertest.Reachable(t), nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(fakeFactory, logging.NewLogger(logging.LevelError))
}

func TestRegistry_SetActive(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(provider.TypeOllama, provider.Config{}); err != nil {
		t.Fatal(err)
	}

	if err := r.SetActive(provider.TypeOllama); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if r.Active() != provider.TypeOllama {
		t.Errorf("Expected active ollama, got %s", r.Active())
	}

	err := r.SetActive(provider.TypeLlamaServer)
	if provider.KindOf(err) != provider.KindUnknownProvider {
		t.Errorf("Expected unknown_provider, got %v", err)
	}
	// Failed selection must not clobber the previous one
	if r.Active() != provider.TypeOllama {
		t.Errorf("Active changed after failed SetActive: %s", r.Active())
	}
}

func TestRegistry_SetActive_IgnoresAvailability(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(provider.TypeOllama, provider.Config{}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	r.ReplaceAvailability(map[provider.Type]provider.AvailabilityResult{
		provider.TypeOllama: {Available: false, Error: "down", LastProbedAt: &now},
	})

	// Selection and availability are orthogonal
	if err := r.SetActive(provider.TypeOllama); err != nil {
		t.Errorf("SetActive must succeed for unavailable provider: %v", err)
	}
}

func TestRegistry_UpdateConfig_ValidatesEndpoint(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(provider.TypeOllama, provider.Config{}); err != nil {
		t.Fatal(err)
	}

	err := r.UpdateConfig(provider.TypeOllama, provider.Config{Endpoint: "ftp://bad"})
	if provider.KindOf(err) != provider.KindConfiguration {
		t.Errorf("Expected configuration error, got %v", err)
	}

	if err := r.UpdateConfig(provider.TypeOllama, provider.Config{Endpoint: "http://localhost:11434"}); err != nil {
		t.Errorf("Valid endpoint rejected: %v", err)
	}

	cfg, err := r.Config(provider.TypeOllama)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "http://localhost:11434" {
		t.Errorf("Config not applied: %+v", cfg)
	}
}

func TestRegistry_UpdateConfig_UnknownProvider(t *testing.T) {
	r := newTestRegistry(t)

	err := r.UpdateConfig(provider.TypeOllama, provider.Config{})
	if provider.KindOf(err) != provider.KindUnknownProvider {
		t.Errorf("Expected unknown_provider, got %v", err)
	}
}

func TestRegistry_Availability_NeverProbed(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(provider.TypeOllama, provider.Config{}); err != nil {
		t.Fatal(err)
	}

	a := r.Availability(provider.TypeOllama)
	if a.Available {
		t.Error("Never-probed provider must report unavailable")
	}
	if a.LastProbedAt != nil {
		t.Error("Never-probed provider must have nil LastProbedAt")
	}
	if a.Error != "" {
		t.Errorf("Never-probed provider must carry no error, got %q", a.Error)
	}
}

func TestRegistry_ReplaceAvailability_IsWholesale(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now().UTC()

	r.ReplaceAvailability(map[provider.Type]provider.AvailabilityResult{
		provider.TypeOllama:      {Available: true, LastProbedAt: &now},
		provider.TypeLlamaServer: {Available: true, LastProbedAt: &now},
	})
	r.ReplaceAvailability(map[provider.Type]provider.AvailabilityResult{
		provider.TypeOllama: {Available: false, Error: "gone", LastProbedAt: &now},
	})

	// The second replace removed llama-server entirely
	if a := r.Availability(provider.TypeLlamaServer); a.LastProbedAt != nil {
		t.Error("Expected llama-server entry dropped by wholesale replace")
	}
	if a := r.Availability(provider.TypeOllama); a.Available || a.Error != "gone" {
		t.Errorf("Unexpected ollama availability: %+v", a)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := newTestRegistry(t)

	if _, _, err := r.Resolve(""); provider.KindOf(err) != provider.KindUnknownProvider {
		t.Errorf("Expected unknown_provider with no active selection, got %v", err)
	}

	if err := r.Register(provider.TypeOllama, provider.Config{}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetActive(provider.TypeOllama); err != nil {
		t.Fatal(err)
	}

	resolved, adapter, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != provider.TypeOllama || adapter == nil {
		t.Errorf("Expected active ollama adapter, got %s", resolved)
	}
}
