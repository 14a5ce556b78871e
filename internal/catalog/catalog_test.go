package catalog

import (
	"testing"

	"modelhub/internal/provider"
)

func TestBuiltinDescriptors(t *testing.T) {
	descriptors := BuiltinDescriptors()
	if len(descriptors) != 3 {
		t.Fatalf("Expected 3 built-in descriptors, got %d", len(descriptors))
	}

	seen := map[provider.Type]bool{}
	for _, d := range descriptors {
		seen[d.Type] = true
		if d.DefaultEndpoint == "" {
			t.Errorf("Descriptor %s has no default endpoint", d.Type)
		}
	}

	for _, want := range []provider.Type{provider.TypeOllama, provider.TypeOpenAICompat, provider.TypeLlamaServer} {
		if !seen[want] {
			t.Errorf("Missing descriptor for %s", want)
		}
	}
}

func TestDescriptorFor(t *testing.T) {
	if _, ok := DescriptorFor(provider.TypeOllama); !ok {
		t.Error("Expected descriptor for ollama")
	}
	if _, ok := DescriptorFor(provider.CustomType("mine")); ok {
		t.Error("Expected no built-in descriptor for custom type")
	}
}

func TestCuratedModelSizes(t *testing.T) {
	c := New()

	for _, pt := range []provider.Type{provider.TypeOllama, provider.TypeLlamaServer} {
		for _, m := range c.ModelsFor(pt) {
			if m.SizeBytes <= 0 {
				t.Errorf("Curated model %s has no size", m.ID)
			}
		}
	}

	// Published sizes round to a tenth of a GiB
	entry, ok := c.Lookup(provider.TypeOllama, "llama3.1:8b")
	if !ok {
		t.Fatal("Missing curated llama3.1:8b entry")
	}
	if entry.SizeBytes != 49*gib/10 {
		t.Errorf("Unexpected size for llama3.1:8b: %d", entry.SizeBytes)
	}
}

func TestCatalog_LookupAndReplace(t *testing.T) {
	c := New()

	models := c.ModelsFor(provider.TypeLlamaServer)
	if len(models) == 0 {
		t.Fatal("Expected curated llama-server models")
	}
	for _, m := range models {
		if m.DownloadURL == "" {
			t.Errorf("Curated llama-server model %s has no download URL", m.ID)
		}
	}

	if _, ok := c.Lookup(provider.TypeLlamaServer, models[0].ID); !ok {
		t.Errorf("Lookup failed for %s", models[0].ID)
	}

	replacement := []provider.ModelDescriptor{{ID: "only.gguf", Provider: provider.TypeLlamaServer}}
	c.Replace(provider.TypeLlamaServer, replacement)

	after := c.ModelsFor(provider.TypeLlamaServer)
	if len(after) != 1 || after[0].ID != "only.gguf" {
		t.Errorf("Replace was not wholesale: %+v", after)
	}

	// Mutating the caller's slice must not leak into the catalog
	replacement[0].ID = "mutated"
	if got := c.ModelsFor(provider.TypeLlamaServer)[0].ID; got != "only.gguf" {
		t.Errorf("Catalog shares backing array with caller: %s", got)
	}
}
