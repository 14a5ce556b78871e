// Package catalog holds the static knowledge about backend kinds and
// curated models. It performs no I/O; adapters and the hub read from it,
// and only a wholesale Replace may change the model set.
package catalog

import (
	"sync"

	"modelhub/internal/provider"
)

// BuiltinDescriptors returns the descriptor for every built-in backend kind
func BuiltinDescriptors() []provider.Descriptor {
	return []provider.Descriptor{
		{
			Type:            provider.TypeOllama,
			Name:            "Ollama",
			Description:     "Local Ollama server with native pull and generate APIs",
			DefaultEndpoint: "http://localhost:11434",
			Capabilities: provider.Capabilities{
				TextGeneration: true,
				Chat:           true,
				Embeddings:     true,
			},
		},
		{
			Type:            provider.TypeOpenAICompat,
			Name:            "OpenAI-compatible server",
			Description:     "Any local server speaking the OpenAI wire protocol (LM Studio, vLLM, llamafile)",
			DefaultEndpoint: "http://localhost:1234/v1",
			Capabilities: provider.Capabilities{
				TextGeneration: true,
				Chat:           true,
				Embeddings:     true,
			},
		},
		{
			Type:            provider.TypeLlamaServer,
			Name:            "llama-server",
			Description:     "Embedded llama.cpp server with GGUF model files managed on disk",
			DefaultEndpoint: "http://localhost:8080",
			Capabilities: provider.Capabilities{
				TextGeneration: true,
				Chat:           true,
			},
		},
	}
}

// DescriptorFor returns the built-in descriptor for a type, if any
func DescriptorFor(t provider.Type) (provider.Descriptor, bool) {
	for _, d := range BuiltinDescriptors() {
		if d.Type == t {
			return d, true
		}
	}
	return provider.Descriptor{}, false
}

// Catalog is the shared-read, single-writer model catalog. The curated
// entries back providers whose backend exposes no catalog endpoint.
type Catalog struct {
	mu     sync.RWMutex
	models map[provider.Type][]provider.ModelDescriptor
}

// New creates a catalog seeded with the curated built-in model set
func New() *Catalog {
	return &Catalog{models: curatedModels()}
}

// ModelsFor returns a copy of the catalog entries for one provider type
func (c *Catalog) ModelsFor(t provider.Type) []provider.ModelDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.models[t]
	out := make([]provider.ModelDescriptor, len(entries))
	copy(out, entries)
	return out
}

// Lookup finds a curated model by id within one provider type
func (c *Catalog) Lookup(t provider.Type, modelID string) (provider.ModelDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.models[t] {
		if m.ID == modelID {
			return m, true
		}
	}
	return provider.ModelDescriptor{}, false
}

// Replace swaps the entries for one provider type wholesale. Partial
// mutation of a provider's entry list is not offered.
func (c *Catalog) Replace(t provider.Type, entries []provider.ModelDescriptor) {
	copied := make([]provider.ModelDescriptor, len(entries))
	copy(copied, entries)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[t] = copied
}

const gib = int64(1) << 30

// curatedModels is the built-in model knowledge for backends without a
// remote catalog. Sizes are the published download sizes.
func curatedModels() map[provider.Type][]provider.ModelDescriptor {
	return map[provider.Type][]provider.ModelDescriptor{
		provider.TypeOllama: {
			{
				ID:            "llama3.1:8b",
				Name:          "Llama 3.1 8B",
				Description:   "Meta Llama 3.1 8B instruct",
				SizeBytes:     49 * gib / 10,
				Format:        "gguf",
				Quantization:  "Q4_K_M",
				Architecture:  "llama",
				ContextLength: 131072,
				Capabilities:  provider.Capabilities{TextGeneration: true, Chat: true},
				Tags:          []string{"instruct", "general"},
				License:       "Llama 3.1 Community License",
				Provider:      provider.TypeOllama,
			},
			{
				ID:            "qwen2.5-coder:7b",
				Name:          "Qwen 2.5 Coder 7B",
				Description:   "Alibaba Qwen 2.5 coding model",
				SizeBytes:     47 * gib / 10,
				Format:        "gguf",
				Quantization:  "Q4_K_M",
				Architecture:  "qwen2",
				ContextLength: 32768,
				Capabilities:  provider.Capabilities{TextGeneration: true, Chat: true},
				Tags:          []string{"code"},
				License:       "Apache-2.0",
				Provider:      provider.TypeOllama,
			},
			{
				ID:            "nomic-embed-text",
				Name:          "Nomic Embed Text",
				Description:   "Text embedding model",
				SizeBytes:     27 * gib / 100,
				Format:        "gguf",
				Architecture:  "nomic-bert",
				ContextLength: 8192,
				Capabilities:  provider.Capabilities{Embeddings: true},
				Tags:          []string{"embeddings"},
				License:       "Apache-2.0",
				Provider:      provider.TypeOllama,
			},
		},
		provider.TypeLlamaServer: {
			{
				ID:            "llama-3.2-3b-instruct-q4_k_m.gguf",
				Name:          "Llama 3.2 3B Instruct",
				Description:   "Small instruct model for constrained machines",
				SizeBytes:     2 * gib,
				Format:        "gguf",
				Quantization:  "Q4_K_M",
				Architecture:  "llama",
				ContextLength: 131072,
				Capabilities:  provider.Capabilities{TextGeneration: true, Chat: true},
				Tags:          []string{"instruct", "small"},
				License:       "Llama 3.2 Community License",
				Provider:      provider.TypeLlamaServer,
				DownloadURL:   "https://huggingface.co/bartowski/Llama-3.2-3B-Instruct-GGUF/resolve/main/Llama-3.2-3B-Instruct-Q4_K_M.gguf",
			},
			{
				ID:            "phi-4-q4_k_m.gguf",
				Name:          "Phi-4 14B",
				Description:   "Microsoft Phi-4 reasoning model",
				SizeBytes:     91 * gib / 10,
				Format:        "gguf",
				Quantization:  "Q4_K_M",
				Architecture:  "phi3",
				ContextLength: 16384,
				Capabilities:  provider.Capabilities{TextGeneration: true, Chat: true},
				Tags:          []string{"reasoning"},
				License:       "MIT",
				Provider:      provider.TypeLlamaServer,
				DownloadURL:   "https://huggingface.co/bartowski/phi-4-GGUF/resolve/main/phi-4-Q4_K_M.gguf",
			},
		},
	}
}
