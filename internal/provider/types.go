package provider

import (
	"strings"
	"time"
)

// Type identifies a backend kind
type Type string

const (
	// TypeOllama represents an Ollama server reached over its native HTTP API
	TypeOllama Type = "ollama"
	// TypeOpenAICompat represents an OpenAI-compatible local server (LM Studio, vLLM, ...)
	TypeOpenAICompat Type = "openai-compat"
	// TypeLlamaServer represents an embedded llama-server process with file-based models
	TypeLlamaServer Type = "llama-server"
)

const customPrefix = "custom:"

// CustomType builds the open provider-type variant for a user-defined endpoint
func CustomType(name string) Type {
	return Type(customPrefix + name)
}

// IsBuiltin reports whether the type is one of the closed built-in set
func (t Type) IsBuiltin() bool {
	return t == TypeOllama || t == TypeOpenAICompat || t == TypeLlamaServer
}

// IsCustom reports whether the type is a user-defined custom variant
func (t Type) IsCustom() bool {
	return strings.HasPrefix(string(t), customPrefix) && len(t) > len(customPrefix)
}

// IsValid checks if the provider type is valid
func (t Type) IsValid() bool {
	return t.IsBuiltin() || t.IsCustom()
}

// String returns the string representation of the provider type
func (t Type) String() string {
	return string(t)
}

// Capabilities describes what a backend can do
type Capabilities struct {
	TextGeneration  bool `json:"text_generation"`
	Chat            bool `json:"chat"`
	Embeddings      bool `json:"embeddings"`
	ImageGeneration bool `json:"image_generation"`
}

// Descriptor is the immutable identity of a backend kind
type Descriptor struct {
	Type            Type         `json:"type"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	DefaultEndpoint string       `json:"default_endpoint"`
	Capabilities    Capabilities `json:"capabilities"`
	RequiresAPIKey  bool         `json:"requires_api_key"`
}

// Config is the user-supplied configuration for one provider instance
type Config struct {
	Endpoint     string                 `json:"endpoint" yaml:"endpoint"`
	APIKey       string                 `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	DefaultModel string                 `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	Advanced     map[string]interface{} `json:"advanced,omitempty" yaml:"advanced,omitempty"`
}

// AvailabilityResult is the transient outcome of one reachability probe.
// A nil LastProbedAt distinguishes "never probed" from "probed and failed".
type AvailabilityResult struct {
	Available    bool       `json:"available"`
	Version      string     `json:"version,omitempty"`
	Error        string     `json:"error,omitempty"`
	LatencyMS    int64      `json:"latency_ms,omitempty"`
	LastProbedAt *time.Time `json:"last_probed_at,omitempty"`
}

// ModelDescriptor identifies one model as known to a provider.
// Downloaded is a cache of the last known download state, not authoritative.
type ModelDescriptor struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	SizeBytes     int64        `json:"size_bytes"`
	Format        string       `json:"format,omitempty"`
	Quantization  string       `json:"quantization,omitempty"`
	Architecture  string       `json:"architecture,omitempty"`
	ContextLength int          `json:"context_length,omitempty"`
	Capabilities  Capabilities `json:"capabilities"`
	Tags          []string     `json:"tags,omitempty"`
	License       string       `json:"license,omitempty"`
	Provider      Type         `json:"provider"`
	Downloaded    bool         `json:"downloaded"`
	DownloadURL   string       `json:"download_url,omitempty"`
}

// DiskUsageInfo summarizes quota accounting for downloaded models
type DiskUsageInfo struct {
	UsedBytes      int64 `json:"used_bytes"`
	LimitBytes     int64 `json:"limit_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
	ModelCount     int   `json:"model_count"`
}

// PullProgress is one raw progress tick from an adapter transfer
type PullProgress struct {
	ModelID         string `json:"model_id"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	TotalBytes      int64  `json:"total_bytes,omitempty"`
}

// GenerateRequest is a provider-agnostic text generation request
type GenerateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerateResponse is a complete text generation result
type GenerateResponse struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// GenerateChunk is one partial result of a streaming generation
type GenerateChunk struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}
