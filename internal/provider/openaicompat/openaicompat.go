// Package openaicompat adapts any local server speaking the OpenAI wire
// protocol (LM Studio, vLLM, llamafile). Such servers manage their model
// files themselves, so pull and delete report not_supported; the server's
// model list doubles as catalog and local set.
package openaicompat

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"modelhub/internal/catalog"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

// DefaultEndpoint matches LM Studio's default server address
const DefaultEndpoint = "http://localhost:1234/v1"

// Client implements provider.Provider over the OpenAI wire protocol
type Client struct {
	descriptor provider.Descriptor
	endpoint   string
	api        *openai.Client
	logger     *logging.Logger
}

// New creates an adapter for the built-in openai-compat backend kind
func New(cfg provider.Config, logger *logging.Logger) *Client {
	d, _ := catalog.DescriptorFor(provider.TypeOpenAICompat)
	return newClient(d, cfg, logger)
}

// NewCustom creates an adapter for a user-defined endpoint. Custom
// endpoints speak the OpenAI wire protocol by convention.
func NewCustom(name string, cfg provider.Config, logger *logging.Logger) *Client {
	d := provider.Descriptor{
		Type:            provider.CustomType(name),
		Name:            name,
		Description:     "User-defined OpenAI-compatible endpoint",
		DefaultEndpoint: cfg.Endpoint,
		Capabilities:    provider.Capabilities{TextGeneration: true, Chat: true},
		RequiresAPIKey:  cfg.APIKey != "",
	}
	return newClient(d, cfg, logger)
}

func newClient(d provider.Descriptor, cfg provider.Config, logger *logging.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = d.DefaultEndpoint
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = endpoint

	return &Client{
		descriptor: d,
		endpoint:   endpoint,
		api:        openai.NewClientWithConfig(apiConfig),
		logger:     logger,
	}
}

// Describe returns the backend descriptor
func (c *Client) Describe() provider.Descriptor {
	return c.descriptor
}

// Probe lists models under a bounded timeout; a failing list means the
// server is unreachable, which is a normal negative result.
func (c *Client) Probe(ctx context.Context) provider.AvailabilityResult {
	now := time.Now().UTC()
	result := provider.AvailabilityResult{LastProbedAt: &now}

	probeCtx, cancel := context.WithTimeout(ctx, provider.DefaultProbeTimeout)
	defer cancel()

	start := time.Now()
	if _, err := c.api.ListModels(probeCtx); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Available = true
	result.LatencyMS = time.Since(start).Milliseconds()
	return result
}

func (c *Client) listModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	var list openai.ModelsList

	err := provider.Retry(ctx, c.logger, "openaicompat.list", func() error {
		var err error
		list, err = c.api.ListModels(ctx)
		return err
	})
	if err != nil {
		return nil, provider.WrapError(provider.KindUnavailable, "failed to list models", err)
	}

	models := make([]provider.ModelDescriptor, len(list.Models))
	for i, m := range list.Models {
		models[i] = provider.ModelDescriptor{
			ID:           m.ID,
			Name:         m.ID,
			Capabilities: provider.Capabilities{TextGeneration: true, Chat: true},
			Provider:     c.descriptor.Type,
			Downloaded:   true, // the server only lists materialized models
		}
	}
	return models, nil
}

// CatalogModels returns the server's model list; OpenAI-compatible
// servers expose no separate downloadable catalog.
func (c *Client) CatalogModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	return c.listModels(ctx)
}

// LocalModels returns the server's model list
func (c *Client) LocalModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	return c.listModels(ctx)
}

// PullModel is not supported: the server owns its model files
func (c *Client) PullModel(_ context.Context, modelID string, _ chan<- provider.PullProgress) error {
	return provider.Errorf(provider.KindNotSupported, "%s does not manage model downloads for %q", c.descriptor.Name, modelID)
}

// DeleteModel is not supported: the server owns its model files
func (c *Client) DeleteModel(_ context.Context, modelID string) error {
	return provider.Errorf(provider.KindNotSupported, "%s does not manage model files for %q", c.descriptor.Name, modelID)
}

func (c *Client) chatRequest(req provider.GenerateRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	return chatReq
}

// Generate performs one chat completion
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.chatRequest(req))
	if err != nil {
		return provider.GenerateResponse{}, provider.WrapError(provider.KindUnavailable, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return provider.GenerateResponse{}, provider.NewError(provider.KindTransfer, "server returned no choices")
	}

	return provider.GenerateResponse{
		Model:        resp.Model,
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// GenerateStream streams chat completion deltas onto chunks
func (c *Client) GenerateStream(ctx context.Context, req provider.GenerateRequest, chunks chan<- provider.GenerateChunk) error {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.chatRequest(req))
	if err != nil {
		return provider.WrapError(provider.KindUnavailable, "chat completion stream failed", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			chunks <- provider.GenerateChunk{Done: true}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return provider.WrapError(provider.KindTransfer, "stream interrupted", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunks <- provider.GenerateChunk{Text: resp.Choices[0].Delta.Content}
	}
}
