// Package ollama adapts a local Ollama server to the provider contract.
// Pulls stream native progress events; generation uses /api/generate.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelhub/internal/catalog"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

// DefaultEndpoint is the standard local Ollama address
const DefaultEndpoint = "http://localhost:11434"

// Client implements provider.Provider against the Ollama HTTP API
type Client struct {
	endpoint   string
	catalog    *catalog.Catalog
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates an Ollama adapter for the given configuration
func New(cfg provider.Config, cat *catalog.Catalog, logger *logging.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Client{
		endpoint:   endpoint,
		catalog:    cat,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}
}

// Describe returns the Ollama backend descriptor
func (c *Client) Describe() provider.Descriptor {
	d, _ := catalog.DescriptorFor(provider.TypeOllama)
	return d
}

type versionResponse struct {
	Version string `json:"version"`
}

// Probe checks the server root and reads /api/version when reachable
func (c *Client) Probe(ctx context.Context) provider.AvailabilityResult {
	result := provider.ProbeEndpoint(ctx, c.httpClient, c.endpoint)
	if !result.Available {
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, provider.DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.endpoint+"/api/version", nil)
	if err != nil {
		return result
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result
	}
	defer resp.Body.Close()

	var vr versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err == nil {
		result.Version = vr.Version
	}

	return result
}

// CatalogModels returns the curated model set for Ollama
func (c *Client) CatalogModels(_ context.Context) ([]provider.ModelDescriptor, error) {
	return c.catalog.ModelsFor(provider.TypeOllama), nil
}

type listResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		ModifiedAt time.Time `json:"modified_at"`
		Size       int64     `json:"size"`
		Details    struct {
			Format            string `json:"format"`
			Family            string `json:"family"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// LocalModels lists models the server already holds on disk
func (c *Client) LocalModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	var listResp listResponse

	err := provider.Retry(ctx, c.logger, "ollama.list", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ollama API returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&listResp)
	})
	if err != nil {
		return nil, provider.WrapError(provider.KindUnavailable, "failed to list local models", err)
	}

	models := make([]provider.ModelDescriptor, len(listResp.Models))
	for i, m := range listResp.Models {
		models[i] = provider.ModelDescriptor{
			ID:           m.Name,
			Name:         m.Name,
			SizeBytes:    m.Size,
			Format:       m.Details.Format,
			Quantization: m.Details.QuantizationLevel,
			Architecture: m.Details.Family,
			Capabilities: provider.Capabilities{TextGeneration: true, Chat: true},
			Provider:     provider.TypeOllama,
			Downloaded:   true,
		}
	}

	return models, nil
}

type pullEvent struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullModel streams /api/pull, forwarding raw byte counters as progress
// ticks. It blocks until the pull finishes or ctx is cancelled.
func (c *Client) PullModel(ctx context.Context, modelID string, progress chan<- provider.PullProgress) error {
	body, err := json.Marshal(map[string]string{"name": modelID})
	if err != nil {
		return provider.WrapError(provider.KindTransfer, "failed to encode pull request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return provider.WrapError(provider.KindTransfer, "failed to create pull request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.WrapError(provider.KindUnavailable, "failed to reach ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Errorf(provider.KindTransfer, "ollama API returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var ev pullEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			c.logger.Warn("ollama.pull.parse_error", "Failed to parse progress line", map[string]interface{}{
				"model": modelID,
				"error": err.Error(),
			})
			continue
		}

		if ev.Error != "" {
			return provider.NewError(provider.KindTransfer, ev.Error)
		}

		if progress != nil && ev.Total > 0 {
			progress <- provider.PullProgress{
				ModelID:         modelID,
				BytesDownloaded: ev.Completed,
				TotalBytes:      ev.Total,
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.WrapError(provider.KindTransfer, "pull stream interrupted", err)
	}

	return nil
}

// DeleteModel removes a model from the server
func (c *Client) DeleteModel(ctx context.Context, modelID string) error {
	body, err := json.Marshal(map[string]string{"name": modelID})
	if err != nil {
		return provider.WrapError(provider.KindTransfer, "failed to encode delete request", err)
	}

	err = provider.Retry(ctx, c.logger, "ollama.delete", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/api/delete", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
	if err != nil {
		return provider.WrapError(provider.KindUnavailable, "failed to delete model", err)
	}

	return nil
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (c *Client) buildGenerateBody(req provider.GenerateRequest, stream bool) ([]byte, error) {
	greq := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: stream,
	}
	opts := map[string]interface{}{}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if len(opts) > 0 {
		greq.Options = opts
	}
	return json.Marshal(greq)
}

// Generate performs a single non-streaming generation
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	body, err := c.buildGenerateBody(req, false)
	if err != nil {
		return provider.GenerateResponse{}, provider.WrapError(provider.KindTransfer, "failed to encode generate request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return provider.GenerateResponse{}, provider.WrapError(provider.KindTransfer, "failed to create generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.GenerateResponse{}, provider.WrapError(provider.KindUnavailable, "failed to reach ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.GenerateResponse{}, provider.Errorf(provider.KindTransfer, "ollama API returned status %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return provider.GenerateResponse{}, provider.WrapError(provider.KindTransfer, "failed to decode generate response", err)
	}
	if gr.Error != "" {
		return provider.GenerateResponse{}, provider.NewError(provider.KindTransfer, gr.Error)
	}

	return provider.GenerateResponse{
		Model:        gr.Model,
		Text:         gr.Response,
		FinishReason: gr.DoneReason,
	}, nil
}

// GenerateStream streams partial generation results onto chunks
func (c *Client) GenerateStream(ctx context.Context, req provider.GenerateRequest, chunks chan<- provider.GenerateChunk) error {
	body, err := c.buildGenerateBody(req, true)
	if err != nil {
		return provider.WrapError(provider.KindTransfer, "failed to encode generate request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return provider.WrapError(provider.KindTransfer, "failed to create generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.WrapError(provider.KindUnavailable, "failed to reach ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Errorf(provider.KindTransfer, "ollama API returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var gr generateResponse
		if err := json.Unmarshal(scanner.Bytes(), &gr); err != nil {
			continue
		}
		if gr.Error != "" {
			return provider.NewError(provider.KindTransfer, gr.Error)
		}

		chunks <- provider.GenerateChunk{Text: gr.Response, Done: gr.Done}
		if gr.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return provider.WrapError(provider.KindTransfer, "generate stream interrupted", err)
	}
	return nil
}
