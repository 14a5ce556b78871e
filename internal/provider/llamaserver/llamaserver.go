// Package llamaserver adapts an embedded llama.cpp server whose GGUF
// model files live in a directory this subsystem owns. Downloads fetch
// the file over HTTP with range-based resumption; a ".partial" suffix
// marks transfers that have not completed.
package llamaserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"modelhub/internal/catalog"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

// DefaultEndpoint is the default llama-server address
const DefaultEndpoint = "http://localhost:8080"

// PartialSuffix marks files whose transfer has not completed
const PartialSuffix = ".partial"

const copyChunkSize = 256 * 1024

// Client implements provider.Provider for an embedded llama-server
type Client struct {
	endpoint   string
	modelsDir  string
	catalog    *catalog.Catalog
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a llama-server adapter. modelsDir is the directory the
// download manager accounts against the disk quota.
func New(cfg provider.Config, modelsDir string, cat *catalog.Catalog, logger *logging.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Client{
		endpoint:   endpoint,
		modelsDir:  modelsDir,
		catalog:    cat,
		httpClient: &http.Client{}, // transfers are long-running; ctx bounds them
		logger:     logger,
	}
}

// Describe returns the llama-server backend descriptor
func (c *Client) Describe() provider.Descriptor {
	d, _ := catalog.DescriptorFor(provider.TypeLlamaServer)
	return d
}

// Probe checks the server's /health endpoint
func (c *Client) Probe(ctx context.Context) provider.AvailabilityResult {
	return provider.ProbeEndpoint(ctx, &http.Client{Timeout: provider.DefaultProbeTimeout}, c.endpoint+"/health")
}

// CatalogModels returns the curated downloadable model set
func (c *Client) CatalogModels(_ context.Context) ([]provider.ModelDescriptor, error) {
	return c.catalog.ModelsFor(provider.TypeLlamaServer), nil
}

// LocalModels scans the models directory for completed GGUF files
func (c *Client) LocalModels(_ context.Context) ([]provider.ModelDescriptor, error) {
	if c.modelsDir == "" {
		return []provider.ModelDescriptor{}, nil
	}
	if _, err := os.Stat(c.modelsDir); os.IsNotExist(err) {
		return []provider.ModelDescriptor{}, nil
	}

	entries, err := os.ReadDir(c.modelsDir)
	if err != nil {
		return nil, provider.WrapError(provider.KindInternal, "failed to read models directory", err)
	}

	models := make([]provider.ModelDescriptor, 0)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), PartialSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			c.logger.Warn("llamaserver.list.stat_failed", "Failed to stat model file", map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}

		desc := provider.ModelDescriptor{
			ID:           entry.Name(),
			Name:         entry.Name(),
			SizeBytes:    info.Size(),
			Format:       "gguf",
			Capabilities: provider.Capabilities{TextGeneration: true, Chat: true},
			Provider:     provider.TypeLlamaServer,
			Downloaded:   true,
		}
		// Enrich from the catalog when the file matches a curated entry
		if curated, ok := c.catalog.Lookup(provider.TypeLlamaServer, entry.Name()); ok {
			desc.Name = curated.Name
			desc.Description = curated.Description
			desc.Quantization = curated.Quantization
			desc.Architecture = curated.Architecture
			desc.ContextLength = curated.ContextLength
			desc.License = curated.License
			desc.Tags = curated.Tags
		}
		models = append(models, desc)
	}

	return models, nil
}

// PullModel downloads the model file, resuming a partial transfer when
// the server honors range requests. Cancellation keeps the partial file
// so a retry can resume.
func (c *Client) PullModel(ctx context.Context, modelID string, progress chan<- provider.PullProgress) error {
	entry, ok := c.catalog.Lookup(provider.TypeLlamaServer, modelID)
	if !ok || entry.DownloadURL == "" {
		return provider.Errorf(provider.KindUnknownModel, "no download source known for %q", modelID)
	}

	if err := os.MkdirAll(c.modelsDir, 0o750); err != nil {
		return provider.WrapError(provider.KindInternal, "failed to create models directory", err)
	}

	partialPath := filepath.Join(c.modelsDir, modelID+PartialSuffix)
	finalPath := filepath.Join(c.modelsDir, modelID)

	var offset int64
	if info, err := os.Stat(partialPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.DownloadURL, nil)
	if err != nil {
		return provider.WrapError(provider.KindTransfer, "failed to create download request", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.WrapError(provider.KindTransfer, "download request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// resuming from offset
	case http.StatusOK:
		// server ignored the range; start over
		offset = 0
	default:
		return provider.Errorf(provider.KindTransfer, "download source returned status %d", resp.StatusCode)
	}

	total := offset
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(partialPath, flags, 0o600)
	if err != nil {
		return provider.WrapError(provider.KindInternal, "failed to open partial file", err)
	}

	written := offset
	buf := make([]byte, copyChunkSize)
	for {
		if ctx.Err() != nil {
			file.Close()
			return ctx.Err()
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				file.Close()
				return provider.WrapError(provider.KindTransfer, "failed to write model file", writeErr)
			}
			written += int64(n)

			if progress != nil {
				progress <- provider.PullProgress{
					ModelID:         modelID,
					BytesDownloaded: written,
					TotalBytes:      total,
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return provider.WrapError(provider.KindTransfer, "download interrupted", readErr)
		}
	}

	if err := file.Close(); err != nil {
		return provider.WrapError(provider.KindInternal, "failed to close model file", err)
	}

	if total > 0 && written != total {
		return provider.Errorf(provider.KindIntegrity, "size mismatch: wrote %d of %d bytes", written, total)
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		return provider.WrapError(provider.KindInternal, "failed to finalize model file", err)
	}

	c.logger.Info("llamaserver.pull.completed", "Model file downloaded", map[string]interface{}{
		"model": modelID,
		"bytes": written,
	})

	return nil
}

// DeleteModel removes the model file and any partial transfer
func (c *Client) DeleteModel(_ context.Context, modelID string) error {
	finalPath := filepath.Join(c.modelsDir, modelID)
	partialPath := finalPath + PartialSuffix

	removedAny := false
	for _, path := range []string{finalPath, partialPath} {
		err := os.Remove(path)
		if err == nil {
			removedAny = true
			continue
		}
		if !os.IsNotExist(err) {
			return provider.WrapError(provider.KindInternal, "failed to remove model file", err)
		}
	}

	if !removedAny {
		return provider.Errorf(provider.KindUnknownModel, "model file not found: %s", modelID)
	}

	return nil
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream"`
}

type completionResponse struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (c *Client) postCompletion(ctx context.Context, req provider.GenerateRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      req.Prompt,
		NPredict:    req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, provider.WrapError(provider.KindTransfer, "failed to encode completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, provider.WrapError(provider.KindTransfer, "failed to create completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.WrapError(provider.KindUnavailable, "failed to reach llama-server", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, provider.Errorf(provider.KindTransfer, "llama-server returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// Generate performs a single non-streaming completion
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	resp, err := c.postCompletion(ctx, req, false)
	if err != nil {
		return provider.GenerateResponse{}, err
	}
	defer resp.Body.Close()

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return provider.GenerateResponse{}, provider.WrapError(provider.KindTransfer, "failed to decode completion response", err)
	}

	return provider.GenerateResponse{
		Model: req.Model,
		Text:  cr.Content,
	}, nil
}

// GenerateStream streams completion tokens. llama-server emits
// server-sent-event lines with a "data: " prefix.
func (c *Client) GenerateStream(ctx context.Context, req provider.GenerateRequest, chunks chan<- provider.GenerateChunk) error {
	resp, err := c.postCompletion(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var cr completionResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cr); err != nil {
			continue
		}

		chunks <- provider.GenerateChunk{Text: cr.Content, Done: cr.Stop}
		if cr.Stop {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return provider.WrapError(provider.KindTransfer, "completion stream interrupted", err)
	}
	return nil
}

// ModelPath returns where a completed model file lives on disk
func (c *Client) ModelPath(modelID string) string {
	return filepath.Join(c.modelsDir, modelID)
}
