package llamaserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"modelhub/internal/catalog"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

func newTestClient(t *testing.T, endpoint string, cat *catalog.Catalog) (*Client, string) {
	t.Helper()

	modelsDir, err := os.MkdirTemp("", "llamaserver-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(modelsDir) })

	if cat == nil {
		cat = catalog.New()
	}

	client := New(
		provider.Config{Endpoint: endpoint},
		modelsDir,
		cat,
		logging.NewLogger(logging.LevelError),
	)
	return client, modelsDir
}

func catalogWithDownload(url string) *catalog.Catalog {
	cat := catalog.New()
	cat.Replace(provider.TypeLlamaServer, []provider.ModelDescriptor{{
		ID:          "tiny.gguf",
		Name:        "Tiny",
		SizeBytes:   int64(len("0123456789")),
		Format:      "gguf",
		Provider:    provider.TypeLlamaServer,
		DownloadURL: url,
	}})
	return cat
}

func TestClient_LocalModels_SkipsPartials(t *testing.T) {
	client, modelsDir := newTestClient(t, "http://localhost:9", nil)

	if err := os.WriteFile(filepath.Join(modelsDir, "done.gguf"), make([]byte, 100), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modelsDir, "half.gguf"+PartialSuffix), make([]byte, 50), 0o600); err != nil {
		t.Fatal(err)
	}

	models, err := client.LocalModels(context.Background())
	if err != nil {
		t.Fatalf("LocalModels failed: %v", err)
	}

	if len(models) != 1 {
		t.Fatalf("Expected 1 model (partial skipped), got %d", len(models))
	}
	if models[0].ID != "done.gguf" || models[0].SizeBytes != 100 || !models[0].Downloaded {
		t.Errorf("Unexpected model: %+v", models[0])
	}
}

func TestClient_PullModel_DownloadsAndRenames(t *testing.T) {
	content := "0123456789"
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		fmt.Fprint(w, content)
	}))
	defer fileServer.Close()

	client, modelsDir := newTestClient(t, "http://localhost:9", catalogWithDownload(fileServer.URL))

	progress := make(chan provider.PullProgress, 64)
	if err := client.PullModel(context.Background(), "tiny.gguf", progress); err != nil {
		t.Fatalf("PullModel failed: %v", err)
	}
	close(progress)

	data, err := os.ReadFile(filepath.Join(modelsDir, "tiny.gguf"))
	if err != nil {
		t.Fatalf("Final file missing: %v", err)
	}
	if string(data) != content {
		t.Errorf("File content mismatch: %q", data)
	}
	if _, err := os.Stat(filepath.Join(modelsDir, "tiny.gguf"+PartialSuffix)); !os.IsNotExist(err) {
		t.Error("Partial file left behind after completion")
	}

	var last provider.PullProgress
	for p := range progress {
		last = p
	}
	if last.BytesDownloaded != int64(len(content)) || last.TotalBytes != int64(len(content)) {
		t.Errorf("Unexpected final progress: %+v", last)
	}
}

func TestClient_PullModel_ResumesFromPartial(t *testing.T) {
	content := "0123456789"
	var gotRange string
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "bytes=4-" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)-4))
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, content[4:])
			return
		}
		fmt.Fprint(w, content)
	}))
	defer fileServer.Close()

	client, modelsDir := newTestClient(t, "http://localhost:9", catalogWithDownload(fileServer.URL))

	// Seed a partial transfer of the first 4 bytes
	if err := os.WriteFile(filepath.Join(modelsDir, "tiny.gguf"+PartialSuffix), []byte(content[:4]), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := client.PullModel(context.Background(), "tiny.gguf", nil); err != nil {
		t.Fatalf("PullModel failed: %v", err)
	}

	if gotRange != "bytes=4-" {
		t.Errorf("Expected range request from offset 4, got %q", gotRange)
	}

	data, err := os.ReadFile(filepath.Join(modelsDir, "tiny.gguf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Errorf("Resumed file corrupted: %q", data)
	}
}

func TestClient_PullModel_TruncatedBodyIsTransferError(t *testing.T) {
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more bytes than we send; the cut connection surfaces
		// as an interrupted transfer on the client side.
		w.Header().Set("Content-Length", "20")
		fmt.Fprint(w, "0123456789")
	}))
	defer fileServer.Close()

	client, modelsDir := newTestClient(t, "http://localhost:9", catalogWithDownload(fileServer.URL))

	err := client.PullModel(context.Background(), "tiny.gguf", nil)
	if err == nil {
		t.Fatal("Expected error for truncated body")
	}
	if provider.KindOf(err) != provider.KindTransfer {
		t.Errorf("Expected transfer kind, got %v", err)
	}

	// The partial file stays for resumption
	if _, statErr := os.Stat(filepath.Join(modelsDir, "tiny.gguf"+PartialSuffix)); statErr != nil {
		t.Error("Expected partial file to remain after interrupted transfer")
	}
}

func TestClient_PullModel_UnknownModel(t *testing.T) {
	client, _ := newTestClient(t, "http://localhost:9", nil)

	err := client.PullModel(context.Background(), "never-heard-of-it.gguf", nil)
	if provider.KindOf(err) != provider.KindUnknownModel {
		t.Errorf("Expected unknown_model, got %v", err)
	}
}

func TestClient_DeleteModel(t *testing.T) {
	client, modelsDir := newTestClient(t, "http://localhost:9", nil)

	path := filepath.Join(modelsDir, "old.gguf")
	if err := os.WriteFile(path, make([]byte, 10), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := client.DeleteModel(context.Background(), "old.gguf"); err != nil {
		t.Fatalf("DeleteModel failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Model file still present after delete")
	}

	err := client.DeleteModel(context.Background(), "old.gguf")
	if provider.KindOf(err) != provider.KindUnknownModel {
		t.Errorf("Expected unknown_model for missing file, got %v", err)
	}
}

func TestClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"content":"generated text","stop":true}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)
	resp, err := client.Generate(context.Background(), provider.GenerateRequest{Model: "tiny.gguf", Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "generated text" {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
}

func TestClient_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"content":"a","stop":false}`,
			`data: {"content":"b","stop":false}`,
			`data: {"content":"","stop":true}`,
		} {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)

	chunks := make(chan provider.GenerateChunk, 8)
	if err := client.GenerateStream(context.Background(), provider.GenerateRequest{Model: "m", Prompt: "p"}, chunks); err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	close(chunks)

	var text strings.Builder
	for c := range chunks {
		text.WriteString(c.Text)
	}
	if text.String() != "ab" {
		t.Errorf("Expected streamed ab, got %q", text.String())
	}
}
