package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeEndpoint_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := ProbeEndpoint(context.Background(), server.Client(), server.URL)

	if !result.Available {
		t.Errorf("Expected available, got error %q", result.Error)
	}
	if result.LastProbedAt == nil {
		t.Error("Expected LastProbedAt to be set")
	}
}

func TestProbeEndpoint_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately, so the port refuses connections

	result := ProbeEndpoint(context.Background(), http.DefaultClient, server.URL)

	if result.Available {
		t.Error("Expected unavailable for closed server")
	}
	if result.Error == "" {
		t.Error("Expected error text for unreachable endpoint")
	}
	if result.LastProbedAt == nil {
		t.Error("Expected LastProbedAt to be set even on failure")
	}
}

func TestProbeEndpoint_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := ProbeEndpoint(context.Background(), server.Client(), server.URL)

	if result.Available {
		t.Error("Expected unavailable for 500 response")
	}
}
