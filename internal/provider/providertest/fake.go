// Package providertest provides a configurable in-memory Provider
// implementation for tests of the registry, discovery, download, and
// hub layers.
package providertest

import (
	"context"
	"sync"
	"time"

	"modelhub/internal/provider"
)

// Fake implements provider.Provider with overridable behavior. The zero
// value is a reachable provider with no models.
type Fake struct {
	Desc        provider.Descriptor
	ProbeResult provider.AvailabilityResult
	ProbeDelay  time.Duration
	Catalog     []provider.ModelDescriptor
	Local       []provider.ModelDescriptor

	PullFunc     func(ctx context.Context, modelID string, progress chan<- provider.PullProgress) error
	DeleteFunc   func(ctx context.Context, modelID string) error
	GenerateFunc func(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error)

	mu         sync.Mutex
	probeCalls int
	pullCalls  int
}

var _ provider.Provider = (*Fake)(nil)

// Reachable builds a fake that probes as available
func Reachable(t provider.Type) *Fake {
	now := time.Now().UTC()
	return &Fake{
		Desc:        provider.Descriptor{Type: t, Name: string(t)},
		ProbeResult: provider.AvailabilityResult{Available: true, LastProbedAt: &now},
	}
}

// Unreachable builds a fake that probes as unavailable
func Unreachable(t provider.Type) *Fake {
	now := time.Now().UTC()
	return &Fake{
		Desc:        provider.Descriptor{Type: t, Name: string(t)},
		ProbeResult: provider.AvailabilityResult{Available: false, Error: "connection refused", LastProbedAt: &now},
	}
}

func (f *Fake) Describe() provider.Descriptor { return f.Desc }

func (f *Fake) Probe(ctx context.Context) provider.AvailabilityResult {
	f.mu.Lock()
	f.probeCalls++
	f.mu.Unlock()

	if f.ProbeDelay > 0 {
		select {
		case <-time.After(f.ProbeDelay):
		case <-ctx.Done():
			now := time.Now().UTC()
			return provider.AvailabilityResult{Error: ctx.Err().Error(), LastProbedAt: &now}
		}
	}
	return f.ProbeResult
}

func (f *Fake) CatalogModels(_ context.Context) ([]provider.ModelDescriptor, error) {
	return append([]provider.ModelDescriptor(nil), f.Catalog...), nil
}

func (f *Fake) LocalModels(_ context.Context) ([]provider.ModelDescriptor, error) {
	return append([]provider.ModelDescriptor(nil), f.Local...), nil
}

func (f *Fake) PullModel(ctx context.Context, modelID string, progress chan<- provider.PullProgress) error {
	f.mu.Lock()
	f.pullCalls++
	f.mu.Unlock()

	if f.PullFunc != nil {
		return f.PullFunc(ctx, modelID, progress)
	}
	return nil
}

func (f *Fake) DeleteModel(ctx context.Context, modelID string) error {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(ctx, modelID)
	}
	return nil
}

func (f *Fake) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, req)
	}
	return provider.GenerateResponse{Model: req.Model, Text: "fake response"}, nil
}

func (f *Fake) GenerateStream(ctx context.Context, req provider.GenerateRequest, chunks chan<- provider.GenerateChunk) error {
	resp, err := f.Generate(ctx, req)
	if err != nil {
		return err
	}
	chunks <- provider.GenerateChunk{Text: resp.Text}
	chunks <- provider.GenerateChunk{Done: true}
	return nil
}

// ProbeCalls returns how many probes this fake has served
func (f *Fake) ProbeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls
}

// PullCalls returns how many pulls this fake has served
func (f *Fake) PullCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullCalls
}
