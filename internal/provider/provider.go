package provider

import "context"

// Provider is the uniform contract every backend adapter implements.
// The rest of the system never branches on the concrete backend kind;
// routing happens through this interface only.
//
// Probe must not error for ordinary unreachability: an unreachable
// backend is a normal AvailabilityResult with Available=false. Every
// method respects ctx cancellation and deadlines.
type Provider interface {
	// Describe returns the immutable descriptor of this backend kind
	Describe() Descriptor

	// Probe checks reachability within a bounded timeout
	Probe(ctx context.Context) AvailabilityResult

	// CatalogModels lists models the backend could materialize
	CatalogModels(ctx context.Context) ([]ModelDescriptor, error)

	// LocalModels lists models already materialized on disk for this backend
	LocalModels(ctx context.Context) ([]ModelDescriptor, error)

	// PullModel transfers a model, reporting raw progress ticks on the
	// channel if non-nil. It blocks until the transfer finishes, fails,
	// or ctx is cancelled. The caller owns the channel.
	PullModel(ctx context.Context, modelID string, progress chan<- PullProgress) error

	// DeleteModel removes a materialized model
	DeleteModel(ctx context.Context, modelID string) error

	// Generate performs a complete text generation
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

	// GenerateStream streams partial generation results onto chunks.
	// The provider closes nothing; the caller owns the channel.
	GenerateStream(ctx context.Context, req GenerateRequest, chunks chan<- GenerateChunk) error
}
