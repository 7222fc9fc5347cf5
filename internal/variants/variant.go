// Package variants implements the function-level variant executor: standard
// chat, chain-of-thought, best-of-N, mixture-of-N, and DICL, all built atop
// the provider capability set (C4) via the Dispatcher boundary below.
package variants

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/relaygw/gateway/content"
	"github.com/relaygw/gateway/internal/gwerrors"
)

// Dispatcher is the narrow boundary variants call through to execute one
// provider call. A concrete implementation binds a specific model/provider
// pairing (resolved from config); the gateway package supplies it so this
// package never imports providers directly, keeping the composite-variant
// logic provider-agnostic.
type Dispatcher interface {
	Infer(ctx context.Context, req content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error)
	InferStream(ctx context.Context, req content.ModelInferenceRequest) (<-chan content.ProviderInferenceResponseChunk, string, error)
}

// ModelInferenceRecord is one C10 ModelInference row's worth of data,
// produced by every actual provider call a variant makes (including
// candidate, evaluator, fuser, and embedding calls).
type ModelInferenceRecord struct {
	ModelName         string
	ModelProviderName string
	Input             content.ModelInferenceRequest
	Output            []content.Block
	RawRequest        string
	RawResponse       string
	InputTokens       int
	OutputTokens      int
	ResponseTimeMS    int64
	TTFTMS            *int64
	FinishReason      string
}

// Result is what a variant's Infer returns: the client-visible content plus
// every ModelInference row the variant's execution produced (so observability
// never drops a sub-inference even when it isn't part of the final answer).
type Result struct {
	Content []content.Block
	Usage   content.Usage
	Records []ModelInferenceRecord
}

// Variant is the shared capability set every variant kind implements:
// {infer, validate}; streaming is the optional StreamVariant capability
// below. Composite variants hold references
// to sub-variants by name, resolved once at config load (see Registry).
type Variant interface {
	Infer(ctx context.Context, in content.ResolvedInput) (*Result, error)
	Validate() error
}

// StreamResult is what a StreamVariant's InferStream returns: the raw chunk
// channel from the underlying dispatcher plus everything the caller needs to
// write a ModelInference row once the stream terminates. ExtraRecords holds
// ModelInference rows for sub-inferences that complete before the stream
// starts (e.g. DICL's embedding call), which would otherwise have nowhere to
// attach once only a chunk channel is in hand.
type StreamResult struct {
	Chunks            <-chan content.ProviderInferenceResponseChunk
	ModelName         string
	ModelProviderName string
	Request           content.ModelInferenceRequest
	RawRequest        string
	ExtraRecords      []ModelInferenceRecord
}

// StreamVariant is the optional streaming capability: variants whose
// execution is a single dispatcher call (Chat, and DICL once its examples
// are spliced in) can stream incrementally. Composite variants that must
// observe every candidate before selecting (BestOfN, MixtureOfN, and CoT
// which is built atop BestOfN) cannot produce a partial answer until
// selection completes, so they do not implement this.
type StreamVariant interface {
	Variant
	InferStream(ctx context.Context, in content.ResolvedInput) (*StreamResult, error)
}

// RetryConfig is the per-variant retry policy wrapping a single provider
// call. Retries do not cross candidate boundaries: each best-of-N candidate
// retries independently using its own RetryConfig.
type RetryConfig struct {
	NumRetries int
	MaxDelayS  float64
}

// withRetry calls fn up to cfg.NumRetries+1 times with capped exponential
// backoff and jitter between attempts. Fresh backoff state per call — no
// global coupling between concurrent candidates. A client-class error (an
// InferenceClient failure: the request itself was invalid) is never
// retried; only InferenceServer-class and unclassified errors are subject
// to the retry policy.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() (*content.ProviderInferenceResponse, error)) (*content.ProviderInferenceResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.NumRetries; attempt++ {
		if attempt > 0 {
			delay := math.Min(cfg.MaxDelayS, math.Pow(2, float64(attempt-1)))
			jitter := delay * (0.5 + rand.Float64()*0.5) //nolint:gosec // backoff jitter, not security-sensitive
			select {
			case <-time.After(time.Duration(jitter * float64(time.Second))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !gwerrors.Retryable(err) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// Registry resolves composite variants' sub-variant name references at
// config-load time, caching the resolution so runtime dispatch never does a
// name lookup.
type Registry struct {
	byName map[string]Variant
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Variant)}
}

// Register adds a named variant for later resolution.
func (r *Registry) Register(name string, v Variant) {
	r.byName[name] = v
}

// Resolve looks up a previously-registered variant by name.
func (r *Registry) Resolve(name string) (Variant, bool) {
	v, ok := r.byName[name]
	return v, ok
}
