package batch

import "context"

// PollStatus is the three-way outcome of a provider poll, per the capability
// set's poll_batch_inference boundary. A provider-side error (network,
// authn) is reported as a Go error instead of PollStatus; only the batch's
// own disposition is carried here.
type PollStatus int

const (
	PollPending PollStatus = iota
	PollFailed
	PollCompleted
)

// PollResult is what a Provider reports back for one outstanding batch.
type PollResult struct {
	Status      PollStatus
	RawResponse string
	Outputs     []CompletedOutput // only set when Status == PollCompleted
	Errors      string            // only set when Status == PollFailed
}

// Provider is the narrow boundary Manager drives; a concrete implementation
// binds one upstream model provider's batch API. Providers that cannot
// support batching at all simply never appear behind this interface — the
// capability is optional at the providers.Provider level (see
// providers.CapableProvider for the analogous streaming-side pattern).
type Provider interface {
	// StartBatchInference submits subs as one provider-side batch job and
	// returns the provider's opaque batch id plus the raw request/response
	// strings for persistence.
	StartBatchInference(ctx context.Context, subs []SubRequest) (providerBatchID, rawRequest, rawResponse string, err error)
	// PollBatchInference checks the status of a previously submitted batch.
	PollBatchInference(ctx context.Context, providerBatchID string) (PollResult, error)
}
