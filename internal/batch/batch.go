// Package batch implements the batch inference lifecycle: submit, poll, and
// complete, against providers that support asynchronous bulk inference
// (file-submit style APIs). Dedup is enforced at the persistence boundary,
// not here — Manager only sequences the three phases.
package batch

import "github.com/relaygw/gateway/content"

// Status is a BatchRequest's lifecycle state. Every poll appends a new row
// rather than mutating one in place; the most recently inserted row for a
// batch_id defines its current status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// BatchRequest is one snapshot of a batch's state. Submit writes the first
// (pending) row; each poll writes another row reflecting what the provider
// reported at that moment.
type BatchRequest struct {
	BatchID       string
	Function      string
	Variant       string
	Model         string
	ModelProvider string
	Status        Status
	RawRequest    string
	RawResponse   string
	Params        string
	SnapshotHash  string
	Errors        string
}

// SubRequest is one request folded into a batch submission, keyed by the
// inference_id the gateway generated for it before batching.
type SubRequest struct {
	InferenceID string
	Request     content.ModelInferenceRequest
}

// BatchModelInference is the per-sub-request row written at submit time,
// carrying the provider's opaque batch id alongside the raw request payload
// the provider reported for the batch.
type BatchModelInference struct {
	BatchID       string
	InferenceID   string
	ModelName     string
	ModelProvider string
	RawRequest    string
}

// CompletedOutput is one sub-request's result once the provider reports the
// batch as completed.
type CompletedOutput struct {
	InferenceID string
	Content     []content.Block
	RawResponse string
	Usage       content.Usage
	FinishReason string
}
