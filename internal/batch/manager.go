package batch

import (
	"context"
	"fmt"
)

// Manager drives the submit/poll/complete lifecycle against one Provider and
// one Store. A single Manager instance is expected per (model, model
// provider) pairing, matching how the rest of the gateway scopes dispatch.
type Manager struct {
	Function      string
	Variant       string
	Model         string
	ModelProvider string
	Provider      Provider
	Store         Store
}

// Submit asks the provider to start the batch job, then persists a pending
// BatchRequest row plus one BatchModelInference row per sub-request under
// the provider's batch id.
func (m *Manager) Submit(ctx context.Context, subs []SubRequest) (string, error) {
	if len(subs) == 0 {
		return "", fmt.Errorf("batch submit: at least one sub-request is required")
	}

	providerBatchID, rawRequest, rawResponse, err := m.Provider.StartBatchInference(ctx, subs)
	if err != nil {
		return "", fmt.Errorf("batch submit: provider start_batch_inference: %w", err)
	}

	if err := m.Store.InsertBatchRequest(ctx, BatchRequest{
		BatchID: providerBatchID, Function: m.Function, Variant: m.Variant,
		Model: m.Model, ModelProvider: m.ModelProvider, Status: StatusPending,
		RawRequest: rawRequest, RawResponse: rawResponse,
	}); err != nil {
		return "", fmt.Errorf("batch submit: persist batch request: %w", err)
	}

	rows := make([]BatchModelInference, len(subs))
	for i, s := range subs {
		rows[i] = BatchModelInference{
			BatchID: providerBatchID, InferenceID: s.InferenceID,
			ModelName: m.Model, ModelProvider: m.ModelProvider,
			RawRequest: rawRequest,
		}
	}
	if err := m.Store.InsertSubRequests(ctx, rows); err != nil {
		return "", fmt.Errorf("batch submit: persist sub-requests: %w", err)
	}
	return providerBatchID, nil
}

// Poll fetches the latest BatchRequest row, queries the provider, and
// depending on outcome: pending writes a new pending row with the updated
// raw response; failed writes a failed row; completed writes the per-row
// completions (deduped) and returns them sorted by inference id.
func (m *Manager) Poll(ctx context.Context, batchID string) (Status, []CompletedOutput, error) {
	latest, err := m.Store.LatestBatchRequest(ctx, batchID)
	if err != nil {
		return "", nil, fmt.Errorf("batch poll: %w", err)
	}
	if latest.Status != StatusPending {
		// Already resolved; return what was already persisted rather than
		// re-polling a finished provider-side job.
		if latest.Status == StatusCompleted {
			outs, err := m.Store.Completions(ctx, batchID)
			return latest.Status, outs, err
		}
		return latest.Status, nil, nil
	}

	result, err := m.Provider.PollBatchInference(ctx, batchID)
	if err != nil {
		return "", nil, fmt.Errorf("batch poll: provider poll_batch_inference: %w", err)
	}

	switch result.Status {
	case PollPending:
		latest.RawResponse = result.RawResponse
		if err := m.Store.InsertBatchRequest(ctx, latest); err != nil {
			return "", nil, fmt.Errorf("batch poll: persist pending row: %w", err)
		}
		return StatusPending, nil, nil

	case PollFailed:
		latest.Status = StatusFailed
		latest.RawResponse = result.RawResponse
		latest.Errors = result.Errors
		if err := m.Store.InsertBatchRequest(ctx, latest); err != nil {
			return "", nil, fmt.Errorf("batch poll: persist failed row: %w", err)
		}
		return StatusFailed, nil, nil

	case PollCompleted:
		latest.Status = StatusCompleted
		latest.RawResponse = result.RawResponse
		if err := m.Store.InsertBatchRequest(ctx, latest); err != nil {
			return "", nil, fmt.Errorf("batch poll: persist completed row: %w", err)
		}
		if err := m.Store.InsertCompletions(ctx, batchID, result.Outputs); err != nil {
			return "", nil, fmt.Errorf("batch poll: persist completions: %w", err)
		}
		outs, err := m.Store.Completions(ctx, batchID)
		if err != nil {
			return "", nil, fmt.Errorf("batch poll: read back completions: %w", err)
		}
		return StatusCompleted, outs, nil

	default:
		return "", nil, fmt.Errorf("batch poll: unknown poll status %d", result.Status)
	}
}
