// Package observability writes the gateway's analytics rows (Inference,
// ModelInference, Datapoint) to a dual-dialect SQL store, generalizing the
// teacher's internal/requestlog and internal/admin write-only row patterns
// from a single flat log line into the full inference/datapoint schema the
// orchestrator needs. BatchRequest rows are kept by internal/batch's own
// store.
package observability

import (
	"encoding/json"
	"time"

	"github.com/relaygw/gateway/content"
)

// Inference is the client-response-level row: one per top-level inference
// request, referencing every ModelInference row its execution produced.
type Inference struct {
	InferenceID       string
	EpisodeID         string
	Function          string
	VariantName       string
	Input             content.ResolvedInput
	Output            []content.Block
	Usage             content.Usage
	ModelInferenceIDs []string
	CreatedAt         time.Time
}

// ModelInference is one row per actual provider call.
type ModelInference struct {
	ID                string
	InferenceID       string
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
	Cached            bool
	FinishReason      string
	SnapshotHash      string
	CreatedAt         time.Time
}

// ToolParams is the dynamic tool-call configuration attached to a Datapoint,
// carried as one struct so the three-state PATCH collapse rule (see
// SQLStore.Update) can be evaluated against it as a whole rather than
// field by field.
type ToolParams struct {
	AllowedTools      []string         `json:"allowed_tools,omitempty"`
	AdditionalTools   []json.RawMessage `json:"additional_tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool            `json:"parallel_tool_calls,omitempty"`
	ModelProvider     string           `json:"model_provider,omitempty"`
}

// IsEmpty reports whether every sub-field of ToolParams is in its cleared
// state — the condition under which the datapoint's tool_params as a whole
// collapses to None on the read path.
func (t *ToolParams) IsEmpty() bool {
	if t == nil {
		return true
	}
	return len(t.AllowedTools) == 0 && len(t.AdditionalTools) == 0 &&
		t.ToolChoice == "" && t.ParallelToolCalls == nil && t.ModelProvider == ""
}

// Datapoint is a persisted example for offline evaluation/fine-tuning.
// Updating one never mutates in place: SQLStore.Update allocates a new id and
// marks the previous live row's StaledAt, so an update leaves one live row per
// (Dataset, Function, SourceInferenceID). InsertDatapoint does not check for
// an existing live row with the same triple.
type Datapoint struct {
	ID                 string
	Dataset            string
	Function           string
	EpisodeID          string
	Input              content.ResolvedInput
	Output             []content.Block
	ToolParams         *ToolParams
	Tags               map[string]string
	SourceInferenceID  string
	StaledAt           *time.Time
	CreatedAt          time.Time
}

// DatapointPatch is the three-state PATCH payload: a nil pointer means
// "omit, leave unchanged"; a non-nil pointer to a zero value means
// "explicitly clear"; a non-nil pointer to a populated value means "set".
type DatapointPatch struct {
	Output     *[]content.Block
	ToolParams **ToolParams // outer pointer: field present in PATCH at all
	Tags       *map[string]string
}
