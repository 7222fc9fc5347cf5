package content

import "time"

// RequestMessage is the internal form fed to a provider: content is always a
// normalized block list (never a raw JSON value) and templates have already
// been expanded. image_ref blocks never appear here — resolution happens
// upstream in ResolvedInput.
type RequestMessage struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// ToolChoice mirrors the spec's tool_choice union.
type ToolChoice struct {
	Mode     string `json:"mode"` // "none" | "auto" | "required" | "specific" | "implicit"
	Specific string `json:"specific,omitempty"`
}

const (
	ToolChoiceNone     = "none"
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceSpecific = "specific"
	ToolChoiceImplicit = "implicit"
)

// JSONMode controls structured-output enforcement.
type JSONMode string

const (
	JSONModeOff         JSONMode = "off"
	JSONModeOn          JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// FunctionType distinguishes chat functions from JSON functions.
type FunctionType string

const (
	FunctionChat FunctionType = "chat"
	FunctionJSON FunctionType = "json"
)

// ToolSpec is the provider-facing shape of a tool definition (name,
// description, JSON Schema parameters). It is intentionally decoupled from
// toolbox.Tool: the content package must not import toolbox, which itself
// depends on content for block types.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  []byte `json:"parameters,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

// ModelInferenceRequest is the complete argument a provider needs to execute
// one inference call.
type ModelInferenceRequest struct {
	Messages []RequestMessage `json:"messages"`
	System   string           `json:"system,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	ToolsAvailable    []ToolSpec `json:"tools_available,omitempty"`
	ToolChoice        ToolChoice `json:"tool_choice"`
	ParallelToolCalls *bool      `json:"parallel_tool_calls,omitempty"`

	JSONMode     JSONMode `json:"json_mode"`
	OutputSchema []byte   `json:"output_schema,omitempty"`

	Stream       bool              `json:"stream"`
	ExtraBody    map[string]any    `json:"extra_body,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`

	FunctionType FunctionType `json:"function_type"`
}

// Validate rejects requests that must never reach a provider.
func (r ModelInferenceRequest) Validate() error {
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return ErrInvalidRequest("max_tokens must be positive")
	}
	if len(r.Messages) == 0 && r.System == "" {
		return ErrInvalidRequest("at least one message or a system prompt is required")
	}
	return nil
}

// ErrInvalidRequest is a lightweight string-based error kind; callers that
// need the gwerrors taxonomy wrap this with internal/gwerrors at the
// orchestrator boundary.
type ErrInvalidRequest string

func (e ErrInvalidRequest) Error() string { return string(e) }

// Latency captures either non-streaming or streaming timing, matching the
// spec's NonStreaming{response_time} / Streaming{ttft, response_time} union.
type Latency struct {
	Streaming    bool          `json:"streaming"`
	TTFT         time.Duration `json:"ttft,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}
