// Package content implements the gateway's typed content model: the chain of
// representations a client request passes through on its way to a provider
// and back (Input -> ResolvedInput -> RequestMessage -> ModelInferenceRequest
// -> ProviderInferenceResponse(Chunk) -> Inference).
//
// Three distinct block vocabularies exist and are kept as separate Go types
// rather than one shared struct with unused fields, mirroring the way
// providers.Message keeps wire-level shapes distinct from internal ones:
// client input blocks, internal request blocks (image refs already resolved),
// and output blocks.
package content

import "encoding/json"

// BlockType discriminates the polymorphic content block union.
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockToolCall  BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
	BlockImageRef  BlockType = "image_ref"
	BlockUnknown   BlockType = "unknown"
)

// Role is the speaker of an InputMessage or RequestMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is a single polymorphic content element. Exactly the fields for its
// Type are meaningful; the rest are zero. A tagged struct (rather than an
// interface-per-variant) is used because blocks round-trip through JSON at
// every layer and need straightforward (un)marshaling.
type Block struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolCall
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolRawArgs  string          `json:"tool_raw_arguments,omitempty"`
	ToolArgs     json.RawMessage `json:"tool_arguments,omitempty"`

	// BlockToolResult
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`

	// BlockImageRef (client input only; resolved away in RequestMessage)
	ImageKind    string `json:"image_kind,omitempty"`    // "base64" | "url"
	ImageData    string `json:"image_data,omitempty"`    // base64 payload
	ImageURL     string `json:"image_url,omitempty"`     // remote URL
	StoragePath  string `json:"storage_path,omitempty"`  // object-store path once resolved

	// BlockUnknown
	ModelProviderName string          `json:"model_provider_name,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
}

// Text builds a text block.
func Text(s string) Block { return Block{Type: BlockText, Text: s} }

// ToolCall builds a tool_call block. Only assistant-role messages may carry
// these (enforced by InputMessage.Validate).
func ToolCall(id, name string, rawArgs string) Block {
	return Block{Type: BlockToolCall, ToolCallID: id, ToolName: name, ToolRawArgs: rawArgs}
}

// ToolResult builds a tool_result block. Only user-role messages may carry
// these (enforced by InputMessage.Validate).
func ToolResult(forID, text string) Block {
	return Block{Type: BlockToolResult, ToolResultForID: forID, ToolResultText: text}
}

// ImageRef builds an unresolved image_ref block.
func ImageRef(kind, dataOrURL string) Block {
	b := Block{Type: BlockImageRef, ImageKind: kind}
	if kind == "url" {
		b.ImageURL = dataOrURL
	} else {
		b.ImageData = dataOrURL
	}
	return b
}

// Unknown builds a provider-opaque passthrough block.
func Unknown(providerName string, data json.RawMessage) Block {
	return Block{Type: BlockUnknown, ModelProviderName: providerName, Data: data}
}
