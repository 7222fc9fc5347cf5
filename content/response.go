package content

import (
	"sort"
	"time"
)

// Usage carries prompt/completion token counts for one provider call.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Add returns the element-wise sum of two Usage values.
func (u Usage) Add(o Usage) Usage {
	return Usage{Prompt: u.Prompt + o.Prompt, Completion: u.Completion + o.Completion}
}

// ProviderInferenceResponse is the normalized result of one non-streaming (or
// fully-consumed streaming) provider call.
type ProviderInferenceResponse struct {
	ID           string  `json:"id"`
	CreatedUnixS int64   `json:"created_unix_s"`
	Content      []Block `json:"content"`
	RawRequest   string  `json:"raw_request"`
	RawResponse  string  `json:"raw_response"`
	Usage        Usage   `json:"usage"`
	Latency      Latency `json:"latency"`
	FinishReason string  `json:"finish_reason"`
}

// BlockChunk is a partial update to a single output block, tagged by ID so
// that chunks belonging to the same block can be coalesced in arrival order.
type BlockChunk struct {
	ID   string    `json:"id"`
	Type BlockType `json:"type"` // text | tool_call

	TextDelta string `json:"text_delta,omitempty"`

	ToolName     string `json:"tool_name,omitempty"`     // set on first chunk only
	ToolCallID   string `json:"tool_call_id,omitempty"`   // set on first chunk only
	ArgsDelta    string `json:"args_delta,omitempty"`
}

// ProviderInferenceResponseChunk is one SSE-style unit of a streaming
// provider call.
type ProviderInferenceResponseChunk struct {
	InferenceID  string       `json:"inference_id"`
	Content      []BlockChunk `json:"content"`
	Created      int64        `json:"created"`
	Usage        *Usage       `json:"usage,omitempty"`
	RawResponse  string       `json:"raw_response"`
	Latency      Latency      `json:"latency"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// assembled tracks accumulation state for one block id during stream
// reassembly, preserving first-seen order for the final emission order.
type assembled struct {
	order    int
	isTool   bool
	text     string
	toolName string
	toolID   string
	toolArgs string
}

// AssembleStream implements the streaming assembly rule: text chunks sharing
// an id are concatenated in arrival order; tool-call chunks sharing an id
// accumulate arguments, with the first non-empty chunk fixing name and id.
// The final list orders tool calls before text blocks, each group in
// insertion order. TTFT is the latency of the first chunk carrying any
// content, read from that chunk's own stamped Latency.TTFT rather than
// derived here. The combined finish_reason is the last non-empty chunk's
// reason.
func AssembleStream(chunks []ProviderInferenceResponseChunk) (content []Block, usage Usage, ttft time.Duration, finishReason string) {
	byID := make(map[string]*assembled)
	var seenOrder []string
	haveTTFT := false

	for _, chunk := range chunks {
		if chunk.Usage != nil {
			usage = usage.Add(*chunk.Usage)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if !haveTTFT && len(chunk.Content) > 0 {
			ttft = chunk.Latency.TTFT
			haveTTFT = true
		}
		for _, bc := range chunk.Content {
			a, ok := byID[bc.ID]
			if !ok {
				a = &assembled{order: len(seenOrder), isTool: bc.Type == BlockToolCall}
				byID[bc.ID] = a
				seenOrder = append(seenOrder, bc.ID)
			}
			switch bc.Type {
			case BlockToolCall:
				a.isTool = true
				if a.toolName == "" {
					a.toolName = bc.ToolName
				}
				if a.toolID == "" {
					a.toolID = bc.ToolCallID
				}
				a.toolArgs += bc.ArgsDelta
			default:
				a.text += bc.TextDelta
			}
		}
	}

	ids := make([]string, len(seenOrder))
	copy(ids, seenOrder)
	sort.SliceStable(ids, func(i, j int) bool {
		ai, aj := byID[ids[i]], byID[ids[j]]
		if ai.isTool != aj.isTool {
			return ai.isTool // tool calls first
		}
		return ai.order < aj.order
	})

	for _, id := range ids {
		a := byID[id]
		if a.isTool {
			content = append(content, ToolCall(a.toolID, a.toolName, a.toolArgs))
		} else {
			content = append(content, Text(a.text))
		}
	}
	return content, usage, ttft, finishReason
}
