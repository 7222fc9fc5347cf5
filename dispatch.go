package aigateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaygw/gateway/content"
	"github.com/relaygw/gateway/internal/gwerrors"
	"github.com/relaygw/gateway/internal/variants"
	"github.com/relaygw/gateway/providers"
)

// providerDispatcher adapts a providers.Provider to variants.Dispatcher, the
// boundary C7 (internal/variants) calls through to execute one provider
// call. It bridges the content-block request/response shapes the
// orchestrator operates on to the OpenAI-compatible wire types
// providers.Provider speaks, the same way inferResponseToCache/
// cachedToInferResponse bridge the response-cache boundary.
type providerDispatcher struct {
	model    string
	provider providers.Provider
}

// NewProviderDispatcher binds model (the upstream model name every
// providers.Request carries) to provider, producing a variants.Dispatcher a
// FunctionConfig's variants can dispatch through. ModelInferenceRequest
// itself carries no model field — the pairing is fixed at construction time,
// one dispatcher per (function variant, model) binding.
func NewProviderDispatcher(model string, provider providers.Provider) variants.Dispatcher {
	return &providerDispatcher{model: model, provider: provider}
}

func (d *providerDispatcher) Infer(ctx context.Context, req content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	pr := toProviderRequest(d.model, req)
	rawReq, _ := json.Marshal(pr)

	resp, err := d.provider.Complete(ctx, pr)
	if err != nil {
		return nil, gwerrors.ClassifyProviderError(string(rawReq), "", err)
	}
	return fromProviderResponse(resp, string(rawReq)), nil
}

func (d *providerDispatcher) InferStream(ctx context.Context, req content.ModelInferenceRequest) (<-chan content.ProviderInferenceResponseChunk, string, error) {
	if len(req.ToolsAvailable) > 0 && !providers.SupportsToolStreaming(d.provider) {
		return nil, "", gwerrors.InvalidTool("", fmt.Errorf(
			"provider %q does not support tool calls while streaming", d.provider.Name()))
	}
	sp, ok := d.provider.(providers.StreamProvider)
	if !ok {
		return nil, "", fmt.Errorf("provider %q does not support streaming", d.provider.Name())
	}

	pr := toProviderRequest(d.model, req)
	pr.Stream = true
	rawReq, _ := json.Marshal(pr)

	upstream, err := sp.CompleteStream(ctx, pr)
	if err != nil {
		return nil, "", gwerrors.ClassifyProviderError(string(rawReq), "", err)
	}

	out := make(chan content.ProviderInferenceResponseChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Error != nil {
				return
			}
			select {
			case out <- fromProviderStreamChunk(chunk):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, string(rawReq), nil
}

func toProviderRequest(model string, req content.ModelInferenceRequest) providers.Request {
	pr := providers.Request{
		Model: model, Temperature: req.Temperature, TopP: req.TopP,
		MaxTokens: req.MaxTokens, Seed: req.Seed,
		PresencePenalty: req.PresencePenalty, FrequencyPenalty: req.FrequencyPenalty,
		Stream: req.Stream,
	}
	if req.System != "" {
		pr.Messages = append(pr.Messages, providers.Message{Role: providers.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		appendProviderMessages(&pr, m)
	}
	for _, t := range req.ToolsAvailable {
		pr.Tools = append(pr.Tools, providers.Tool{
			Type: "function",
			Function: providers.Function{
				Name: t.Name, Description: t.Description, Parameters: t.Parameters, Strict: t.Strict,
			},
		})
	}
	switch req.ToolChoice.Mode {
	case content.ToolChoiceSpecific:
		pr.ToolChoice = map[string]any{"type": "function", "function": map[string]string{"name": req.ToolChoice.Specific}}
	case content.ToolChoiceAuto, content.ToolChoiceRequired, content.ToolChoiceNone:
		pr.ToolChoice = req.ToolChoice.Mode
	}
	return pr
}

// appendProviderMessages flattens one RequestMessage's block list into the
// OpenAI wire shape: text and tool_call blocks fold into a single
// role-carrying message, while each tool_result block becomes its own
// role="tool" message, matching how the teacher's providers represent tool
// results as separate messages keyed by tool_call_id.
func appendProviderMessages(pr *providers.Request, m content.RequestMessage) {
	role := providers.RoleUser
	if m.Role == content.RoleAssistant {
		role = providers.RoleAssistant
	}
	msg := providers.Message{Role: role}
	hasMain := false
	for _, b := range m.Content {
		switch b.Type {
		case content.BlockText:
			msg.Content += b.Text
			hasMain = true
		case content.BlockToolCall:
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID: b.ToolCallID, Type: "function",
				Function: providers.FunctionCall{Name: b.ToolName, Arguments: b.ToolRawArgs},
			})
			hasMain = true
		case content.BlockToolResult:
			pr.Messages = append(pr.Messages, providers.Message{
				Role: providers.RoleTool, Content: b.ToolResultText, ToolCallID: b.ToolResultForID,
			})
		}
	}
	if hasMain {
		pr.Messages = append(pr.Messages, msg)
	}
}

func fromProviderResponse(resp *providers.Response, rawRequest string) *content.ProviderInferenceResponse {
	var blocks []content.Block
	var finish string
	if len(resp.Choices) > 0 {
		ch := resp.Choices[0]
		finish = ch.FinishReason
		if ch.Message.Content != "" {
			blocks = append(blocks, content.Text(ch.Message.Content))
		}
		for _, tc := range ch.Message.ToolCalls {
			blocks = append(blocks, content.ToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
		}
	}
	rawResponse, _ := json.Marshal(resp)
	return &content.ProviderInferenceResponse{
		ID: resp.ID, CreatedUnixS: resp.Created, Content: blocks,
		RawRequest: rawRequest, RawResponse: string(rawResponse),
		Usage:        content.Usage{Prompt: resp.Usage.PromptTokens, Completion: resp.Usage.CompletionTokens},
		FinishReason: finish,
	}
}

func fromProviderStreamChunk(c providers.StreamChunk) content.ProviderInferenceResponseChunk {
	out := content.ProviderInferenceResponseChunk{}
	if len(c.Choices) == 0 {
		return out
	}
	choice := c.Choices[0]
	if choice.Delta.Content != "" {
		out.Content = append(out.Content, content.BlockChunk{ID: "0", Type: content.BlockText, TextDelta: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "0"
		}
		out.Content = append(out.Content, content.BlockChunk{
			ID: id, Type: content.BlockToolCall,
			ToolName: tc.Function.Name, ToolCallID: tc.ID, ArgsDelta: tc.Function.Arguments,
		})
	}
	out.FinishReason = choice.FinishReason
	return out
}
