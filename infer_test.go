package aigateway

import (
	"context"
	"testing"

	"github.com/relaygw/gateway/content"
	"github.com/relaygw/gateway/internal/variants"
	"github.com/relaygw/gateway/toolbox"
)

type fixedSentenceDispatcher struct{ sentence string }

func (d fixedSentenceDispatcher) Infer(_ context.Context, req content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	return &content.ProviderInferenceResponse{
		ID: "resp-1", Content: []content.Block{content.Text(d.sentence)},
		Usage: content.Usage{Prompt: 5, Completion: 3}, FinishReason: "stop",
	}, nil
}

func (d fixedSentenceDispatcher) InferStream(_ context.Context, _ content.ModelInferenceRequest) (<-chan content.ProviderInferenceResponseChunk, string, error) {
	return nil, "", nil
}

type toolCallDispatcher struct{}

func (toolCallDispatcher) Infer(_ context.Context, _ content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	return &content.ProviderInferenceResponse{
		ID: "resp-2", Content: []content.Block{content.ToolCall("call-1", "get_temperature", `{"location":"Tokyo"}`)},
		Usage: content.Usage{Prompt: 5, Completion: 3}, FinishReason: "tool_use",
	}, nil
}

func (toolCallDispatcher) InferStream(_ context.Context, _ content.ModelInferenceRequest) (<-chan content.ProviderInferenceResponseChunk, string, error) {
	return nil, "", nil
}

// twoChunkDispatcher streams two text deltas sharing id "0" plus a trailing
// usage-only chunk, mirroring seed scenario 4's literal chunk sequence.
type twoChunkDispatcher struct{}

func (twoChunkDispatcher) Infer(_ context.Context, _ content.ModelInferenceRequest) (*content.ProviderInferenceResponse, error) {
	return nil, nil
}

func (twoChunkDispatcher) InferStream(_ context.Context, _ content.ModelInferenceRequest) (<-chan content.ProviderInferenceResponseChunk, string, error) {
	ch := make(chan content.ProviderInferenceResponseChunk, 3)
	ch <- content.ProviderInferenceResponseChunk{
		Content: []content.BlockChunk{{ID: "0", Type: content.BlockText, TextDelta: "Hello,"}},
	}
	ch <- content.ProviderInferenceResponseChunk{
		Content: []content.BlockChunk{{ID: "0", Type: content.BlockText, TextDelta: " world!"}},
	}
	usage := content.Usage{Prompt: 4, Completion: 2}
	ch <- content.ProviderInferenceResponseChunk{Usage: &usage, FinishReason: "stop"}
	close(ch)
	return ch, "raw-request", nil
}

func echoRequestBuilder(in content.ResolvedInput) (content.ModelInferenceRequest, error) {
	msgs := make([]content.RequestMessage, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = content.RequestMessage{Role: m.Role, Content: m.Content}
	}
	return content.ModelInferenceRequest{System: in.System, Messages: msgs}, nil
}

func userText(text string) content.Input {
	return content.Input{Messages: []content.InputMessage{{Role: content.RoleUser, Content: []content.Block{content.Text(text)}}}}
}

func TestInfer_SeedScenario1_BasicChatFixedSentence(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	gw.RegisterFunction(&FunctionConfig{
		Name: "basic_chat",
		Variants: map[string]variants.Variant{
			"v1": &variants.Chat{ModelName: "m", ModelProviderName: "stub", Build: echoRequestBuilder, Dispatch: fixedSentenceDispatcher{sentence: "The capital of Japan is Tokyo."}},
		},
	})

	resp, err := gw.Infer(context.Background(), InferRequest{Function: "basic_chat", Input: userText("What is the capital of Japan?")})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "The capital of Japan is Tokyo." {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
	if len(resp.ModelInferenceIDs) != 1 {
		t.Fatalf("expected exactly one model_inference id, got %d", len(resp.ModelInferenceIDs))
	}
	if resp.InferenceID == "" || resp.EpisodeID == "" {
		t.Fatal("expected inference_id and episode_id to be generated")
	}
}

func TestInfer_SeedScenario2_ToolChoiceAnyProducesToolUse(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	tools := toolbox.NewRegistry()
	if err := tools.Register("get_temperature", "current temperature", []byte(`{"type":"object"}`), false); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	gw.SetToolRegistry(tools)
	gw.RegisterFunction(&FunctionConfig{
		Name:          "weather",
		FunctionTools: []string{"get_temperature"},
		ToolChoice:    content.ToolChoice{Mode: content.ToolChoiceRequired},
		Variants: map[string]variants.Variant{
			"v1": &variants.Chat{ModelName: "m", ModelProviderName: "stub", Build: echoRequestBuilder, Dispatch: toolCallDispatcher{}},
		},
	})

	resp, err := gw.Infer(context.Background(), InferRequest{Function: "weather", Input: userText("Hello")})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != content.BlockToolCall || resp.Content[0].ToolName != "get_temperature" {
		t.Fatalf("expected a single get_temperature tool_call block, got %+v", resp.Content)
	}
}

func TestInferStream_SeedScenario4_TwoChunksAssembleToOneText(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	gw.RegisterFunction(&FunctionConfig{
		Name: "basic_chat",
		Variants: map[string]variants.Variant{
			"v1": &variants.Chat{ModelName: "m", ModelProviderName: "stub", Build: echoRequestBuilder, Dispatch: twoChunkDispatcher{}},
		},
	})

	sresp, err := gw.InferStream(context.Background(), InferRequest{Function: "basic_chat", Input: userText("hi")})
	if err != nil {
		t.Fatalf("infer_stream: %v", err)
	}
	var received []content.ProviderInferenceResponseChunk
	for chunk := range sresp.Chunks {
		received = append(received, chunk)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 forwarded chunks, got %d", len(received))
	}
	assembled, usage, _, finishReason := content.AssembleStream(received)
	if len(assembled) != 1 || assembled[0].Text != "Hello, world!" {
		t.Fatalf("expected assembled content [text(\"Hello, world!\")], got %+v", assembled)
	}
	if usage.Prompt != 4 || usage.Completion != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if finishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", finishReason)
	}
}

func TestInferStream_RejectsNonStreamingVariant(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	gw.RegisterFunction(&FunctionConfig{
		Name: "best_of",
		Variants: map[string]variants.Variant{
			"v1": &variants.BestOfN{
				Candidates: []variants.Variant{&variants.Chat{Build: echoRequestBuilder, Dispatch: fixedSentenceDispatcher{sentence: "x"}}},
				Evaluator:  &variants.Chat{Build: echoRequestBuilder, Dispatch: fixedSentenceDispatcher{sentence: `{"thinking":"","answer_choice":0}`}},
				BuildPrompt: func(_ string, original content.ResolvedInput) (content.ResolvedInput, error) { return original, nil },
			},
		},
	})
	if _, err := gw.InferStream(context.Background(), InferRequest{Function: "best_of", Input: userText("hi")}); err == nil {
		t.Fatal("expected error: best-of-n does not support streaming")
	}
}

func TestInfer_UnknownFunctionErrors(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if _, err := gw.Infer(context.Background(), InferRequest{Function: "missing", Input: userText("hi")}); err == nil {
		t.Fatal("expected error for unregistered function")
	}
}

func TestInfer_PinnedVariantIsUsedWhenSpecified(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	gw.RegisterFunction(&FunctionConfig{
		Name: "basic_chat",
		Variants: map[string]variants.Variant{
			"a": &variants.Chat{Build: echoRequestBuilder, Dispatch: fixedSentenceDispatcher{sentence: "A"}},
			"b": &variants.Chat{Build: echoRequestBuilder, Dispatch: fixedSentenceDispatcher{sentence: "B"}},
		},
	})
	resp, err := gw.Infer(context.Background(), InferRequest{Function: "basic_chat", Variant: "b", Input: userText("hi")})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if resp.VariantName != "b" || resp.Content[0].Text != "B" {
		t.Fatalf("expected pinned variant b to run, got %+v", resp)
	}
}
