package content

import (
	"testing"
	"time"
)

func TestAssembleStream_TextConcatenation(t *testing.T) {
	wantTTFT := 42 * time.Millisecond
	chunks := []ProviderInferenceResponseChunk{
		{
			InferenceID: "inf-1",
			Content:     []BlockChunk{{ID: "0", Type: BlockText, TextDelta: "Hello,"}},
			Usage:       &Usage{Prompt: 5, Completion: 1},
			Latency:     Latency{Streaming: true, TTFT: wantTTFT},
		},
		{
			InferenceID:  "inf-1",
			Content:      []BlockChunk{{ID: "0", Type: BlockText, TextDelta: " world!"}},
			Usage:        &Usage{Prompt: 0, Completion: 2},
			FinishReason: "stop",
			Latency:      Latency{Streaming: true, TTFT: 99 * time.Millisecond},
		},
	}

	got, usage, ttft, finish := AssembleStream(chunks)
	if len(got) != 1 || got[0].Type != BlockText || got[0].Text != "Hello, world!" {
		t.Fatalf("unexpected assembled content: %+v", got)
	}
	if usage.Prompt != 5 || usage.Completion != 3 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if ttft != wantTTFT {
		t.Fatalf("expected ttft to equal the first content-bearing chunk's stamped latency %s, got %s", wantTTFT, ttft)
	}
	if finish != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", finish)
	}
}

func TestAssembleStream_ToolCallAccumulationAndOrdering(t *testing.T) {
	chunks := []ProviderInferenceResponseChunk{
		{Content: []BlockChunk{{ID: "t1", Type: BlockToolCall, ToolName: "get_temperature", ToolCallID: "call_1", ArgsDelta: `{"city":`}}},
		{Content: []BlockChunk{{ID: "a", Type: BlockText, TextDelta: "thinking..."}}},
		{Content: []BlockChunk{{ID: "t1", Type: BlockToolCall, ArgsDelta: `"Tokyo"}`}}},
	}

	got, _, _, _ := AssembleStream(chunks)
	if len(got) != 2 {
		t.Fatalf("expected 2 assembled blocks, got %d", len(got))
	}
	if got[0].Type != BlockToolCall || got[0].ToolName != "get_temperature" {
		t.Fatalf("expected tool_call block first, got %+v", got[0])
	}
	if got[0].ToolRawArgs != `{"city":"Tokyo"}` {
		t.Fatalf("expected accumulated arguments, got %q", got[0].ToolRawArgs)
	}
	if got[1].Type != BlockText || got[1].Text != "thinking..." {
		t.Fatalf("expected text block second, got %+v", got[1])
	}
}

func TestInput_Validate_ToolResultOnlyInUserMessages(t *testing.T) {
	in := Input{Messages: []InputMessage{
		{Role: RoleAssistant, Content: []Block{ToolResult("call_1", "42F")}},
	}}
	if err := in.Validate(); err == nil {
		t.Fatal("expected error for tool_result in assistant message")
	}
}

func TestInput_Validate_ToolCallOnlyInAssistantMessages(t *testing.T) {
	in := Input{Messages: []InputMessage{
		{Role: RoleUser, Content: []Block{ToolCall("call_1", "get_temperature", `{}`)}},
	}}
	if err := in.Validate(); err == nil {
		t.Fatal("expected error for tool_call in user message")
	}
}

func TestResolve_PassesThroughNonImageBlocks(t *testing.T) {
	in := Input{Messages: []InputMessage{
		{Role: RoleUser, Content: []Block{Text("hello"), ImageRef("url", "https://example.com/a.png")}},
	}}
	resolved, err := Resolve(in, stubResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Messages[0].Content[0].Text != "hello" {
		t.Fatalf("expected text block unchanged")
	}
	if resolved.Messages[0].Content[1].StoragePath != "store://a.png" {
		t.Fatalf("expected resolved storage path, got %+v", resolved.Messages[0].Content[1])
	}
}

type stubResolver struct{}

func (stubResolver) Resolve(kind, dataOrURL string) (Image, error) {
	return Image{Kind: kind, StoragePath: "store://a.png"}, nil
}
