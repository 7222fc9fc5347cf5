package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TGIProvider implements the Provider interface for a Hugging Face
// Text Generation Inference deployment. TGI exposes an OpenAI-compatible
// /v1/chat/completions endpoint but mangles tool names and EOS handling when
// streaming with tools attached; rather than hard-coding that restriction
// into the orchestrator, the provider declares it via SupportsToolStreaming.
// JSON mode is supported only through implicit tool calling.
type TGIProvider struct {
	Base
	httpClient *http.Client
	model      string
}

// NewTGI creates a TGI provider pointed at a single deployed model.
func NewTGI(apiKey, baseURL, model string) (*TGIProvider, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	return &TGIProvider{
		Base:       Base{name: "tgi", apiKey: apiKey, baseURL: baseURL},
		httpClient: &http.Client{},
		model:      model,
	}, nil
}

// SupportsToolStreaming implements providers.CapableProvider.
func (p *TGIProvider) SupportsToolStreaming() bool { return false }

// AuthHeaders implements ProxiableProvider.
func (p *TGIProvider) AuthHeaders() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

// SupportedModels returns the single model this deployment serves.
func (p *TGIProvider) SupportedModels() []string { return []string{p.model} }

// SupportsModel reports whether model matches this deployment's model.
func (p *TGIProvider) SupportsModel(model string) bool { return model == p.model }

// Models returns model metadata for the /v1/models endpoint.
func (p *TGIProvider) Models() []ModelInfo {
	return []ModelInfo{{ID: p.model, Object: "model", OwnedBy: p.name}}
}

type tgiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type tgiChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Complete sends a non-streaming chat completion request to the TGI
// deployment's OpenAI-compatible endpoint. Tool use is allowed here — only
// streaming with tools is restricted.
func (p *TGIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(tgiChatRequest{
		Model: req.Model, Messages: req.Messages, Temperature: req.Temperature,
		MaxTokens: req.MaxTokens, Tools: req.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tgi request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tgi request: %w", err)
	}
	for k, v := range p.AuthHeaders() {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tgi request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tgi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tgi API error (%d): %s", resp.StatusCode, string(respBody))
	}
	var tgiResp tgiChatResponse
	if err := json.Unmarshal(respBody, &tgiResp); err != nil {
		return nil, fmt.Errorf("unmarshal tgi response: %w", err)
	}
	return &Response{ID: tgiResp.ID, Model: tgiResp.Model, Provider: p.name, Choices: tgiResp.Choices, Usage: tgiResp.Usage}, nil
}

// CompleteStream streams a chat completion from TGI. Callers that attach
// tools should check SupportsToolStreaming before calling this — TGI itself
// does not reject such requests cleanly, so the gateway enforces the
// restriction at the orchestrator boundary instead.
func (p *TGIProvider) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body, err := json.Marshal(tgiChatRequest{
		Model: req.Model, Messages: req.Messages, Temperature: req.Temperature,
		MaxTokens: req.MaxTokens, Tools: req.Tools, Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tgi request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tgi request: %w", err)
	}
	for k, v := range p.AuthHeaders() {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tgi stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tgi API error (%d): %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == SSEDone {
				return
			}
			var chunk StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				select {
				case out <- StreamChunk{Error: fmt.Errorf("decode tgi chunk: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
