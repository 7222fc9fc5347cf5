package variants

import (
	"context"
	"fmt"
	"time"

	"github.com/relaygw/gateway/content"
)

// RequestBuilder renders an already-resolved input into the provider-facing
// ModelInferenceRequest, applying template expansion and the function's
// configured sampling/tool/json-mode parameters. Variants never build this
// themselves: it is produced upstream by the content/templating/toolbox
// layers and handed in, keeping variant logic provider- and template-
// agnostic.
type RequestBuilder func(in content.ResolvedInput) (content.ModelInferenceRequest, error)

// Chat is the standard single-provider-call variant: templates -> request ->
// provider, the simplest point in the capability set.
type Chat struct {
	ModelName         string
	ModelProviderName string
	Build             RequestBuilder
	Dispatch          Dispatcher
	Retry             RetryConfig
}

// Infer implements Variant.
func (c *Chat) Infer(ctx context.Context, in content.ResolvedInput) (*Result, error) {
	req, err := c.Build(in)
	if err != nil {
		return nil, fmt.Errorf("chat variant: build request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("chat variant: %w", err)
	}

	start := time.Now()
	resp, err := withRetry(ctx, c.Retry, func() (*content.ProviderInferenceResponse, error) {
		return c.Dispatch.Infer(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("chat variant: provider call: %w", err)
	}

	record := ModelInferenceRecord{
		ModelName: c.ModelName, ModelProviderName: c.ModelProviderName,
		Input: req, Output: resp.Content, RawRequest: resp.RawRequest, RawResponse: resp.RawResponse,
		InputTokens: resp.Usage.Prompt, OutputTokens: resp.Usage.Completion,
		ResponseTimeMS: time.Since(start).Milliseconds(), FinishReason: resp.FinishReason,
	}
	return &Result{Content: resp.Content, Usage: resp.Usage, Records: []ModelInferenceRecord{record}}, nil
}

// InferStream implements StreamVariant.
func (c *Chat) InferStream(ctx context.Context, in content.ResolvedInput) (*StreamResult, error) {
	req, err := c.Build(in)
	if err != nil {
		return nil, fmt.Errorf("chat variant: build request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("chat variant: %w", err)
	}

	chunks, rawRequest, err := c.Dispatch.InferStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat variant: provider stream call: %w", err)
	}
	return &StreamResult{
		Chunks: chunks, ModelName: c.ModelName, ModelProviderName: c.ModelProviderName,
		Request: req, RawRequest: rawRequest,
	}, nil
}

// Validate implements Variant: a Chat variant is valid as long as it has
// both a request builder and a dispatcher wired.
func (c *Chat) Validate() error {
	if c.Build == nil {
		return fmt.Errorf("chat variant %s/%s: missing request builder", c.ModelName, c.ModelProviderName)
	}
	if c.Dispatch == nil {
		return fmt.Errorf("chat variant %s/%s: missing dispatcher", c.ModelName, c.ModelProviderName)
	}
	return nil
}
