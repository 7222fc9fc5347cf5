package aigateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/relaygw/gateway/content"
	"github.com/relaygw/gateway/internal/batch"
	"github.com/relaygw/gateway/internal/cache"
	"github.com/relaygw/gateway/internal/logging"
	"github.com/relaygw/gateway/internal/observability"
	"github.com/relaygw/gateway/internal/ratelimit"
	"github.com/relaygw/gateway/internal/variants"
	"github.com/relaygw/gateway/providers"
	"github.com/relaygw/gateway/toolbox"
)

// RegisterFunction adds (or replaces) a function's variant configuration.
func (g *Gateway) RegisterFunction(fc *FunctionConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.functions[fc.Name] = fc
}

// SetToolRegistry wires the static tool table used by Infer's tool-config
// build step.
func (g *Gateway) SetToolRegistry(r *toolbox.Registry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools = r
}

// SetRateLimiter wires the rate-limit engine Infer borrows/returns tickets
// against. A nil limiter (the default) disables rate limiting entirely.
func (g *Gateway) SetRateLimiter(e *ratelimit.Engine) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rateLimiter = e
}

// SetResponseCache wires the fingerprint response cache Infer consults
// before dispatching a variant.
func (g *Gateway) SetResponseCache(c *cache.SingleFlightCache) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responseCache = c
}

// SetAnalyticsStore wires the analytics store Infer writes Inference and
// ModelInference rows to. Writes are fire-and-forget: a nil store simply
// skips them.
func (g *Gateway) SetAnalyticsStore(s observability.Store) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.analytics = s
}

// SetImageResolver wires the object-store collaborator Infer uses to
// resolve image_ref blocks. Without one, image_ref blocks pass through
// unresolved (their kind/data/url fields carried forward verbatim).
func (g *Gateway) SetImageResolver(r content.ImageResolver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.imageResolver = r
}

// RegisterBatchManager wires a batch.Manager for a given (model,
// model_provider) pairing, used by SubmitBatch/PollBatch.
func (g *Gateway) RegisterBatchManager(key string, m *batch.Manager) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches[key] = m
}

// SubmitBatch submits a batch of sub-requests through the manager
// registered under key.
func (g *Gateway) SubmitBatch(ctx context.Context, key string, subs []batch.SubRequest) (string, error) {
	g.mu.RLock()
	m, ok := g.batches[key]
	g.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("submit batch: no batch manager registered for %q", key)
	}
	return m.Submit(ctx, subs)
}

// PollBatch polls a previously submitted batch through the manager
// registered under key.
func (g *Gateway) PollBatch(ctx context.Context, key, batchID string) (batch.Status, []batch.CompletedOutput, error) {
	g.mu.RLock()
	m, ok := g.batches[key]
	g.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("poll batch: no batch manager registered for %q", key)
	}
	return m.Poll(ctx, batchID)
}

// FunctionConfig is the per-function configuration the orchestrator
// dispatches against: its candidate variants (selected by weight or pinned
// by name) and its static tool surface. It carries no input schema; Infer
// checks Input only against the content model's role/block invariants.
type FunctionConfig struct {
	Name              string
	Variants          map[string]variants.Variant
	VariantWeights    map[string]float64
	FunctionTools     []string
	ToolChoice        content.ToolChoice
	ParallelToolCalls *bool
}

// pickVariant selects a pinned variant by name, or weighted-random across
// VariantWeights when pinned is empty.
func (f *FunctionConfig) pickVariant(pinned string) (string, variants.Variant, error) {
	if pinned != "" {
		v, ok := f.Variants[pinned]
		if !ok {
			return "", nil, fmt.Errorf("infer: variant %q not configured for function %q", pinned, f.Name)
		}
		return pinned, v, nil
	}
	if len(f.Variants) == 0 {
		return "", nil, fmt.Errorf("infer: function %q has no configured variants", f.Name)
	}
	total := 0.0
	for name := range f.Variants {
		w := f.VariantWeights[name]
		if w <= 0 {
			w = 1
		}
		total += w
	}
	r := rand.Float64() * total //nolint:gosec // variant weighting, not security-sensitive
	cum := 0.0
	for name, v := range f.Variants {
		w := f.VariantWeights[name]
		if w <= 0 {
			w = 1
		}
		cum += w
		if r < cum {
			return name, v, nil
		}
	}
	for name, v := range f.Variants {
		return name, v, nil
	}
	return "", nil, fmt.Errorf("infer: no variant selected for function %q", f.Name)
}

// InferRequest is the client-facing ask, generalizing providers.Request into
// the full content/toolbox-backed request shape.
type InferRequest struct {
	Function          string
	Variant           string // pinned variant name; empty selects by weight
	Input             content.Input
	EpisodeID         string
	Tags              map[string]string
	APIKeyPublicID    string
	Dynamic           toolbox.DynamicParams
	RateLimitUsage    map[ratelimit.Resource]float64
}

// InferResponse is the client-facing Inference row's live portion.
type InferResponse struct {
	InferenceID       string
	EpisodeID         string
	VariantName       string
	Content           []content.Block
	Usage             content.Usage
	ModelInferenceIDs []string
}

// Infer implements the inference-orchestrator steps from the design:
// generate ids, resolve+validate input, resolve image refs, build tool
// config, consult cache, borrow rate-limit tickets, pick and drive a
// variant, return tickets, and emit observability rows. It generalizes
// Route: Route dispatches one provider call directly, Infer composes
// variant execution (chat/CoT/best-of-N/mixture-of-N/DICL) on top.
func (g *Gateway) Infer(ctx context.Context, req InferRequest) (*InferResponse, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	inferenceID := uuid.NewString()
	episodeID := req.EpisodeID
	if episodeID == "" {
		episodeID = uuid.NewString()
	}

	fn, ok := g.functions[req.Function]
	if !ok {
		return nil, fmt.Errorf("infer: unknown function %q", req.Function)
	}
	if err := req.Input.Validate(); err != nil {
		return nil, fmt.Errorf("infer: invalid input: %w", err)
	}

	resolver := g.imageResolver
	if resolver == nil {
		resolver = passthroughResolver{}
	}
	resolvedInput, err := content.Resolve(req.Input, resolver)
	if err != nil {
		return nil, fmt.Errorf("infer: resolve image refs: %w", err)
	}

	var toolCfg *toolbox.CallConfig
	if g.tools != nil {
		toolCfg, err = g.tools.BuildConfig(fn.FunctionTools, fn.ToolChoice, fn.ParallelToolCalls, req.Dynamic)
		if err != nil {
			return nil, fmt.Errorf("infer: build tool config: %w", err)
		}
	}

	variantName, variant, err := fn.pickVariant(req.Variant)
	if err != nil {
		return nil, err
	}

	fingerprint, ferr := cache.Fingerprint(req.Function, variantName, resolvedInput, toolCfg)
	if ferr == nil && g.responseCache != nil {
		if cached, hit := g.responseCache.Get(fingerprint); hit {
			log.Info("inference cache hit", "function", req.Function, "inference_id", inferenceID)
			return cachedToInferResponse(cached, inferenceID, episodeID, variantName), nil
		}
	}

	var borrow ratelimit.TicketBorrow
	if g.rateLimiter != nil {
		usage := req.RateLimitUsage
		if usage == nil {
			usage = map[ratelimit.Resource]float64{ratelimit.ResourceModelInference: 1}
		}
		borrow, err = g.rateLimiter.Consume(ctx, ratelimit.ScopeInfo{Tags: req.Tags, APIKeyPublicID: req.APIKeyPublicID}, usage)
		if err != nil {
			// Rules that succeeded before the failing one already consumed
			// tickets; reconcile them on the return path rather than leaking
			// the borrow.
			g.rateLimiter.Return(ctx, borrow, map[ratelimit.Resource]float64{})
			return nil, fmt.Errorf("infer: %w", err)
		}
	}

	result, err := variant.Infer(ctx, resolvedInput)

	if g.rateLimiter != nil {
		actual := map[ratelimit.Resource]float64{}
		if result != nil {
			total := 0
			for _, r := range result.Records {
				total += r.InputTokens + r.OutputTokens
			}
			actual[ratelimit.ResourceToken] = float64(total)
			actual[ratelimit.ResourceModelInference] = float64(len(result.Records))
		}
		g.rateLimiter.Return(ctx, borrow, actual)
	}

	if err != nil {
		return nil, fmt.Errorf("infer: variant %q: %w", variantName, err)
	}

	modelInferenceIDs := make([]string, 0, len(result.Records))
	for range result.Records {
		modelInferenceIDs = append(modelInferenceIDs, uuid.NewString())
	}
	if g.analytics != nil {
		go func(records []variants.ModelInferenceRecord, ids []string) {
			bgCtx := context.Background()
			for i, rec := range records {
				if werr := g.analytics.WriteModelInference(bgCtx, observability.ModelInference{
					ID: ids[i], InferenceID: inferenceID, ModelName: rec.ModelName, ModelProviderName: rec.ModelProviderName,
					Input: rec.Input, Output: rec.Output, RawRequest: rec.RawRequest, RawResponse: rec.RawResponse,
					InputTokens: rec.InputTokens, OutputTokens: rec.OutputTokens, ResponseTimeMS: rec.ResponseTimeMS,
					TTFTMS: rec.TTFTMS, FinishReason: rec.FinishReason,
				}); werr != nil {
					log.Warn("analytics write failed", "row", "model_inference", "error", werr.Error())
				}
			}
		}(result.Records, modelInferenceIDs)
	}

	if g.analytics != nil {
		go func(inf observability.Inference) {
			if werr := g.analytics.WriteInference(context.Background(), inf); werr != nil {
				log.Warn("analytics write failed", "row", "inference", "error", werr.Error())
			}
		}(observability.Inference{
			InferenceID: inferenceID, EpisodeID: episodeID, Function: req.Function, VariantName: variantName,
			Input: resolvedInput, Output: result.Content, Usage: result.Usage, ModelInferenceIDs: modelInferenceIDs,
		})
	}

	if ferr == nil && g.responseCache != nil {
		go g.responseCache.Set(fingerprint, inferResponseToCache(inferenceID, result))
	}

	log.Info("inference completed", "function", req.Function, "variant", variantName,
		"inference_id", inferenceID, "latency_ms", time.Since(start).Milliseconds())

	return &InferResponse{
		InferenceID: inferenceID, EpisodeID: episodeID, VariantName: variantName,
		Content: result.Content, Usage: result.Usage, ModelInferenceIDs: modelInferenceIDs,
	}, nil
}

// InferStreamResponse is the handle returned to a streaming caller: ids
// settle immediately, the chunk channel is consumed at the caller's pace.
type InferStreamResponse struct {
	InferenceID string
	EpisodeID   string
	VariantName string
	Chunks      <-chan content.ProviderInferenceResponseChunk
}

// InferStream is the streaming counterpart of Infer. Id generation,
// function/input resolution, variant selection and the ticket borrow run up
// front; usage accounting, ticket return and row emission happen as the
// stream is consumed, deferred until it terminates. Unlike Infer, it builds
// no tool config and does not consult or fill the response cache.
func (g *Gateway) InferStream(ctx context.Context, req InferRequest) (*InferStreamResponse, error) {
	log := logging.FromContext(ctx)

	inferenceID := uuid.NewString()
	episodeID := req.EpisodeID
	if episodeID == "" {
		episodeID = uuid.NewString()
	}

	fn, ok := g.functions[req.Function]
	if !ok {
		return nil, fmt.Errorf("infer_stream: unknown function %q", req.Function)
	}
	if err := req.Input.Validate(); err != nil {
		return nil, fmt.Errorf("infer_stream: invalid input: %w", err)
	}

	resolver := g.imageResolver
	if resolver == nil {
		resolver = passthroughResolver{}
	}
	resolvedInput, err := content.Resolve(req.Input, resolver)
	if err != nil {
		return nil, fmt.Errorf("infer_stream: resolve image refs: %w", err)
	}

	variantName, variant, err := fn.pickVariant(req.Variant)
	if err != nil {
		return nil, err
	}
	streamer, ok := variant.(variants.StreamVariant)
	if !ok {
		return nil, fmt.Errorf("infer_stream: variant %q does not support streaming", variantName)
	}

	var borrow ratelimit.TicketBorrow
	if g.rateLimiter != nil {
		usage := req.RateLimitUsage
		if usage == nil {
			usage = map[ratelimit.Resource]float64{ratelimit.ResourceModelInference: 1}
		}
		borrow, err = g.rateLimiter.Consume(ctx, ratelimit.ScopeInfo{Tags: req.Tags, APIKeyPublicID: req.APIKeyPublicID}, usage)
		if err != nil {
			g.rateLimiter.Return(ctx, borrow, map[ratelimit.Resource]float64{})
			return nil, fmt.Errorf("infer_stream: %w", err)
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sr, err := streamer.InferStream(streamCtx, resolvedInput)
	if err != nil {
		cancel()
		if g.rateLimiter != nil {
			g.rateLimiter.Return(ctx, borrow, map[ratelimit.Resource]float64{})
		}
		return nil, fmt.Errorf("infer_stream: variant %q: %w", variantName, err)
	}

	out := make(chan content.ProviderInferenceResponseChunk)
	go g.consumeStream(streamCtx, cancel, consumeStreamArgs{
		inferenceID: inferenceID, episodeID: episodeID, function: req.Function, variantName: variantName,
		input: resolvedInput, sr: sr, extraRecords: sr.ExtraRecords, borrow: borrow, out: out,
	})

	log.Info("inference stream started", "function", req.Function, "variant", variantName, "inference_id", inferenceID)
	return &InferStreamResponse{InferenceID: inferenceID, EpisodeID: episodeID, VariantName: variantName, Chunks: out}, nil
}

type consumeStreamArgs struct {
	inferenceID, episodeID, function, variantName string
	input                                          content.ResolvedInput
	sr                                             *variants.StreamResult
	extraRecords                                   []variants.ModelInferenceRecord
	borrow                                         ratelimit.TicketBorrow
	out                                            chan<- content.ProviderInferenceResponseChunk
}

// consumeStream forwards chunks from the dispatcher's raw channel to the
// caller's channel while buffering them, then emits observability rows and
// returns rate-limit tickets once the stream ends (normally or via client
// cancellation). It owns closing out and calling cancel exactly once.
func (g *Gateway) consumeStream(ctx context.Context, cancel context.CancelFunc, a consumeStreamArgs) {
	defer cancel()
	defer close(a.out)
	log := logging.FromContext(ctx)

	var buffered []content.ProviderInferenceResponseChunk
	start := time.Now()
	stampedTTFT := false
	truncated := false

forward:
	for {
		select {
		case chunk, ok := <-a.sr.Chunks:
			if !ok {
				break forward
			}
			if !stampedTTFT && len(chunk.Content) > 0 {
				chunk.Latency.TTFT = time.Since(start)
				stampedTTFT = true
			}
			buffered = append(buffered, chunk)
			select {
			case a.out <- chunk:
			case <-ctx.Done():
				truncated = true
				break forward
			}
		case <-ctx.Done():
			truncated = true
			break forward
		}
	}

	assembledContent, usage, ttft, finishReason := content.AssembleStream(buffered)
	if truncated && finishReason == "" {
		finishReason = "truncated"
	}
	var ttftMS *int64
	if ttft > 0 {
		ms := ttft.Milliseconds()
		ttftMS = &ms
	}

	if g.rateLimiter != nil {
		actual := map[ratelimit.Resource]float64{
			ratelimit.ResourceToken:           float64(usage.Prompt + usage.Completion),
			ratelimit.ResourceModelInference:  float64(1 + len(a.extraRecords)),
		}
		g.rateLimiter.Return(context.Background(), a.borrow, actual)
	}

	modelInferenceIDs := make([]string, 0, 1+len(a.extraRecords))
	if g.analytics != nil {
		bgCtx := context.Background()
		for _, rec := range a.extraRecords {
			id := uuid.NewString()
			modelInferenceIDs = append(modelInferenceIDs, id)
			if werr := g.analytics.WriteModelInference(bgCtx, observability.ModelInference{
				ID: id, InferenceID: a.inferenceID, ModelName: rec.ModelName, ModelProviderName: rec.ModelProviderName,
				Input: rec.Input, Output: rec.Output, RawRequest: rec.RawRequest, RawResponse: rec.RawResponse,
				InputTokens: rec.InputTokens, OutputTokens: rec.OutputTokens, ResponseTimeMS: rec.ResponseTimeMS,
				TTFTMS: rec.TTFTMS, FinishReason: rec.FinishReason,
			}); werr != nil {
				log.Warn("analytics write failed", "row", "model_inference", "error", werr.Error())
			}
		}

		mainID := uuid.NewString()
		modelInferenceIDs = append(modelInferenceIDs, mainID)
		if werr := g.analytics.WriteModelInference(bgCtx, observability.ModelInference{
			ID: mainID, InferenceID: a.inferenceID, ModelName: a.sr.ModelName, ModelProviderName: a.sr.ModelProviderName,
			Input: a.sr.Request, Output: assembledContent, RawRequest: a.sr.RawRequest,
			InputTokens: usage.Prompt, OutputTokens: usage.Completion,
			ResponseTimeMS: time.Since(start).Milliseconds(), TTFTMS: ttftMS, FinishReason: finishReason,
		}); werr != nil {
			log.Warn("analytics write failed", "row", "model_inference", "error", werr.Error())
		}

		if werr := g.analytics.WriteInference(bgCtx, observability.Inference{
			InferenceID: a.inferenceID, EpisodeID: a.episodeID, Function: a.function, VariantName: a.variantName,
			Input: a.input, Output: assembledContent, Usage: usage, ModelInferenceIDs: modelInferenceIDs,
		}); werr != nil {
			log.Warn("analytics write failed", "row", "inference", "error", werr.Error())
		}
	}

	log.Info("inference stream completed", "function", a.function, "variant", a.variantName,
		"inference_id", a.inferenceID, "truncated", truncated, "latency_ms", time.Since(start).Milliseconds())
}

// passthroughResolver treats every image_ref as already resolved, for
// deployments that run without an object-store collaborator wired in.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(kind, dataOrURL string) (content.Image, error) {
	img := content.Image{Kind: kind}
	if kind == "url" {
		img.URL = dataOrURL
	} else {
		img.Data = dataOrURL
	}
	return img, nil
}

func inferResponseToCache(inferenceID string, result *variants.Result) *providers.Response {
	msg := providers.Message{Role: "assistant"}
	for _, b := range result.Content {
		switch b.Type {
		case content.BlockText:
			msg.Content += b.Text
		case content.BlockToolCall:
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID: b.ToolCallID, Type: "function",
				Function: providers.FunctionCall{Name: b.ToolName, Arguments: b.ToolRawArgs},
			})
		}
	}
	return &providers.Response{
		ID: inferenceID, Created: time.Now().Unix(),
		Choices: []providers.Choice{{Message: msg}},
		Usage:   providers.Usage{PromptTokens: result.Usage.Prompt, CompletionTokens: result.Usage.Completion},
	}
}

func cachedToInferResponse(cached *providers.Response, inferenceID, episodeID, variantName string) *InferResponse {
	var blocks []content.Block
	if len(cached.Choices) > 0 {
		msg := cached.Choices[0].Message
		if msg.Content != "" {
			blocks = append(blocks, content.Text(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, content.ToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
		}
	}
	return &InferResponse{
		InferenceID: inferenceID, EpisodeID: episodeID, VariantName: variantName,
		Content: blocks,
		Usage:   content.Usage{Prompt: cached.Usage.PromptTokens, Completion: cached.Usage.CompletionTokens},
	}
}
