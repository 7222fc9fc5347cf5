package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	aigateway "github.com/relaygw/gateway"
	"github.com/relaygw/gateway/content"
	"github.com/relaygw/gateway/internal/cache"
	"github.com/relaygw/gateway/internal/observability"
	"github.com/relaygw/gateway/internal/ratelimit"
	"github.com/relaygw/gateway/internal/variants"
	"github.com/relaygw/gateway/providers"
	"github.com/relaygw/gateway/toolbox"
	"github.com/go-chi/chi/v5"
)

// defaultChatFunction is the name of the FunctionConfig wired automatically
// at startup from one auto-registered provider, exposed at
// /v1/functions/{function}/infer(/stream).
const defaultChatFunction = "chat"

// wireOrchestrator binds the variant/tool/rate-limit/cache/analytics
// collaborators onto gw and registers a chat FunctionConfig against the
// first name registry.List returns (List order is not defined, so this is
// an arbitrary registered provider), so Gateway.Infer/InferStream are
// reachable from the running binary rather than only from tests.
func wireOrchestrator(gw *aigateway.Gateway, registry *providers.Registry) {
	names := registry.List()
	if len(names) == 0 {
		return
	}
	p, ok := registry.Get(names[0])
	if !ok {
		return
	}
	model := p.Name()
	if models := p.SupportedModels(); len(models) > 0 {
		model = models[0]
	}

	gw.SetToolRegistry(toolbox.NewRegistry())
	gw.SetRateLimiter(ratelimit.NewEngine(nil, ratelimit.NewMemoryStore()))
	gw.SetResponseCache(cache.NewSingleFlightCache(cache.NewMemory(1024, 5*time.Minute)))

	if store, err := observability.NewSQLiteStore(""); err != nil {
		log.Printf("analytics store disabled: %v", err)
	} else {
		gw.SetAnalyticsStore(store)
	}

	dispatcher := aigateway.NewProviderDispatcher(model, p)
	gw.RegisterFunction(&aigateway.FunctionConfig{
		Name: defaultChatFunction,
		Variants: map[string]variants.Variant{
			"default": &variants.Chat{
				ModelName: model, ModelProviderName: p.Name(),
				Build: buildModelInferenceRequest, Dispatch: dispatcher,
			},
		},
	})
	log.Printf("Function %q wired to provider %s (model %s)", defaultChatFunction, p.Name(), model)
}

// buildModelInferenceRequest is the default RequestBuilder for the
// auto-wired chat function: a straight pass-through of the resolved input
// with no templating or tool config attached.
func buildModelInferenceRequest(in content.ResolvedInput) (content.ModelInferenceRequest, error) {
	msgs := make([]content.RequestMessage, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = content.RequestMessage{Role: m.Role, Content: m.Content}
	}
	return content.ModelInferenceRequest{System: in.System, Messages: msgs}, nil
}

// functionInferBody is the JSON request body for the function-level infer
// endpoints: content.Input already carries json tags, so it is decoded
// directly rather than through an intermediate OpenAI-shaped type.
type functionInferBody struct {
	Variant   string        `json:"variant,omitempty"`
	EpisodeID string        `json:"episode_id,omitempty"`
	Input     content.Input `json:"input"`
}

// functionInferHandler exposes Gateway.Infer over HTTP.
func functionInferHandler(gw *aigateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		function := chi.URLParam(r, "function")
		var body functionInferBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		resp, err := gw.Infer(r.Context(), aigateway.InferRequest{
			Function: function, Variant: body.Variant, EpisodeID: body.EpisodeID, Input: body.Input,
		})
		if err != nil {
			writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// functionInferStreamHandler exposes Gateway.InferStream over SSE.
func functionInferStreamHandler(gw *aigateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		function := chi.URLParam(r, "function")
		var body functionInferBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		sresp, err := gw.InferStream(r.Context(), aigateway.InferRequest{
			Function: function, Variant: body.Variant, EpisodeID: body.EpisodeID, Input: body.Input,
		})
		if err != nil {
			writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, _ := w.(http.Flusher)
		for chunk := range sresp.Chunks {
			data, _ := json.Marshal(chunk)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		}
		_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}
