package variants

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/relaygw/gateway/content"
)

// Embedder embeds text for DICL's nearest-neighbor lookup. The embedding
// call itself is recorded as a ModelInference, per the design notes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, ModelInferenceRecord, error)
}

// Example is one stored (input, output) pair used as a DICL few-shot turn.
type Example struct {
	Embedding []float64
	InputText string
	Output    string
}

// ExampleStore provides the candidate pool DICL ranks locally. Nearest-
// neighbor ranking itself is done here with gonum rather than pushed into
// the store, so any ExampleStore backend (SQL, in-memory, future vector
// databases) can be ranked identically.
type ExampleStore interface {
	Examples(ctx context.Context, dataset, function string) ([]Example, error)
}

// DICL implements dynamic in-context learning: embed the input, retrieve the
// top-k nearest stored examples by cosine similarity, format them as
// preceding user/assistant turns, and dispatch to the main model.
type DICL struct {
	Dataset, Function string
	K                  int
	Embed              Embedder
	Store              ExampleStore
	MainModel          Variant
	// FormatInput renders a ResolvedInput's user turn into plain text for
	// both embedding and the similarity query.
	FormatInput func(content.ResolvedInput) (string, error)
	// WithExamples splices the retrieved examples as preceding turns ahead
	// of the original input's final user turn.
	WithExamples func(in content.ResolvedInput, examples []Example) (content.ResolvedInput, error)
}

// Infer implements Variant.
func (d *DICL) Infer(ctx context.Context, in content.ResolvedInput) (*Result, error) {
	if containsImage(in) {
		return nil, fmt.Errorf("dicl: images in input are not supported")
	}

	text, err := d.FormatInput(in)
	if err != nil {
		return nil, fmt.Errorf("dicl: format input: %w", err)
	}

	embedding, embedRecord, err := d.Embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("dicl: embed input: %w", err)
	}

	pool, err := d.Store.Examples(ctx, d.Dataset, d.Function)
	if err != nil {
		return nil, fmt.Errorf("dicl: load examples: %w", err)
	}
	top := nearest(embedding, pool, d.K)

	augmented, err := d.WithExamples(in, top)
	if err != nil {
		return nil, fmt.Errorf("dicl: splice examples: %w", err)
	}

	result, err := d.MainModel.Infer(ctx, augmented)
	if err != nil {
		return nil, fmt.Errorf("dicl: main model call: %w", err)
	}
	result.Records = append([]ModelInferenceRecord{embedRecord}, result.Records...)
	return result, nil
}

// InferStream implements StreamVariant, provided the configured main model
// itself streams. The embedding and example-lookup calls still happen
// up-front (they gate what gets spliced into the prompt), so only the main
// model's dispatch is streamed; the embedding call's record is carried on
// ExtraRecords since it completes before any chunk is available.
func (d *DICL) InferStream(ctx context.Context, in content.ResolvedInput) (*StreamResult, error) {
	streaming, ok := d.MainModel.(StreamVariant)
	if !ok {
		return nil, fmt.Errorf("dicl: configured main model does not support streaming")
	}
	if containsImage(in) {
		return nil, fmt.Errorf("dicl: images in input are not supported")
	}

	text, err := d.FormatInput(in)
	if err != nil {
		return nil, fmt.Errorf("dicl: format input: %w", err)
	}
	embedding, embedRecord, err := d.Embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("dicl: embed input: %w", err)
	}
	pool, err := d.Store.Examples(ctx, d.Dataset, d.Function)
	if err != nil {
		return nil, fmt.Errorf("dicl: load examples: %w", err)
	}
	top := nearest(embedding, pool, d.K)

	augmented, err := d.WithExamples(in, top)
	if err != nil {
		return nil, fmt.Errorf("dicl: splice examples: %w", err)
	}

	sr, err := streaming.InferStream(ctx, augmented)
	if err != nil {
		return nil, fmt.Errorf("dicl: main model stream call: %w", err)
	}
	sr.ExtraRecords = append([]ModelInferenceRecord{embedRecord}, sr.ExtraRecords...)
	return sr, nil
}

// Validate implements Variant.
func (d *DICL) Validate() error {
	if d.Embed == nil || d.Store == nil || d.MainModel == nil {
		return fmt.Errorf("dicl: embedder, example store, and main model are all required")
	}
	if d.K <= 0 {
		return fmt.Errorf("dicl: k must be positive")
	}
	return d.MainModel.Validate()
}

func containsImage(in content.ResolvedInput) bool {
	for _, m := range in.Messages {
		for _, b := range m.Content {
			if b.Type == content.BlockImageRef {
				return true
			}
		}
	}
	return false
}

// nearest ranks pool by cosine similarity to query and returns the top k,
// highest similarity first.
func nearest(query []float64, pool []Example, k int) []Example {
	type scored struct {
		ex  Example
		sim float64
	}
	scoredPool := make([]scored, 0, len(pool))
	for _, ex := range pool {
		if len(ex.Embedding) != len(query) {
			continue
		}
		scoredPool = append(scoredPool, scored{ex: ex, sim: cosineSimilarity(query, ex.Embedding)})
	}
	sort.Slice(scoredPool, func(i, j int) bool { return scoredPool[i].sim > scoredPool[j].sim })
	if k > len(scoredPool) {
		k = len(scoredPool)
	}
	out := make([]Example, k)
	for i := 0; i < k; i++ {
		out[i] = scoredPool[i].ex
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
