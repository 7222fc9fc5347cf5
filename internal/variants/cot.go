package variants

import (
	"context"

	"github.com/relaygw/gateway/content"
)

// NewChainOfThought builds a chain-of-thought variant: a single candidate
// whose raw output is accepted as-is, implemented atop BestOfN with a
// trivial evaluator so candidate bookkeeping and ModelInference recording
// stay identical across both variants.
func NewChainOfThought(candidate Variant) *BestOfN {
	return &BestOfN{
		Candidates: []Variant{candidate},
		Evaluator:  passthroughEvaluator{},
		BuildPrompt: func(_ string, original content.ResolvedInput) (content.ResolvedInput, error) {
			return original, nil
		},
	}
}

// passthroughEvaluator always selects candidate 0 without making a real
// model call — chain-of-thought has no evaluator stage, it passes the sole
// candidate's output through.
type passthroughEvaluator struct{}

func (passthroughEvaluator) Infer(_ context.Context, _ content.ResolvedInput) (*Result, error) {
	return &Result{Content: []content.Block{content.Text(`{"thinking":"","answer_choice":0}`)}}, nil
}

func (passthroughEvaluator) Validate() error { return nil }
