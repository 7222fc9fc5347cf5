package variants

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaygw/gateway/content"
)

// EvaluatorInputBuilder synthesizes the evaluator's prompt from the
// candidates' rendered text and the original request input.
type EvaluatorInputBuilder func(candidatesText string, original content.ResolvedInput) (content.ResolvedInput, error)

// evaluatorOutput is the evaluator's required structured selection.
type evaluatorOutput struct {
	Thinking     string `json:"thinking"`
	AnswerChoice int    `json:"answer_choice"`
}

// BestOfN spawns N candidate sub-inferences in parallel and asks a
// configured evaluator variant to select one. This struct also backs the
// chain-of-thought variant: CoT is best-of-N with exactly one candidate and
// an evaluator that always returns answer_choice=0, reusing the same
// fan-out/record-keeping machinery rather than duplicating it.
type BestOfN struct {
	Candidates   []Variant
	Evaluator    Variant
	BuildPrompt  EvaluatorInputBuilder
}

// Infer implements Variant. Ordering guarantee: the evaluator receives
// candidates in their configured positional order regardless of completion
// order, so answer_choice indices stay stable.
func (b *BestOfN) Infer(ctx context.Context, in content.ResolvedInput) (*Result, error) {
	outcomes := runCandidates(ctx, in, b.Candidates)
	successes, records := successfulCandidates(outcomes)
	if len(successes) == 0 {
		return nil, fmt.Errorf("best-of-n: %w", errAllCandidatesFailed)
	}

	evalIn, err := b.BuildPrompt(formatCandidatesForPrompt(successes), in)
	if err != nil {
		return nil, fmt.Errorf("best-of-n: build evaluator prompt: %w", err)
	}
	evalResult, err := b.Evaluator.Infer(ctx, evalIn)
	if err != nil {
		return nil, fmt.Errorf("best-of-n: evaluator failed: %w", err)
	}
	records = append(records, evalResult.Records...)

	choice, err := parseEvaluatorChoice(evalResult.Content)
	if err != nil || choice < 0 || choice >= len(successes) {
		// Out-of-range or unparseable: fall back to the next-best successful
		// candidate, i.e. index 0 of the successful set (index 0 in the
		// original candidate order may itself have failed and been
		// filtered out already).
		choice = 0
	}

	chosen := successes[choice]
	return &Result{Content: chosen.Result.Content, Usage: chosen.Result.Usage, Records: records}, nil
}

// Validate implements Variant.
func (b *BestOfN) Validate() error {
	if len(b.Candidates) == 0 {
		return fmt.Errorf("best-of-n: at least one candidate variant is required")
	}
	if b.Evaluator == nil {
		return fmt.Errorf("best-of-n: evaluator variant is required")
	}
	for i, c := range b.Candidates {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("best-of-n: candidate %d: %w", i, err)
		}
	}
	return b.Evaluator.Validate()
}

func parseEvaluatorChoice(blocks []content.Block) (int, error) {
	for _, b := range blocks {
		if b.Type != content.BlockText {
			continue
		}
		var out evaluatorOutput
		if err := json.Unmarshal([]byte(b.Text), &out); err == nil {
			return out.AnswerChoice, nil
		}
	}
	return 0, fmt.Errorf("no structured evaluator output found")
}
