package variants

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/relaygw/gateway/content"
)

// candidateOutcome pairs one candidate's positional index with its result
// (nil on failure). Evaluators/fusers must see candidates in this positional
// order — sub-inferences may complete in any order, and runCandidates stores
// each outcome at its own Index so answer_choice indices stay stable.
type candidateOutcome struct {
	Index  int
	Result *Result
	Err    error
}

// runCandidates dispatches every candidate variant in parallel, propagating
// ctx cancellation into all of them (so none outlives the top-level
// request), and returns outcomes ordered by candidate index regardless of
// completion order.
func runCandidates(ctx context.Context, in content.ResolvedInput, candidates []Variant) []candidateOutcome {
	outcomes := make([]candidateOutcome, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand Variant) {
			defer wg.Done()
			res, err := cand.Infer(ctx, in)
			outcomes[i] = candidateOutcome{Index: i, Result: res, Err: err}
		}(i, cand)
	}
	wg.Wait()
	return outcomes
}

// successfulCandidates filters out failed candidates, preserving order, and
// returns the ModelInference records of the successful candidates. A failed
// candidate returns no Result, so it contributes no records.
func successfulCandidates(outcomes []candidateOutcome) (successes []candidateOutcome, allRecords []ModelInferenceRecord) {
	for _, o := range outcomes {
		if o.Err == nil && o.Result != nil {
			successes = append(successes, o)
			allRecords = append(allRecords, o.Result.Records...)
		}
	}
	return successes, allRecords
}

// errAllCandidatesFailed is returned when every candidate sub-inference
// failed, per the partial-failure policy: the variant fails only if no
// candidate succeeded.
var errAllCandidatesFailed = errors.New("all candidates failed")

func formatCandidatesForPrompt(successes []candidateOutcome) string {
	s := ""
	for i, o := range successes {
		text := ""
		for _, b := range o.Result.Content {
			if b.Type == content.BlockText {
				text += b.Text
			}
		}
		s += fmt.Sprintf("Candidate %d:\n%s\n\n", i, text)
	}
	return s
}
