package variants

import (
	"context"
	"fmt"

	"github.com/relaygw/gateway/content"
)

// FuserInputBuilder synthesizes the fuser's prompt from the candidates'
// rendered text, using the mixture_of_n_fuser_system /
// mixture_of_n_fuser_candidates templates upstream (the template engine
// itself lives in the templating package; this package only consumes its
// output).
type FuserInputBuilder func(candidatesText string, original content.ResolvedInput) (content.ResolvedInput, error)

// MixtureOfN spawns N candidates like BestOfN, but a fuser variant
// synthesizes a single new response from all of them instead of selecting
// one. The fuser's output replaces the candidates in the client response;
// every successful candidate and the fuser itself remain as ModelInference
// records.
type MixtureOfN struct {
	Candidates  []Variant
	Fuser       Variant
	BuildPrompt FuserInputBuilder
}

// Infer implements Variant.
func (m *MixtureOfN) Infer(ctx context.Context, in content.ResolvedInput) (*Result, error) {
	outcomes := runCandidates(ctx, in, m.Candidates)
	successes, records := successfulCandidates(outcomes)
	if len(successes) == 0 {
		return nil, fmt.Errorf("mixture-of-n: %w", errAllCandidatesFailed)
	}

	fuserIn, err := m.BuildPrompt(formatCandidatesForPrompt(successes), in)
	if err != nil {
		return nil, fmt.Errorf("mixture-of-n: build fuser prompt: %w", err)
	}
	fused, err := m.Fuser.Infer(ctx, fuserIn)
	if err != nil {
		return nil, fmt.Errorf("mixture-of-n: fuser failed: %w", err)
	}
	records = append(records, fused.Records...)

	return &Result{Content: fused.Content, Usage: fused.Usage, Records: records}, nil
}

// Validate implements Variant.
func (m *MixtureOfN) Validate() error {
	if len(m.Candidates) == 0 {
		return fmt.Errorf("mixture-of-n: at least one candidate variant is required")
	}
	if m.Fuser == nil {
		return fmt.Errorf("mixture-of-n: fuser variant is required")
	}
	for i, c := range m.Candidates {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("mixture-of-n: candidate %d: %w", i, err)
		}
	}
	return m.Fuser.Validate()
}
