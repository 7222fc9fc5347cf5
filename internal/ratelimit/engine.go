package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
)

// ErrRateLimitExceeded is returned when any selected rule's bucket cannot
// satisfy the request. Tickets already consumed by earlier rules in the same
// call remain consumed; they are reconciled on the return path like any
// other borrow.
type ErrRateLimitExceeded struct {
	Key              Key
	TicketsRemaining float64
}

func (e ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for key %s: %.0f tickets remaining", e.Key, e.TicketsRemaining)
}

// borrowedUnit records one (key, resource) bucket this request drew from, so
// Return can reconcile it against actual usage.
type borrowedUnit struct {
	Key       Key
	Resource  Resource
	Capacity  float64
	RefillRate float64
	Interval  Interval
	Borrowed  float64
}

// TicketBorrow is the must-use handle returned by Consume; on a rate-limit
// rejection it holds the units that did succeed. The caller that obtains one
// is responsible for passing it to Return exactly once. Return does nothing
// for a borrow with no units, such as Empty().
type TicketBorrow struct {
	units []borrowedUnit
}

// Empty returns a valid, no-op TicketBorrow for request paths with no
// applicable rate-limit rules (there is nothing to return).
func Empty() TicketBorrow { return TicketBorrow{} }

// Engine evaluates configured Rules against a request's ScopeInfo and
// consumes/returns tickets from a TicketStore.
type Engine struct {
	rules []Rule
	store TicketStore
}

// NewEngine constructs an Engine. rules should already be sorted/validated
// at config-load time; Engine does not mutate or re-sort them.
func NewEngine(rules []Rule, store TicketStore) *Engine {
	return &Engine{rules: rules, store: store}
}

// Consume matches info against the configured rules, selects the active
// subset (Always plus max-numeric-priority), and issues one ConsumeRequest
// per (selected rule, limit) pair to the backing store. usage supplies the
// request's estimated consumption per resource (e.g. a token estimate and a
// flat 1 for model-inference units).
func (e *Engine) Consume(ctx context.Context, info ScopeInfo, usage map[Resource]float64) (TicketBorrow, error) {
	var matched []matchedRule
	for _, r := range e.rules {
		key, ok := BuildKey(r.Scope, info)
		if !ok {
			continue
		}
		matched = append(matched, matchedRule{rule: r, key: key})
	}
	active := selectActive(matched)
	if len(active) == 0 {
		return Empty(), nil
	}

	var reqs []ConsumeRequest
	var units []borrowedUnit
	for _, m := range active {
		for _, limit := range m.rule.Limits {
			requested := usage[limit.Resource]
			reqs = append(reqs, ConsumeRequest{
				Key: m.key, Resource: limit.Resource, Capacity: limit.Capacity,
				RefillRate: limit.RefillRate, Interval: limit.Interval, Requested: requested,
			})
			units = append(units, borrowedUnit{
				Key: m.key, Resource: limit.Resource, Capacity: limit.Capacity,
				RefillRate: limit.RefillRate, Interval: limit.Interval, Borrowed: requested,
			})
		}
	}

	receipts, err := e.store.ConsumeTickets(ctx, reqs)
	if err != nil {
		return TicketBorrow{}, fmt.Errorf("ratelimit consume: %w", err)
	}

	// receipts is index-aligned with reqs/units (built from the same loop
	// above). A later rule exceeding its limit must not discard units
	// already consumed by earlier rules in this same call; those remain
	// consumed and are reconciled on the return path.
	var succeeded []borrowedUnit
	var failed *ErrRateLimitExceeded
	for i, r := range receipts {
		if r.Success {
			succeeded = append(succeeded, units[i])
			continue
		}
		if failed == nil {
			failed = &ErrRateLimitExceeded{Key: r.Key, TicketsRemaining: r.Remaining}
		}
	}
	if failed != nil {
		return TicketBorrow{units: succeeded}, *failed
	}
	return TicketBorrow{units: units}, nil
}

// Return reconciles a TicketBorrow against actual per-resource usage,
// called exactly once after the upstream model call completes. If actual
// usage exceeds what was borrowed, the delta is consumed best-effort
// (failures are logged, never surfaced); if less, the delta is returned; if
// equal, no store round-trip happens for that unit.
func (e *Engine) Return(ctx context.Context, borrow TicketBorrow, actual map[Resource]float64) {
	var extraConsume []ConsumeRequest
	var give []ReturnRequest
	for _, u := range borrow.units {
		a := actual[u.Resource]
		switch {
		case a > u.Borrowed:
			extraConsume = append(extraConsume, ConsumeRequest{
				Key: u.Key, Resource: u.Resource, Capacity: u.Capacity,
				RefillRate: u.RefillRate, Interval: u.Interval, Requested: a - u.Borrowed,
			})
		case a < u.Borrowed:
			give = append(give, ReturnRequest{Key: u.Key, Resource: u.Resource, Amount: u.Borrowed - a})
		}
	}
	if len(extraConsume) > 0 {
		if _, err := e.store.ConsumeTickets(ctx, extraConsume); err != nil {
			slog.Warn("ratelimit: best-effort extra consume on return failed", "error", err)
		}
	}
	if len(give) > 0 {
		if err := e.store.ReturnTickets(ctx, give); err != nil {
			slog.Warn("ratelimit: return tickets failed", "error", err)
		}
	}
}
