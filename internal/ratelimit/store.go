package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// ConsumeRequest asks a TicketStore to take `Requested` units from the
// bucket identified by (Key, Resource), creating it on first use with the
// given Capacity/RefillRate/Interval.
type ConsumeRequest struct {
	Key        Key
	Resource   Resource
	Capacity   float64
	RefillRate float64
	Interval   Interval
	Requested  float64
}

// Receipt is the per-request outcome of a consume call.
type Receipt struct {
	Key       Key
	Resource  Resource
	Success   bool
	Consumed  float64
	Remaining float64
}

// ReturnRequest gives back previously consumed tickets. A negative Amount
// takes tickets instead; both ReturnTickets implementations accept it.
// Engine.Return covers usage above the borrow with an extra ConsumeTickets
// call rather than a negative ReturnRequest.
type ReturnRequest struct {
	Key      Key
	Resource Resource
	Amount   float64
}

// TicketStore is the external, linearizable-per-key boundary the rate-limit
// engine consumes/returns tickets against. An in-memory implementation
// suffices for single-process operation; the Postgres-only SQLStore backs
// cross-process deployments.
type TicketStore interface {
	ConsumeTickets(ctx context.Context, reqs []ConsumeRequest) ([]Receipt, error)
	ReturnTickets(ctx context.Context, reqs []ReturnRequest) error
}

// MemoryStore is a per-process TicketStore backed by amountBucket. It is the
// default store when the gateway runs as a single instance; state does not
// survive process restarts and is not shared across instances, consistent
// with the design's "no strong cross-instance consistency" non-goal.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*amountBucket
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*amountBucket)}
}

func bucketKey(k Key, r Resource) string { return string(k) + "|" + string(r) }

func (s *MemoryStore) bucketFor(req ConsumeRequest) *amountBucket {
	bk := bucketKey(req.Key, req.Resource)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bk]
	if !ok {
		b = newAmountBucket(req.Capacity, req.RefillRate, req.Interval.Duration())
		s.buckets[bk] = b
	}
	return b
}

// ConsumeTickets implements TicketStore.
func (s *MemoryStore) ConsumeTickets(_ context.Context, reqs []ConsumeRequest) ([]Receipt, error) {
	receipts := make([]Receipt, len(reqs))
	for i, req := range reqs {
		b := s.bucketFor(req)
		ok, remaining := b.consume(req.Requested)
		consumed := 0.0
		if ok {
			consumed = req.Requested
		}
		receipts[i] = Receipt{Key: req.Key, Resource: req.Resource, Success: ok, Consumed: consumed, Remaining: remaining}
	}
	return receipts, nil
}

// ReturnTickets implements TicketStore.
func (s *MemoryStore) ReturnTickets(_ context.Context, reqs []ReturnRequest) error {
	for _, req := range reqs {
		s.mu.Lock()
		b, ok := s.buckets[bucketKey(req.Key, req.Resource)]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if req.Amount >= 0 {
			b.giveBack(req.Amount)
		} else {
			b.consume(-req.Amount)
		}
	}
	return nil
}

// SQLStore is a Postgres-backed TicketStore for multi-instance deployments,
// using the same `?`-placeholder-rewritten-to-`$N` dialect convention as the
// rest of the gateway's SQL stores. Each consume is a single atomic
// UPDATE ... RETURNING (INSERT ... ON CONFLICT to seed the row on first use)
// so concurrent gateway instances stay linearizable per key.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an existing *sql.DB (already opened against Postgres by
// the caller, matching internal/admin's convention of accepting a driver-
// agnostic *sql.DB rather than owning the connection string).
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rate_limit_buckets (
			bucket_key TEXT NOT NULL,
			resource   TEXT NOT NULL,
			tokens     DOUBLE PRECISION NOT NULL,
			capacity   DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (bucket_key, resource)
		)`)
	return err
}

// ConsumeTickets implements TicketStore against Postgres.
func (s *SQLStore) ConsumeTickets(ctx context.Context, reqs []ConsumeRequest) ([]Receipt, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("ratelimit sql store init: %w", err)
	}
	receipts := make([]Receipt, len(reqs))
	for i, req := range reqs {
		bk := bucketKey(req.Key, req.Resource)
		refillPerSecond := 0.0
		if req.Interval.Duration() > 0 {
			refillPerSecond = req.RefillRate / req.Interval.Duration().Seconds()
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("ratelimit sql consume: %w", err)
		}
		var tokens float64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO rate_limit_buckets (bucket_key, resource, tokens, capacity, updated_at)
			VALUES ($1, $2, $3, $3, now())
			ON CONFLICT (bucket_key, resource) DO UPDATE SET
				tokens = LEAST($3, rate_limit_buckets.tokens + $4 * EXTRACT(EPOCH FROM (now() - rate_limit_buckets.updated_at))),
				updated_at = now()
			RETURNING tokens
		`, bk, string(req.Resource), req.Capacity, refillPerSecond).Scan(&tokens)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("ratelimit sql consume: %w", err)
		}

		if tokens < req.Requested {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("ratelimit sql commit consume: %w", err)
			}
			receipts[i] = Receipt{Key: req.Key, Resource: req.Resource, Success: false, Remaining: tokens}
			continue
		}
		remaining := tokens - req.Requested
		if _, err := tx.ExecContext(ctx,
			`UPDATE rate_limit_buckets SET tokens = $3 WHERE bucket_key = $1 AND resource = $2`,
			bk, string(req.Resource), remaining,
		); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("ratelimit sql commit consume: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("ratelimit sql commit consume: %w", err)
		}
		receipts[i] = Receipt{Key: req.Key, Resource: req.Resource, Success: true, Consumed: req.Requested, Remaining: remaining}
	}
	return receipts, nil
}

// ReturnTickets implements TicketStore against Postgres.
func (s *SQLStore) ReturnTickets(ctx context.Context, reqs []ReturnRequest) error {
	for _, req := range reqs {
		bk := bucketKey(req.Key, req.Resource)
		_, err := s.db.ExecContext(ctx, `
			UPDATE rate_limit_buckets
			SET tokens = LEAST(capacity, GREATEST(0, tokens + $3)), updated_at = now()
			WHERE bucket_key = $1 AND resource = $2
		`, bk, string(req.Resource), req.Amount)
		if err != nil {
			return fmt.Errorf("ratelimit sql return: %w", err)
		}
	}
	return nil
}
