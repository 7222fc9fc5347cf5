package batch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// Store persists BatchRequest snapshots and completion rows. Submit/poll
// append-only writes and dedup-on-insert are both store responsibilities;
// Manager never reaches for raw SQL.
type Store interface {
	InsertBatchRequest(ctx context.Context, row BatchRequest) error
	LatestBatchRequest(ctx context.Context, batchID string) (BatchRequest, error)
	InsertSubRequests(ctx context.Context, rows []BatchModelInference) error
	SubRequests(ctx context.Context, batchID string) ([]BatchModelInference, error)
	// InsertCompletions writes one completion row per output (content, raw
	// response, usage, finish reason), deduped on (batch_id, inference_id): a
	// second write for the same pair is a no-op. It writes no Inference or
	// ModelInference rows.
	InsertCompletions(ctx context.Context, batchID string, outputs []CompletedOutput) error
	Completions(ctx context.Context, batchID string) ([]CompletedOutput, error)
}

// SQLStore is a dual-dialect (SQLite/Postgres) Store implementation,
// following the gateway's other SQL boundaries: a driver-agnostic *sql.DB
// plus a bind() helper that rewrites `?` placeholders to `$N` only when
// talking to Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore opens a SQLite-backed batch store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "relaygw-batch.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite batch store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed batch store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres batch store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s batch store: %w", s.dialect, err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_requests (
			batch_id TEXT NOT NULL,
			function TEXT NOT NULL,
			variant TEXT NOT NULL,
			model TEXT NOT NULL,
			model_provider TEXT NOT NULL,
			status TEXT NOT NULL,
			raw_request TEXT NOT NULL,
			raw_response TEXT NOT NULL,
			params TEXT NOT NULL,
			snapshot_hash TEXT NOT NULL,
			errors TEXT NOT NULL,
			inserted_seq INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS batch_model_inferences (
			batch_id TEXT NOT NULL,
			inference_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			model_provider TEXT NOT NULL,
			raw_request TEXT NOT NULL,
			PRIMARY KEY (batch_id, inference_id)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_completions (
			batch_id TEXT NOT NULL,
			inference_id TEXT NOT NULL,
			content TEXT NOT NULL,
			raw_response TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			finish_reason TEXT NOT NULL,
			PRIMARY KEY (batch_id, inference_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize %s batch store schema: %w", s.dialect, err)
		}
	}
	return nil
}

// bind rewrites `?` placeholders into Postgres `$N` form; SQLite accepts `?`
// directly so it is the identity transform there.
func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	argNum := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", argNum)
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InsertBatchRequest implements Store. Submitting is append-only: each row
// gets inserted_seq = 1 + the highest inserted_seq already stored for its
// batch_id (in both dialects), which is what LatestBatchRequest orders by, mirroring
// ClickHouse ReplacingMergeTree "latest row wins" semantics without actually
// requiring ClickHouse.
func (s *SQLStore) InsertBatchRequest(ctx context.Context, row BatchRequest) error {
	q := s.bind(`INSERT INTO batch_requests
		(batch_id, function, variant, model, model_provider, status, raw_request, raw_response, params, snapshot_hash, errors, inserted_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(inserted_seq), 0) + 1 FROM batch_requests WHERE batch_id = ?))`)
	_, err := s.db.ExecContext(ctx, q,
		row.BatchID, row.Function, row.Variant, row.Model, row.ModelProvider,
		string(row.Status), row.RawRequest, row.RawResponse, row.Params, row.SnapshotHash, row.Errors, row.BatchID)
	if err != nil {
		return fmt.Errorf("insert batch request: %w", err)
	}
	return nil
}

// LatestBatchRequest implements Store: the row with the highest inserted_seq
// for batch_id is current, per the append-only-row/latest-wins model.
func (s *SQLStore) LatestBatchRequest(ctx context.Context, batchID string) (BatchRequest, error) {
	q := s.bind(`SELECT batch_id, function, variant, model, model_provider, status, raw_request, raw_response, params, snapshot_hash, errors
		FROM batch_requests WHERE batch_id = ? ORDER BY inserted_seq DESC LIMIT 1`)
	var row BatchRequest
	var status string
	err := s.db.QueryRowContext(ctx, q, batchID).Scan(
		&row.BatchID, &row.Function, &row.Variant, &row.Model, &row.ModelProvider,
		&status, &row.RawRequest, &row.RawResponse, &row.Params, &row.SnapshotHash, &row.Errors)
	if err != nil {
		return BatchRequest{}, fmt.Errorf("latest batch request %s: %w", batchID, err)
	}
	row.Status = Status(status)
	return row, nil
}

// InsertSubRequests implements Store, deduping on (batch_id, inference_id):
// a retried submit for a sub-request already recorded is a no-op.
func (s *SQLStore) InsertSubRequests(ctx context.Context, rows []BatchModelInference) error {
	for _, r := range rows {
		q := s.bind(insertOrIgnore(s.dialect, `batch_model_inferences (batch_id, inference_id, model_name, model_provider, raw_request)`,
			`(?, ?, ?, ?, ?)`, `batch_id, inference_id`))
		if _, err := s.db.ExecContext(ctx, q, r.BatchID, r.InferenceID, r.ModelName, r.ModelProvider, r.RawRequest); err != nil {
			return fmt.Errorf("insert batch sub-request: %w", err)
		}
	}
	return nil
}

// SubRequests implements Store.
func (s *SQLStore) SubRequests(ctx context.Context, batchID string) ([]BatchModelInference, error) {
	q := s.bind(`SELECT batch_id, inference_id, model_name, model_provider, raw_request
		FROM batch_model_inferences WHERE batch_id = ? ORDER BY inference_id`)
	rows, err := s.db.QueryContext(ctx, q, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch sub-requests: %w", err)
	}
	defer rows.Close()
	var out []BatchModelInference
	for rows.Next() {
		var r BatchModelInference
		if err := rows.Scan(&r.BatchID, &r.InferenceID, &r.ModelName, &r.ModelProvider, &r.RawRequest); err != nil {
			return nil, fmt.Errorf("scan batch sub-request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertCompletions implements Store's dedup-by-(batch_id, inference_id)
// completion write rule.
func (s *SQLStore) InsertCompletions(ctx context.Context, batchID string, outputs []CompletedOutput) error {
	for _, o := range outputs {
		contentJSON, err := marshalContent(o.Content)
		if err != nil {
			return fmt.Errorf("marshal completion content: %w", err)
		}
		q := s.bind(insertOrIgnore(s.dialect,
			`batch_completions (batch_id, inference_id, content, raw_response, prompt_tokens, completion_tokens, finish_reason)`,
			`(?, ?, ?, ?, ?, ?, ?)`, `batch_id, inference_id`))
		if _, err := s.db.ExecContext(ctx, q, batchID, o.InferenceID, contentJSON, o.RawResponse, o.Usage.Prompt, o.Usage.Completion, o.FinishReason); err != nil {
			return fmt.Errorf("insert batch completion: %w", err)
		}
	}
	return nil
}

// Completions implements Store, returning rows sorted by inference id.
func (s *SQLStore) Completions(ctx context.Context, batchID string) ([]CompletedOutput, error) {
	q := s.bind(`SELECT inference_id, content, raw_response, prompt_tokens, completion_tokens, finish_reason
		FROM batch_completions WHERE batch_id = ? ORDER BY inference_id`)
	rows, err := s.db.QueryContext(ctx, q, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch completions: %w", err)
	}
	defer rows.Close()
	var out []CompletedOutput
	for rows.Next() {
		var o CompletedOutput
		var contentJSON string
		if err := rows.Scan(&o.InferenceID, &contentJSON, &o.RawResponse, &o.Usage.Prompt, &o.Usage.Completion, &o.FinishReason); err != nil {
			return nil, fmt.Errorf("scan batch completion: %w", err)
		}
		o.Content, err = unmarshalContent(contentJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal completion content: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// insertOrIgnore builds the dialect-appropriate dedup-on-insert statement:
// Postgres uses ON CONFLICT DO NOTHING, SQLite uses INSERT OR IGNORE.
func insertOrIgnore(dialect sqlDialect, target, values, conflictCols string) string {
	if dialect == dialectPostgres {
		return fmt.Sprintf("INSERT INTO %s VALUES %s ON CONFLICT (%s) DO NOTHING", target, values, conflictCols)
	}
	return fmt.Sprintf("INSERT OR IGNORE INTO %s VALUES %s", target, values)
}
