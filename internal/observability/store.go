package observability

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

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

// Store is the analytics write/read boundary: row insertion (never
// blocking the client response path) plus the dedup-sensitive Datapoint
// lifecycle queries.
type Store interface {
	WriteInference(ctx context.Context, row Inference) error
	WriteModelInference(ctx context.Context, row ModelInference) error

	InsertDatapoint(ctx context.Context, dp Datapoint) (Datapoint, error)
	// Update applies patch to the live datapoint for
	// (dataset, function, sourceInferenceID), producing a new row with a
	// fresh id and marking the previous row's staled_at, per the
	// never-mutate-in-place invariant.
	Update(ctx context.Context, dataset, function, sourceInferenceID string, patch DatapointPatch) (Datapoint, error)
	LiveDatapoint(ctx context.Context, dataset, function, sourceInferenceID string) (Datapoint, error)
}

// SQLStore is a dual-dialect (SQLite/Postgres) Store, following the same
// bind()-rewrite pattern as the gateway's other SQL boundaries.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore opens a SQLite-backed analytics store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "relaygw-analytics.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite analytics store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed analytics store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres analytics store: %w", err)
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
		return fmt.Errorf("ping %s analytics store: %w", s.dialect, err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS inferences (
			inference_id TEXT PRIMARY KEY,
			episode_id TEXT NOT NULL,
			function TEXT NOT NULL,
			variant_name TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			model_inference_ids TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_inferences (
			id TEXT PRIMARY KEY,
			inference_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			model_provider_name TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			raw_request TEXT NOT NULL,
			raw_response TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			response_time_ms INTEGER NOT NULL,
			ttft_ms INTEGER,
			cached BOOLEAN NOT NULL,
			finish_reason TEXT NOT NULL,
			snapshot_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS datapoints (
			id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			function TEXT NOT NULL,
			episode_id TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			tool_params TEXT,
			tags TEXT NOT NULL,
			source_inference_id TEXT NOT NULL,
			staled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize %s analytics store schema: %w", s.dialect, err)
		}
	}
	return nil
}

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

// WriteInference implements Store.
func (s *SQLStore) WriteInference(ctx context.Context, row Inference) error {
	inputJSON, err := json.Marshal(row.Input)
	if err != nil {
		return fmt.Errorf("marshal inference input: %w", err)
	}
	outputJSON, err := json.Marshal(row.Output)
	if err != nil {
		return fmt.Errorf("marshal inference output: %w", err)
	}
	idsJSON, err := json.Marshal(row.ModelInferenceIDs)
	if err != nil {
		return fmt.Errorf("marshal model_inference_ids: %w", err)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	q := s.bind(`INSERT INTO inferences
		(inference_id, episode_id, function, variant_name, input, output, prompt_tokens, completion_tokens, model_inference_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, row.InferenceID, row.EpisodeID, row.Function, row.VariantName,
		string(inputJSON), string(outputJSON), row.Usage.Prompt, row.Usage.Completion, string(idsJSON), row.CreatedAt)
	if err != nil {
		return fmt.Errorf("write inference row: %w", err)
	}
	return nil
}

// WriteModelInference implements Store.
func (s *SQLStore) WriteModelInference(ctx context.Context, row ModelInference) error {
	inputJSON, err := json.Marshal(row.Input)
	if err != nil {
		return fmt.Errorf("marshal model_inference input: %w", err)
	}
	outputJSON, err := json.Marshal(row.Output)
	if err != nil {
		return fmt.Errorf("marshal model_inference output: %w", err)
	}
	if row.ID == "" {
		id, err := randomID()
		if err != nil {
			return err
		}
		row.ID = id
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	q := s.bind(`INSERT INTO model_inferences
		(id, inference_id, model_name, model_provider_name, input, output, raw_request, raw_response,
		 input_tokens, output_tokens, response_time_ms, ttft_ms, cached, finish_reason, snapshot_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, row.ID, row.InferenceID, row.ModelName, row.ModelProviderName,
		string(inputJSON), string(outputJSON), row.RawRequest, row.RawResponse,
		row.InputTokens, row.OutputTokens, row.ResponseTimeMS, row.TTFTMS, row.Cached, row.FinishReason, row.SnapshotHash, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("write model_inference row: %w", err)
	}
	return nil
}

// InsertDatapoint implements Store, writing a fresh live row.
func (s *SQLStore) InsertDatapoint(ctx context.Context, dp Datapoint) (Datapoint, error) {
	if dp.ID == "" {
		id, err := randomID()
		if err != nil {
			return Datapoint{}, err
		}
		dp.ID = id
	}
	if dp.CreatedAt.IsZero() {
		dp.CreatedAt = time.Now().UTC()
	}
	if err := s.insertDatapointRow(ctx, dp); err != nil {
		return Datapoint{}, err
	}
	return dp, nil
}

func (s *SQLStore) insertDatapointRow(ctx context.Context, dp Datapoint) error {
	inputJSON, err := json.Marshal(dp.Input)
	if err != nil {
		return fmt.Errorf("marshal datapoint input: %w", err)
	}
	outputJSON, err := json.Marshal(dp.Output)
	if err != nil {
		return fmt.Errorf("marshal datapoint output: %w", err)
	}
	var toolParamsJSON *string
	if !dp.ToolParams.IsEmpty() {
		b, err := json.Marshal(dp.ToolParams)
		if err != nil {
			return fmt.Errorf("marshal datapoint tool_params: %w", err)
		}
		v := string(b)
		toolParamsJSON = &v
	}
	tagsJSON, err := json.Marshal(dp.Tags)
	if err != nil {
		return fmt.Errorf("marshal datapoint tags: %w", err)
	}
	q := s.bind(`INSERT INTO datapoints
		(id, dataset, function, episode_id, input, output, tool_params, tags, source_inference_id, staled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, dp.ID, dp.Dataset, dp.Function, dp.EpisodeID,
		string(inputJSON), string(outputJSON), toolParamsJSON, string(tagsJSON), dp.SourceInferenceID, dp.StaledAt, dp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert datapoint row: %w", err)
	}
	return nil
}

// LiveDatapoint implements Store: the single row (if any) for the triple
// with staled_at still null.
func (s *SQLStore) LiveDatapoint(ctx context.Context, dataset, function, sourceInferenceID string) (Datapoint, error) {
	q := s.bind(`SELECT id, dataset, function, episode_id, input, output, tool_params, tags, source_inference_id, staled_at, created_at
		FROM datapoints WHERE dataset = ? AND function = ? AND source_inference_id = ? AND staled_at IS NULL`)
	return s.scanDatapoint(s.db.QueryRowContext(ctx, q, dataset, function, sourceInferenceID))
}

// scanDatapointByID fetches a single datapoint row by id regardless of
// staled_at, used to confirm the previous row's staleness after an update.
func (s *SQLStore) scanDatapointByID(ctx context.Context, id string) (Datapoint, error) {
	q := s.bind(`SELECT id, dataset, function, episode_id, input, output, tool_params, tags, source_inference_id, staled_at, created_at
		FROM datapoints WHERE id = ?`)
	return s.scanDatapoint(s.db.QueryRowContext(ctx, q, id))
}

func (s *SQLStore) scanDatapoint(row *sql.Row) (Datapoint, error) {
	var dp Datapoint
	var inputJSON, outputJSON, tagsJSON string
	var toolParamsJSON *string
	if err := row.Scan(&dp.ID, &dp.Dataset, &dp.Function, &dp.EpisodeID, &inputJSON, &outputJSON,
		&toolParamsJSON, &tagsJSON, &dp.SourceInferenceID, &dp.StaledAt, &dp.CreatedAt); err != nil {
		return Datapoint{}, fmt.Errorf("scan datapoint: %w", err)
	}
	if err := json.Unmarshal([]byte(inputJSON), &dp.Input); err != nil {
		return Datapoint{}, fmt.Errorf("unmarshal datapoint input: %w", err)
	}
	if err := json.Unmarshal([]byte(outputJSON), &dp.Output); err != nil {
		return Datapoint{}, fmt.Errorf("unmarshal datapoint output: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &dp.Tags); err != nil {
		return Datapoint{}, fmt.Errorf("unmarshal datapoint tags: %w", err)
	}
	if toolParamsJSON != nil {
		var tp ToolParams
		if err := json.Unmarshal([]byte(*toolParamsJSON), &tp); err != nil {
			return Datapoint{}, fmt.Errorf("unmarshal datapoint tool_params: %w", err)
		}
		dp.ToolParams = &tp
	}
	return dp, nil
}

// Update implements Store's never-mutate-in-place Datapoint versioning:
// load the live row, apply patch fields that were present (nil means
// "unchanged"), mark the old row staled, insert a new row with a fresh id.
// patch.ToolParams is itself a double pointer: a nil outer pointer means the
// field was omitted from the PATCH; a non-nil outer pointer to a nil inner
// pointer (or to a ToolParams whose sub-fields are all cleared) collapses
// the new row's tool_params to None, per the documented PATCH surprise.
func (s *SQLStore) Update(ctx context.Context, dataset, function, sourceInferenceID string, patch DatapointPatch) (Datapoint, error) {
	live, err := s.LiveDatapoint(ctx, dataset, function, sourceInferenceID)
	if err != nil {
		return Datapoint{}, fmt.Errorf("update datapoint: load live row: %w", err)
	}

	next := live
	if patch.Output != nil {
		next.Output = *patch.Output
	}
	if patch.ToolParams != nil {
		next.ToolParams = *patch.ToolParams
	}
	if patch.Tags != nil {
		next.Tags = *patch.Tags
	}
	if next.ToolParams.IsEmpty() {
		next.ToolParams = nil
	}

	newID, err := randomID()
	if err != nil {
		return Datapoint{}, err
	}
	next.ID = newID
	next.StaledAt = nil
	next.CreatedAt = time.Now().UTC()

	now := time.Now().UTC()
	staleQ := s.bind(`UPDATE datapoints SET staled_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, staleQ, now, live.ID); err != nil {
		return Datapoint{}, fmt.Errorf("update datapoint: stale old row: %w", err)
	}

	if err := s.insertDatapointRow(ctx, next); err != nil {
		return Datapoint{}, fmt.Errorf("update datapoint: insert new row: %w", err)
	}
	return next, nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
