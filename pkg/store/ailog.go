package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// AICallStore is the append-only provider call ledger. Successful calls
// are unique per (tenant, call type, input hash) and serve as the
// idempotence cache.
type AICallStore struct {
	db *sql.DB
}

func NewAICallStore(db *sql.DB) (*AICallStore, error) {
	s := &AICallStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AICallStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ai_call_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		call_type TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		provider TEXT,
		model TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		latency_ms INTEGER,
		cost_micros INTEGER,
		succeeded INTEGER NOT NULL,
		output TEXT,
		prompt TEXT,
		error TEXT,
		created_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ai_calls_success
		ON ai_call_log (tenant_id, call_type, input_hash) WHERE succeeded = 1;`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *AICallStore) Insert(ctx context.Context, call *model.AICallLog) error {
	query := `INSERT INTO ai_call_log (id, tenant_id, call_type, input_hash, provider,
		model, input_tokens, output_tokens, latency_ms, cost_micros, succeeded,
		output, prompt, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		call.ID, call.TenantID, call.CallType, call.InputHash, call.Provider,
		call.Model, call.InputTokens, call.OutputTokens, call.LatencyMS,
		call.CostMicros, boolInt(call.Succeeded), call.Output, call.Prompt,
		call.Error, ts(call.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert ai call: %w", err)
	}
	return nil
}

func (s *AICallStore) FindSuccess(ctx context.Context, tenantID, callType, inputHash string) (*model.AICallLog, error) {
	query := `SELECT id, tenant_id, call_type, input_hash, provider, model,
		input_tokens, output_tokens, latency_ms, cost_micros, succeeded, output,
		prompt, error, created_at
	FROM ai_call_log
	WHERE tenant_id = ? AND call_type = ? AND input_hash = ? AND succeeded = 1
	LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, tenantID, callType, inputHash)

	call := &model.AICallLog{}
	var succeeded int
	var created string
	err := row.Scan(&call.ID, &call.TenantID, &call.CallType, &call.InputHash,
		&call.Provider, &call.Model, &call.InputTokens, &call.OutputTokens,
		&call.LatencyMS, &call.CostMicros, &succeeded, &call.Output, &call.Prompt,
		&call.Error, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan ai call: %w", err)
	}
	call.Succeeded = succeeded != 0
	call.CreatedAt = parseTS(created)
	return call, nil
}
