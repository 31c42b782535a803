package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/push"
)

// ExportStore persists push artifacts. It serves both the push service's
// idempotency lookups and the ack poller's filename resolution.
type ExportStore struct {
	db *sql.DB
}

func NewExportStore(db *sql.DB) (*ExportStore, error) {
	s := &ExportStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ExportStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		draft_order_id TEXT NOT NULL,
		idempotency_key TEXT,
		filename TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_exports_draft
		ON exports (tenant_id, draft_order_id, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_exports_key
		ON exports (tenant_id, draft_order_id, idempotency_key)
		WHERE idempotency_key != '';`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *ExportStore) Insert(ctx context.Context, e *push.Export) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	e.TenantID = tid
	query := `INSERT INTO exports (id, tenant_id, draft_order_id, idempotency_key,
		filename, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, tid, e.DraftOrderID, e.IdempotencyKey, e.Filename, e.Payload,
		ts(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert export: %w", err)
	}
	return nil
}

func (s *ExportStore) FindByKey(ctx context.Context, draftID, key string) (*push.Export, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		exportSelect+` WHERE tenant_id = ? AND draft_order_id = ? AND idempotency_key = ?`,
		tid, draftID, key)
	return scanExport(row)
}

func (s *ExportStore) FindLatest(ctx context.Context, draftID string) (*push.Export, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		exportSelect+` WHERE tenant_id = ? AND draft_order_id = ? ORDER BY created_at DESC LIMIT 1`,
		tid, draftID)
	return scanExport(row)
}

func (s *ExportStore) FindByFilename(ctx context.Context, filename string) (*push.Export, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		exportSelect+` WHERE tenant_id = ? AND filename = ? ORDER BY created_at DESC LIMIT 1`,
		tid, filename)
	return scanExport(row)
}

const exportSelect = `SELECT id, tenant_id, draft_order_id, idempotency_key,
	filename, payload, created_at FROM exports`

func scanExport(row rowScanner) (*push.Export, error) {
	e := &push.Export{}
	var created string
	err := row.Scan(&e.ID, &e.TenantID, &e.DraftOrderID, &e.IdempotencyKey,
		&e.Filename, &e.Payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan export: %w", err)
	}
	e.CreatedAt = parseTS(created)
	return e, nil
}
