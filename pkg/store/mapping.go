package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// MappingStore persists learned customer-SKU associations. At most one
// CONFIRMED or SUGGESTED row per (tenant, customer, normalized SKU) is
// active; superseded rows stay as DEPRECATED history.
type MappingStore struct {
	db *sql.DB
}

func NewMappingStore(db *sql.DB) (*MappingStore, error) {
	s := &MappingStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MappingStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sku_mappings (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		customer_sku_norm TEXT NOT NULL,
		internal_sku TEXT NOT NULL,
		customer_uom TEXT,
		internal_uom TEXT,
		pack_factor REAL,
		status TEXT NOT NULL,
		confidence REAL,
		support_count INTEGER NOT NULL DEFAULT 0,
		reject_count INTEGER NOT NULL DEFAULT 0,
		last_used_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_mappings_lookup
		ON sku_mappings (tenant_id, customer_id, customer_sku_norm, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_one_confirmed
		ON sku_mappings (tenant_id, customer_id, customer_sku_norm)
		WHERE status = 'CONFIRMED';`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// FindActive returns the CONFIRMED or SUGGESTED mapping for the key,
// CONFIRMED preferred.
func (s *MappingStore) FindActive(ctx context.Context, customerID, skuNorm string) (*model.SkuMapping, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := mappingSelect + `
	WHERE tenant_id = ? AND customer_id = ? AND customer_sku_norm = ?
		AND status IN ('CONFIRMED', 'SUGGESTED')
	ORDER BY CASE status WHEN 'CONFIRMED' THEN 0 ELSE 1 END, updated_at DESC
	LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, tid, customerID, skuNorm)
	return scanMapping(row)
}

func (s *MappingStore) Save(ctx context.Context, m *model.SkuMapping) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	m.TenantID = tid
	query := `INSERT INTO sku_mappings (id, tenant_id, customer_id, customer_sku_norm,
		internal_sku, customer_uom, internal_uom, pack_factor, status, confidence,
		support_count, reject_count, last_used_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		internal_sku = excluded.internal_sku, customer_uom = excluded.customer_uom,
		internal_uom = excluded.internal_uom, pack_factor = excluded.pack_factor,
		status = excluded.status, confidence = excluded.confidence,
		support_count = excluded.support_count, reject_count = excluded.reject_count,
		last_used_at = excluded.last_used_at, updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		m.ID, tid, m.CustomerID, m.CustomerSKUNorm, m.InternalSKU, m.CustomerUOM,
		m.InternalUOM, m.PackFactor, string(m.Status), m.Confidence, m.SupportCount,
		m.RejectCount, tsPtr(m.LastUsedAt), ts(m.CreatedAt), ts(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: save mapping: %w", err)
	}
	return nil
}

func (s *MappingStore) ListByCustomer(ctx context.Context, customerID string) ([]*model.SkuMapping, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		mappingSelect+` WHERE tenant_id = ? AND customer_id = ? ORDER BY customer_sku_norm`,
		tid, customerID)
	if err != nil {
		return nil, fmt.Errorf("store: list mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.SkuMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const mappingSelect = `SELECT id, tenant_id, customer_id, customer_sku_norm,
	internal_sku, customer_uom, internal_uom, pack_factor, status, confidence,
	support_count, reject_count, last_used_at, created_at, updated_at
	FROM sku_mappings`

func scanMapping(row rowScanner) (*model.SkuMapping, error) {
	m := &model.SkuMapping{}
	var status string
	var lastUsed sql.NullString
	var created, updated string
	err := row.Scan(&m.ID, &m.TenantID, &m.CustomerID, &m.CustomerSKUNorm,
		&m.InternalSKU, &m.CustomerUOM, &m.InternalUOM, &m.PackFactor, &status,
		&m.Confidence, &m.SupportCount, &m.RejectCount, &lastUsed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan mapping: %w", err)
	}
	m.Status = model.MappingStatus(status)
	m.LastUsedAt = parseTSPtr(lastUsed)
	m.CreatedAt = parseTS(created)
	m.UpdatedAt = parseTS(updated)
	return m, nil
}
