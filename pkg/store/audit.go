package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// AuditStore is the append-only action log. Rows are never updated.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) (*AuditStore, error) {
	s := &AuditStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		before JSON,
		after JSON,
		ip TEXT,
		user_agent TEXT,
		created_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_audit_resource
		ON audit_entries (tenant_id, resource, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *AuditStore) Insert(ctx context.Context, e *model.AuditEntry) error {
	query := `INSERT INTO audit_entries (id, tenant_id, actor_id, action, resource,
		before, after, ip, user_agent, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.ActorID, e.Action, e.Resource, asJSON(e.Before),
		asJSON(e.After), e.IP, e.UserAgent, ts(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert audit entry: %w", err)
	}
	return nil
}

// ListByResource returns the audit trail of one resource, oldest first.
func (s *AuditStore) ListByResource(ctx context.Context, resource string, limit int) ([]*model.AuditEntry, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, actor_id, action, resource, before, after, ip,
		user_agent, created_at
	FROM audit_entries WHERE tenant_id = ? AND resource = ?
	ORDER BY created_at LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, tid, resource, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		var before, after sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.Action, &e.Resource,
			&before, &after, &e.IP, &e.UserAgent, &created); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		fromJSON(before, &e.Before)
		fromJSON(after, &e.After)
		e.CreatedAt = parseTS(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
