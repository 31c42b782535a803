package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// FeedbackStore is the append-only operator correction log.
type FeedbackStore struct {
	db *sql.DB
}

func NewFeedbackStore(db *sql.DB) (*FeedbackStore, error) {
	s := &FeedbackStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FeedbackStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS feedback_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		actor_id TEXT,
		kind TEXT NOT NULL,
		draft_order_id TEXT,
		line_id TEXT,
		layout_fingerprint TEXT,
		before JSON,
		after JSON,
		created_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_layout
		ON feedback_events (tenant_id, layout_fingerprint, kind, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *FeedbackStore) Insert(ctx context.Context, e *model.FeedbackEvent) error {
	query := `INSERT INTO feedback_events (id, tenant_id, actor_id, kind,
		draft_order_id, line_id, layout_fingerprint, before, after, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.ActorID, e.Kind, e.DraftOrderID, e.LineID,
		e.LayoutFingerprint, asJSON(e.Before), asJSON(e.After), ts(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert feedback event: %w", err)
	}
	return nil
}

func (s *FeedbackStore) ListByLayout(ctx context.Context, layoutFingerprint, kind string, limit int) ([]*model.FeedbackEvent, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, actor_id, kind, draft_order_id, line_id,
		layout_fingerprint, before, after, created_at
	FROM feedback_events
	WHERE tenant_id = ? AND layout_fingerprint = ? AND kind = ?
	ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, tid, layoutFingerprint, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list feedback events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.FeedbackEvent
	for rows.Next() {
		e := &model.FeedbackEvent{}
		var before, after sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.Kind, &e.DraftOrderID,
			&e.LineID, &e.LayoutFingerprint, &before, &after, &created); err != nil {
			return nil, fmt.Errorf("store: scan feedback event: %w", err)
		}
		fromJSON(before, &e.Before)
		fromJSON(after, &e.After)
		e.CreatedAt = parseTS(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
