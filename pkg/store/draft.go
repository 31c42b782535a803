package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// DraftStore persists draft orders with their lines, validation issues,
// and customer detection candidates. Draft and line updates use optimistic
// versioning.
type DraftStore struct {
	db *sql.DB
}

func NewDraftStore(db *sql.DB) (*DraftStore, error) {
	s := &DraftStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DraftStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS draft_orders (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source_document_id TEXT NOT NULL,
		customer_id TEXT,
		external_order_number TEXT,
		order_date TEXT,
		currency TEXT,
		requested_delivery TEXT,
		ship_to JSON,
		bill_to JSON,
		notes TEXT,
		status TEXT NOT NULL,
		extraction_confidence REAL,
		customer_confidence REAL,
		matching_confidence REAL,
		confidence_score REAL,
		ready_check JSON,
		top_candidates JSON,
		approved_by TEXT,
		approved_at DATETIME,
		erp_order_id TEXT,
		version INTEGER NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_status ON draft_orders (tenant_id, status);

	CREATE TABLE IF NOT EXISTS draft_order_lines (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		draft_order_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		customer_sku_raw TEXT,
		customer_sku_norm TEXT,
		description TEXT,
		qty REAL,
		uom TEXT,
		unit_price REAL,
		currency TEXT,
		requested_delivery TEXT,
		internal_sku TEXT,
		match_status TEXT NOT NULL,
		match_confidence REAL,
		match_method TEXT,
		match_debug JSON,
		version INTEGER NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (draft_order_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS validation_issues (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		draft_order_id TEXT NOT NULL,
		line_id TEXT,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		details JSON,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_issues_draft ON validation_issues (tenant_id, draft_order_id);

	CREATE TABLE IF NOT EXISTS detection_candidates (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		draft_order_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		score REAL NOT NULL,
		signals JSON,
		status TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (draft_order_id, customer_id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *DraftStore) Insert(ctx context.Context, d *model.DraftOrder) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	d.TenantID = tid
	if d.Version == 0 {
		d.Version = 1
	}
	query := `INSERT INTO draft_orders (
		id, tenant_id, source_document_id, customer_id, external_order_number,
		order_date, currency, requested_delivery, ship_to, bill_to, notes, status,
		extraction_confidence, customer_confidence, matching_confidence,
		confidence_score, ready_check, top_candidates, approved_by, approved_at,
		erp_order_id, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, tid, d.SourceDocumentID, d.CustomerID, d.ExternalOrderNumber,
		d.OrderDate, d.Currency, d.RequestedDelivery, asJSON(d.ShipTo), asJSON(d.BillTo),
		d.Notes, string(d.Status), d.ExtractionConfidence, d.CustomerConfidence,
		d.MatchingConfidence, d.ConfidenceScore, asJSON(d.Ready), asJSON(d.TopCandidates),
		d.ApprovedBy, tsPtr(d.ApprovedAt), d.ERPOrderID, d.Version,
		ts(d.CreatedAt), ts(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert draft: %w", err)
	}
	return nil
}

func (s *DraftStore) Get(ctx context.Context, id string) (*model.DraftOrder, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, draftSelect+` WHERE tenant_id = ? AND id = ?`, tid, id)
	return scanDraft(row)
}

// GetBySourceDocument returns the live draft extracted from the document.
// Rejected drafts do not count: rejecting is how an operator clears the way
// for a forced re-extraction.
func (s *DraftStore) GetBySourceDocument(ctx context.Context, documentID string) (*model.DraftOrder, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		draftSelect+` WHERE tenant_id = ? AND source_document_id = ? AND status != ?
		ORDER BY created_at DESC LIMIT 1`,
		tid, documentID, string(model.DraftRejected))
	return scanDraft(row)
}

// Update writes the draft if the stored version still matches, then bumps
// the version. A missed compare reports model.ErrOptimisticConflict.
func (s *DraftStore) Update(ctx context.Context, d *model.DraftOrder) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	query := `UPDATE draft_orders SET
		customer_id = ?, external_order_number = ?, order_date = ?, currency = ?,
		requested_delivery = ?, ship_to = ?, bill_to = ?, notes = ?, status = ?,
		extraction_confidence = ?, customer_confidence = ?, matching_confidence = ?,
		confidence_score = ?, ready_check = ?, top_candidates = ?, approved_by = ?,
		approved_at = ?, erp_order_id = ?, version = version + 1, updated_at = ?
	WHERE tenant_id = ? AND id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, query,
		d.CustomerID, d.ExternalOrderNumber, d.OrderDate, d.Currency,
		d.RequestedDelivery, asJSON(d.ShipTo), asJSON(d.BillTo), d.Notes,
		string(d.Status), d.ExtractionConfidence, d.CustomerConfidence,
		d.MatchingConfidence, d.ConfidenceScore, asJSON(d.Ready), asJSON(d.TopCandidates),
		d.ApprovedBy, tsPtr(d.ApprovedAt), d.ERPOrderID, ts(d.UpdatedAt),
		tid, d.ID, d.Version)
	if err != nil {
		return fmt.Errorf("store: update draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, d.ID); errors.Is(err, model.ErrNotFound) {
			return model.ErrNotFound
		}
		return model.ErrOptimisticConflict
	}
	d.Version++
	return nil
}

func (s *DraftStore) ListByStatus(ctx context.Context, status model.DraftStatus, limit int) ([]*model.DraftOrder, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		draftSelect+` WHERE tenant_id = ? AND status = ? ORDER BY created_at LIMIT ?`,
		tid, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var drafts []*model.DraftOrder
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (s *DraftStore) InsertLine(ctx context.Context, line *model.DraftOrderLine) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	line.TenantID = tid
	if line.Version == 0 {
		line.Version = 1
	}
	query := `INSERT INTO draft_order_lines (
		id, tenant_id, draft_order_id, line_no, customer_sku_raw, customer_sku_norm,
		description, qty, uom, unit_price, currency, requested_delivery, internal_sku,
		match_status, match_confidence, match_method, match_debug, version,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		line.ID, tid, line.DraftOrderID, line.LineNo, line.CustomerSKURaw,
		line.CustomerSKUNorm, line.Description, line.Qty, line.UOM, line.UnitPrice,
		line.Currency, line.RequestedDelivery, line.InternalSKU, string(line.MatchStatus),
		line.MatchConfidence, line.MatchMethod, asJSON(line.Debug), line.Version,
		ts(line.CreatedAt), ts(line.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert line: %w", err)
	}
	return nil
}

func (s *DraftStore) UpdateLine(ctx context.Context, line *model.DraftOrderLine) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	line.UpdatedAt = time.Now().UTC()
	query := `UPDATE draft_order_lines SET
		customer_sku_raw = ?, customer_sku_norm = ?, description = ?, qty = ?,
		uom = ?, unit_price = ?, currency = ?, requested_delivery = ?,
		internal_sku = ?, match_status = ?, match_confidence = ?, match_method = ?,
		match_debug = ?, version = version + 1, updated_at = ?
	WHERE tenant_id = ? AND id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, query,
		line.CustomerSKURaw, line.CustomerSKUNorm, line.Description, line.Qty,
		line.UOM, line.UnitPrice, line.Currency, line.RequestedDelivery,
		line.InternalSKU, string(line.MatchStatus), line.MatchConfidence,
		line.MatchMethod, asJSON(line.Debug), ts(line.UpdatedAt),
		tid, line.ID, line.Version)
	if err != nil {
		return fmt.Errorf("store: update line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrOptimisticConflict
	}
	line.Version++
	return nil
}

func (s *DraftStore) ListLines(ctx context.Context, draftID string) ([]*model.DraftOrderLine, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, draft_order_id, line_no, customer_sku_raw,
		customer_sku_norm, description, qty, uom, unit_price, currency,
		requested_delivery, internal_sku, match_status, match_confidence,
		match_method, match_debug, version, created_at, updated_at
	FROM draft_order_lines WHERE tenant_id = ? AND draft_order_id = ? ORDER BY line_no`
	rows, err := s.db.QueryContext(ctx, query, tid, draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []*model.DraftOrderLine
	for rows.Next() {
		line := &model.DraftOrderLine{}
		var matchStatus string
		var debug sql.NullString
		var created, updated string
		if err := rows.Scan(&line.ID, &line.TenantID, &line.DraftOrderID, &line.LineNo,
			&line.CustomerSKURaw, &line.CustomerSKUNorm, &line.Description, &line.Qty,
			&line.UOM, &line.UnitPrice, &line.Currency, &line.RequestedDelivery,
			&line.InternalSKU, &matchStatus, &line.MatchConfidence, &line.MatchMethod,
			&debug, &line.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan line: %w", err)
		}
		line.MatchStatus = model.MatchStatus(matchStatus)
		fromJSON(debug, &line.Debug)
		line.CreatedAt = parseTS(created)
		line.UpdatedAt = parseTS(updated)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// SaveIssue upserts a validation issue by id.
func (s *DraftStore) SaveIssue(ctx context.Context, issue *model.ValidationIssue) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	issue.TenantID = tid
	query := `INSERT INTO validation_issues (
		id, tenant_id, draft_order_id, line_id, type, severity, status, message,
		details, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		severity = excluded.severity, status = excluded.status,
		message = excluded.message, details = excluded.details,
		updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		issue.ID, tid, issue.DraftOrderID, issue.LineID, string(issue.Type),
		string(issue.Severity), string(issue.Status), issue.Message,
		asJSON(issue.Details), ts(issue.CreatedAt), ts(issue.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: save issue: %w", err)
	}
	return nil
}

func (s *DraftStore) ListIssues(ctx context.Context, draftID string) ([]*model.ValidationIssue, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, draft_order_id, line_id, type, severity, status,
		message, details, created_at, updated_at
	FROM validation_issues WHERE tenant_id = ? AND draft_order_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, tid, draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*model.ValidationIssue
	for rows.Next() {
		issue := &model.ValidationIssue{}
		var typ, severity, status string
		var details sql.NullString
		var created, updated string
		if err := rows.Scan(&issue.ID, &issue.TenantID, &issue.DraftOrderID,
			&issue.LineID, &typ, &severity, &status, &issue.Message, &details,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan issue: %w", err)
		}
		issue.Type = model.IssueType(typ)
		issue.Severity = model.IssueSeverity(severity)
		issue.Status = model.IssueStatus(status)
		fromJSON(details, &issue.Details)
		issue.CreatedAt = parseTS(created)
		issue.UpdatedAt = parseTS(updated)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// SaveCandidates replaces the detection candidates of a draft.
func (s *DraftStore) SaveCandidates(ctx context.Context, draftID string, candidates []*model.CustomerDetectionCandidate) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM detection_candidates WHERE tenant_id = ? AND draft_order_id = ?`,
		tid, draftID); err != nil {
		return fmt.Errorf("store: clear candidates: %w", err)
	}
	for _, c := range candidates {
		c.TenantID = tid
		c.DraftOrderID = draftID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO detection_candidates (id, tenant_id, draft_order_id, customer_id,
				score, signals, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, tid, draftID, c.CustomerID, c.Score, asJSON(c.Signals),
			string(c.Status), ts(c.CreatedAt), ts(c.UpdatedAt)); err != nil {
			return fmt.Errorf("store: insert candidate: %w", err)
		}
	}
	return tx.Commit()
}

func (s *DraftStore) ListCandidates(ctx context.Context, draftID string) ([]*model.CustomerDetectionCandidate, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, draft_order_id, customer_id, score, signals, status,
			created_at, updated_at
		FROM detection_candidates WHERE tenant_id = ? AND draft_order_id = ?
		ORDER BY score DESC, customer_id`,
		tid, draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.CustomerDetectionCandidate
	for rows.Next() {
		c := &model.CustomerDetectionCandidate{}
		var signals sql.NullString
		var status, created, updated string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DraftOrderID, &c.CustomerID,
			&c.Score, &signals, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan candidate: %w", err)
		}
		fromJSON(signals, &c.Signals)
		c.Status = model.CandidateStatus(status)
		c.CreatedAt = parseTS(created)
		c.UpdatedAt = parseTS(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

const draftSelect = `SELECT id, tenant_id, source_document_id, customer_id,
	external_order_number, order_date, currency, requested_delivery, ship_to,
	bill_to, notes, status, extraction_confidence, customer_confidence,
	matching_confidence, confidence_score, ready_check, top_candidates,
	approved_by, approved_at, erp_order_id, version, created_at, updated_at
	FROM draft_orders`

func scanDraft(row rowScanner) (*model.DraftOrder, error) {
	d := &model.DraftOrder{}
	var status string
	var shipTo, billTo, ready, candidates sql.NullString
	var approvedAt sql.NullString
	var created, updated string
	err := row.Scan(&d.ID, &d.TenantID, &d.SourceDocumentID, &d.CustomerID,
		&d.ExternalOrderNumber, &d.OrderDate, &d.Currency, &d.RequestedDelivery,
		&shipTo, &billTo, &d.Notes, &status, &d.ExtractionConfidence,
		&d.CustomerConfidence, &d.MatchingConfidence, &d.ConfidenceScore,
		&ready, &candidates, &d.ApprovedBy, &approvedAt, &d.ERPOrderID,
		&d.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan draft: %w", err)
	}
	d.Status = model.DraftStatus(status)
	fromJSON(shipTo, &d.ShipTo)
	fromJSON(billTo, &d.BillTo)
	fromJSON(ready, &d.Ready)
	fromJSON(candidates, &d.TopCandidates)
	d.ApprovedAt = parseTSPtr(approvedAt)
	d.CreatedAt = parseTS(created)
	d.UpdatedAt = parseTS(updated)
	return d, nil
}

// asJSON serializes nullable JSON columns; nil stays NULL.
func asJSON(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return string(data)
}

func fromJSON(col sql.NullString, dest any) {
	if !col.Valid || col.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(col.String), dest)
}
