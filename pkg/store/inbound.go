package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// InboundStore persists arrival events, documents, and extraction runs.
type InboundStore struct {
	db *sql.DB
}

func NewInboundStore(db *sql.DB) (*InboundStore, error) {
	s := &InboundStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InboundStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS inbound_messages (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		provider_message_id TEXT NOT NULL,
		sender_address TEXT,
		received_at DATETIME,
		raw_storage_key TEXT,
		status TEXT NOT NULL,
		failure_reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_inbound_dedup
		ON inbound_messages (tenant_id, source, provider_message_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		inbound_message_id TEXT,
		filename TEXT NOT NULL,
		media_type TEXT,
		size_bytes INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		raw_storage_key TEXT,
		page_count INTEGER,
		text_coverage_ratio REAL,
		text_chars_total INTEGER,
		layout_fingerprint TEXT,
		status TEXT NOT NULL,
		deleted_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_dedup
		ON documents (tenant_id, sha256, filename, size_bytes);

	CREATE TABLE IF NOT EXISTS extraction_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		extractor TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		duration_ms INTEGER,
		error TEXT,
		output BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_document
		ON extraction_runs (tenant_id, document_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// InsertMessage records an arrival. A duplicate (source, message id) for
// the tenant returns the already-stored message and reports duplicate.
func (s *InboundStore) InsertMessage(ctx context.Context, msg *model.InboundMessage) (duplicate bool, err error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return false, err
	}
	msg.TenantID = tid

	if existing, err := s.FindMessage(ctx, msg.Source, msg.ProviderMessageID); err == nil {
		*msg = *existing
		return true, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return false, err
	}

	query := `INSERT INTO inbound_messages (
		id, tenant_id, source, provider_message_id, sender_address, received_at,
		raw_storage_key, status, failure_reason, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID, tid, string(msg.Source), msg.ProviderMessageID, msg.SenderAddress,
		ts(msg.ReceivedAt), msg.RawStorageKey, string(msg.Status), msg.FailureReason,
		ts(msg.CreatedAt), ts(msg.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("store: insert inbound message: %w", err)
	}
	return false, nil
}

func (s *InboundStore) FindMessage(ctx context.Context, source model.InboundSource, providerMessageID string) (*model.InboundMessage, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, source, provider_message_id, sender_address, received_at,
		raw_storage_key, status, failure_reason, created_at, updated_at
		FROM inbound_messages WHERE tenant_id = ? AND source = ? AND provider_message_id = ?`
	row := s.db.QueryRowContext(ctx, query, tid, string(source), providerMessageID)
	return scanMessage(row)
}

func (s *InboundStore) GetMessage(ctx context.Context, id string) (*model.InboundMessage, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, source, provider_message_id, sender_address, received_at,
		raw_storage_key, status, failure_reason, created_at, updated_at
		FROM inbound_messages WHERE tenant_id = ? AND id = ?`
	return scanMessage(s.db.QueryRowContext(ctx, query, tid, id))
}

func (s *InboundStore) UpdateMessageStatus(ctx context.Context, id string, status model.InboundStatus, failureReason string) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE inbound_messages SET status = ?, failure_reason = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(status), failureReason, ts(time.Now().UTC()), tid, id)
	if err != nil {
		return fmt.Errorf("store: update inbound message: %w", err)
	}
	return oneRow(res)
}

// InsertDocument stores a document row. The same content under the same
// name and size dedups to the existing row.
func (s *InboundStore) InsertDocument(ctx context.Context, doc *model.Document) (duplicate bool, err error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return false, err
	}
	doc.TenantID = tid

	if existing, err := s.FindDocumentByContent(ctx, doc.SHA256, doc.Filename, doc.SizeBytes); err == nil {
		*doc = *existing
		return true, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return false, err
	}

	query := `INSERT INTO documents (
		id, tenant_id, inbound_message_id, filename, media_type, size_bytes, sha256,
		raw_storage_key, page_count, text_coverage_ratio, text_chars_total,
		layout_fingerprint, status, deleted_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		doc.ID, tid, doc.InboundMessageID, doc.Filename, doc.MediaType, doc.SizeBytes,
		doc.SHA256, doc.RawStorageKey, doc.PageCount, doc.TextCoverageRatio,
		doc.TextCharsTotal, doc.LayoutFingerprint, string(doc.Status), tsPtr(doc.DeletedAt),
		ts(doc.CreatedAt), ts(doc.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("store: insert document: %w", err)
	}
	return false, nil
}

func (s *InboundStore) FindDocumentByContent(ctx context.Context, sha256Hex, filename string, sizeBytes int64) (*model.Document, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, documentSelect+` WHERE tenant_id = ? AND sha256 = ? AND filename = ? AND size_bytes = ?`,
		tid, sha256Hex, filename, sizeBytes)
	return scanDocument(row)
}

func (s *InboundStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, documentSelect+` WHERE tenant_id = ? AND id = ?`, tid, id)
	return scanDocument(row)
}

// DocumentByID is GetDocument under the name the export path asks for.
func (s *InboundStore) DocumentByID(ctx context.Context, id string) (*model.Document, error) {
	return s.GetDocument(ctx, id)
}

func (s *InboundStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET media_type = ?, page_count = ?, text_coverage_ratio = ?,
			text_chars_total = ?, layout_fingerprint = ?, status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		doc.MediaType, doc.PageCount, doc.TextCoverageRatio, doc.TextCharsTotal,
		doc.LayoutFingerprint, string(doc.Status), ts(doc.UpdatedAt), tid, doc.ID)
	if err != nil {
		return fmt.Errorf("store: update document: %w", err)
	}
	return oneRow(res)
}

// SoftDeleteDocument marks the document deleted. Drafts keep the dangling
// reference.
func (s *InboundStore) SoftDeleteDocument(ctx context.Context, id string) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL`,
		ts(now), ts(now), tid, id)
	if err != nil {
		return fmt.Errorf("store: soft delete document: %w", err)
	}
	return oneRow(res)
}

func (s *InboundStore) InsertRun(ctx context.Context, run *model.ExtractionRun) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	run.TenantID = tid
	query := `INSERT INTO extraction_runs (
		id, tenant_id, document_id, extractor, status, started_at, finished_at,
		duration_ms, error, output, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, tid, run.DocumentID, run.Extractor, string(run.Status),
		tsPtr(run.StartedAt), tsPtr(run.FinishedAt), run.DurationMS, run.Error,
		run.Output, ts(run.CreatedAt), ts(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert extraction run: %w", err)
	}
	return nil
}

func (s *InboundStore) UpdateRun(ctx context.Context, run *model.ExtractionRun) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_runs SET status = ?, started_at = ?, finished_at = ?,
			duration_ms = ?, error = ?, output = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(run.Status), tsPtr(run.StartedAt), tsPtr(run.FinishedAt),
		run.DurationMS, run.Error, run.Output, ts(run.UpdatedAt), tid, run.ID)
	if err != nil {
		return fmt.Errorf("store: update extraction run: %w", err)
	}
	return oneRow(res)
}

func (s *InboundStore) ListRuns(ctx context.Context, documentID string) ([]*model.ExtractionRun, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, extractor, status, started_at, finished_at,
			duration_ms, error, output, created_at, updated_at
		FROM extraction_runs WHERE tenant_id = ? AND document_id = ? ORDER BY created_at`,
		tid, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: list extraction runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*model.ExtractionRun
	for rows.Next() {
		run := &model.ExtractionRun{}
		var status string
		var started, finished sql.NullString
		var created, updated string
		if err := rows.Scan(&run.ID, &run.TenantID, &run.DocumentID, &run.Extractor,
			&status, &started, &finished, &run.DurationMS, &run.Error, &run.Output,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan extraction run: %w", err)
		}
		run.Status = model.RunStatus(status)
		run.StartedAt = parseTSPtr(started)
		run.FinishedAt = parseTSPtr(finished)
		run.CreatedAt = parseTS(created)
		run.UpdatedAt = parseTS(updated)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const documentSelect = `SELECT id, tenant_id, inbound_message_id, filename, media_type,
	size_bytes, sha256, raw_storage_key, page_count, text_coverage_ratio,
	text_chars_total, layout_fingerprint, status, deleted_at, created_at, updated_at
	FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.InboundMessage, error) {
	msg := &model.InboundMessage{}
	var source, status string
	var received, created, updated string
	err := row.Scan(&msg.ID, &msg.TenantID, &source, &msg.ProviderMessageID,
		&msg.SenderAddress, &received, &msg.RawStorageKey, &status,
		&msg.FailureReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan inbound message: %w", err)
	}
	msg.Source = model.InboundSource(source)
	msg.Status = model.InboundStatus(status)
	msg.ReceivedAt = parseTS(received)
	msg.CreatedAt = parseTS(created)
	msg.UpdatedAt = parseTS(updated)
	return msg, nil
}

func scanDocument(row rowScanner) (*model.Document, error) {
	doc := &model.Document{}
	var status string
	var deleted sql.NullString
	var created, updated string
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.InboundMessageID, &doc.Filename,
		&doc.MediaType, &doc.SizeBytes, &doc.SHA256, &doc.RawStorageKey,
		&doc.PageCount, &doc.TextCoverageRatio, &doc.TextCharsTotal,
		&doc.LayoutFingerprint, &status, &deleted, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan document: %w", err)
	}
	doc.Status = model.DocumentStatus(status)
	doc.DeletedAt = parseTSPtr(deleted)
	doc.CreatedAt = parseTS(created)
	doc.UpdatedAt = parseTS(updated)
	return doc, nil
}

// oneRow maps a zero-row update to not-found semantics.
func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTSPtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTS(s.String)
	return &t
}
