package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/audit"
	"github.com/orderflow-io/orderflow/pkg/draft"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

// ExportStore persists push artifacts and answers idempotency lookups.
type ExportStore interface {
	Insert(ctx context.Context, export *Export) error
	// FindByKey returns the export for (draft, idempotency key), or
	// model.ErrNotFound.
	FindByKey(ctx context.Context, draftID, key string) (*Export, error)
	// FindLatest returns the most recent export for the draft, or
	// model.ErrNotFound.
	FindLatest(ctx context.Context, draftID string) (*Export, error)
}

// CustomerLookup resolves the export's customer block.
type CustomerLookup interface {
	CustomerByID(ctx context.Context, id string) (*model.Customer, error)
}

// DocumentLookup resolves the source document for export metadata.
type DocumentLookup interface {
	DocumentByID(ctx context.Context, id string) (*model.Document, error)
}

// Service drives approve and push.
type Service struct {
	drafts    draft.Store
	engine    *draft.Engine
	exports   ExportStore
	dropzone  DropzoneWriter
	customers CustomerLookup
	documents DocumentLookup
	audit     audit.Recorder
	log       *slog.Logger
	clock     func() time.Time

	TenantSlug string
}

func NewService(drafts draft.Store, engine *draft.Engine, exports ExportStore, dropzone DropzoneWriter, customers CustomerLookup, documents DocumentLookup, recorder audit.Recorder, tenantSlug string) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{
		drafts:     drafts,
		engine:     engine,
		exports:    exports,
		dropzone:   dropzone,
		customers:  customers,
		documents:  documents,
		audit:      recorder,
		log:        slog.Default().With("component", "push"),
		clock:      func() time.Time { return time.Now().UTC() },
		TenantSlug: tenantSlug,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Approve moves a READY draft to APPROVED and records the approver.
func (s *Service) Approve(ctx context.Context, draftID string) (*model.DraftOrder, error) {
	d, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DraftReady {
		return nil, &model.StateMachineError{DraftID: d.ID, From: d.Status, To: model.DraftApproved}
	}

	now := s.clock()
	d.ApprovedBy = tenant.Actor(ctx)
	d.ApprovedAt = &now
	if err := s.engine.Transition(ctx, d, model.DraftApproved); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, audit.ActionApprove, "draft_order/"+d.ID, nil,
		map[string]any{"approved_by": d.ApprovedBy, "approved_at": now.Format(time.RFC3339)}); err != nil {
		s.log.Error("audit record failed", "draft_id", d.ID, "err", err)
	}
	return d, nil
}

// Push exports an APPROVED draft to the dropzone. A repeated idempotency
// key, or a keyless push on a draft already PUSHING/PUSHED, returns the
// prior export without rewriting.
func (s *Service) Push(ctx context.Context, draftID, idempotencyKey string) (*Export, error) {
	if idempotencyKey != "" {
		prior, err := s.exports.FindByKey(ctx, draftID, idempotencyKey)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("push: idempotency lookup: %w", err)
		}
	}

	d, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}

	switch d.Status {
	case model.DraftPushing, model.DraftPushed:
		prior, err := s.exports.FindLatest(ctx, draftID)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("push: prior export lookup: %w", err)
		}
		if d.Status == model.DraftPushed {
			return nil, fmt.Errorf("push: draft %s pushed but export record missing", draftID)
		}
		// PUSHING with no export yet: a crashed attempt, fall through and
		// rebuild.
	case model.DraftApproved, model.DraftError:
		if err := s.engine.Transition(ctx, d, model.DraftPushing); err != nil {
			return nil, err
		}
	default:
		return nil, &model.StateMachineError{DraftID: d.ID, From: d.Status, To: model.DraftPushing}
	}

	export, err := s.writeExport(ctx, d, idempotencyKey)
	if err != nil {
		if terr := s.engine.Transition(ctx, d, model.DraftError); terr != nil {
			s.log.Error("transition to error failed", "draft_id", d.ID, "err", terr)
		}
		return nil, err
	}

	if err := s.engine.Transition(ctx, d, model.DraftPushed); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.ActionPush, "draft_order/"+d.ID, nil,
		map[string]any{"filename": export.Filename, "export_id": export.ID}); err != nil {
		s.log.Error("audit record failed", "draft_id", d.ID, "err", err)
	}
	return export, nil
}

func (s *Service) writeExport(ctx context.Context, d *model.DraftOrder, idempotencyKey string) (*Export, error) {
	lines, err := s.drafts.ListLines(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("push: list lines: %w", err)
	}

	in := ExportInput{
		TenantSlug: s.TenantSlug,
		Draft:      d,
		Lines:      lines,
		CreatedBy:  tenant.Actor(ctx),
	}
	if s.customers != nil && d.CustomerID != "" {
		if c, err := s.customers.CustomerByID(ctx, d.CustomerID); err == nil {
			in.Customer = c
		}
	}
	if s.documents != nil && d.SourceDocumentID != "" {
		if doc, err := s.documents.DocumentByID(ctx, d.SourceDocumentID); err == nil {
			in.Document = doc
		}
	}

	payload, err := BuildExportPayload(in)
	if err != nil {
		return nil, err
	}

	approvedAt := s.clock()
	if d.ApprovedAt != nil {
		approvedAt = *d.ApprovedAt
	}
	filename := ExportFilename(d.ID, approvedAt)

	if err := s.dropzone.WriteAtomic(ctx, filename, payload); err != nil {
		return nil, err
	}

	export := &Export{
		ID:             uuid.NewString(),
		TenantID:       d.TenantID,
		DraftOrderID:   d.ID,
		IdempotencyKey: idempotencyKey,
		Filename:       filename,
		Payload:        payload,
		CreatedAt:      s.clock(),
	}
	if err := s.exports.Insert(ctx, export); err != nil {
		return nil, fmt.Errorf("push: record export: %w", err)
	}
	return export, nil
}
