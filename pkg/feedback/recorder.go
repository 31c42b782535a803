// Package feedback turns operator corrections into durable learning
// signals: append-only feedback events, confirmed SKU mappings for the
// matcher, and few-shot examples for later prompts on the same layout.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/audit"
	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

// Feedback kinds.
const (
	KindMappingConfirm = "mapping_confirm"
	KindMappingReject  = "mapping_reject"
	KindFieldEdit      = "field_edit"
	KindCustomerSelect = "customer_select"
	KindIssueOverride  = "issue_override"
)

// Store persists feedback events and serves them back as examples.
type Store interface {
	Insert(ctx context.Context, event *model.FeedbackEvent) error
	// ListByLayout returns the newest events of the kind for the layout
	// fingerprint, most recent first.
	ListByLayout(ctx context.Context, layoutFingerprint, kind string, limit int) ([]*model.FeedbackEvent, error)
}

// MappingStore upserts learned SKU associations.
type MappingStore interface {
	FindActive(ctx context.Context, customerID, skuNorm string) (*model.SkuMapping, error)
	Save(ctx context.Context, mapping *model.SkuMapping) error
}

// Recorder is the feedback entry point for every operator correction.
type Recorder struct {
	events   Store
	mappings MappingStore
	audit    audit.Recorder
	log      *slog.Logger
	clock    func() time.Time
}

func NewRecorder(events Store, mappings MappingStore, recorder audit.Recorder) *Recorder {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Recorder{
		events:   events,
		mappings: mappings,
		audit:    recorder,
		log:      slog.Default().With("component", "feedback"),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the recorder clock. Test hook.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

func (r *Recorder) newEvent(ctx context.Context, kind, draftID, lineID, fingerprint string, before, after map[string]any) *model.FeedbackEvent {
	tid, _ := tenant.ID(ctx)
	return &model.FeedbackEvent{
		ID:                uuid.NewString(),
		TenantID:          tid,
		ActorID:           tenant.Actor(ctx),
		Kind:              kind,
		DraftOrderID:      draftID,
		LineID:            lineID,
		LayoutFingerprint: fingerprint,
		Before:            before,
		After:             after,
		CreatedAt:         r.clock(),
	}
}

// MappingConfirm records the correction and upserts the CONFIRMED mapping
// the matcher will prefer from now on. A confirmation for a different
// product deprecates the old row instead of editing it in place.
func (r *Recorder) MappingConfirm(ctx context.Context, draftID, lineID, customerID, customerSKURaw, internalSKU, fingerprint string) error {
	skuNorm := match.NormalizeCustomerSKU(customerSKURaw)
	if skuNorm == "" || internalSKU == "" {
		return fmt.Errorf("%w: mapping confirm needs a sku on both sides", model.ErrInputRejected)
	}
	now := r.clock()
	tid, _ := tenant.ID(ctx)

	existing, err := r.mappings.FindActive(ctx, customerID, skuNorm)
	switch {
	case errors.Is(err, model.ErrNotFound):
		existing = nil
	case err != nil:
		return fmt.Errorf("feedback: mapping lookup: %w", err)
	}

	var before map[string]any
	if existing != nil {
		before = map[string]any{"internal_sku": existing.InternalSKU, "status": string(existing.Status)}
		if existing.InternalSKU == internalSKU {
			existing.Status = model.MappingConfirmed
			existing.SupportCount++
			existing.Confidence = 1.0
			existing.LastUsedAt = &now
			existing.UpdatedAt = now
			if err := r.mappings.Save(ctx, existing); err != nil {
				return fmt.Errorf("feedback: save mapping: %w", err)
			}
		} else {
			existing.Status = model.MappingDeprecated
			existing.UpdatedAt = now
			if err := r.mappings.Save(ctx, existing); err != nil {
				return fmt.Errorf("feedback: deprecate mapping: %w", err)
			}
			existing = nil
		}
	}
	if existing == nil {
		mapping := &model.SkuMapping{
			ID:              uuid.NewString(),
			TenantID:        tid,
			CustomerID:      customerID,
			CustomerSKUNorm: skuNorm,
			InternalSKU:     internalSKU,
			Status:          model.MappingConfirmed,
			Confidence:      1.0,
			SupportCount:    1,
			LastUsedAt:      &now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := r.mappings.Save(ctx, mapping); err != nil {
			return fmt.Errorf("feedback: save mapping: %w", err)
		}
	}

	event := r.newEvent(ctx, KindMappingConfirm, draftID, lineID, fingerprint, before,
		map[string]any{"customer_sku_norm": skuNorm, "internal_sku": internalSKU})
	if err := r.events.Insert(ctx, event); err != nil {
		return fmt.Errorf("feedback: record event: %w", err)
	}
	return r.audit.Record(ctx, audit.ActionMappingConfirm, "sku_mapping/"+customerID+"/"+skuNorm, before, event.After)
}

// MappingReject records that the suggested product was wrong. The mapping
// row survives with an incremented reject count; three rejects without
// support deprecate it.
func (r *Recorder) MappingReject(ctx context.Context, draftID, lineID, customerID, customerSKURaw, internalSKU, fingerprint string) error {
	skuNorm := match.NormalizeCustomerSKU(customerSKURaw)
	now := r.clock()

	existing, err := r.mappings.FindActive(ctx, customerID, skuNorm)
	if err == nil && existing.InternalSKU == internalSKU {
		existing.RejectCount++
		if existing.RejectCount >= 3 && existing.SupportCount == 0 {
			existing.Status = model.MappingDeprecated
		}
		existing.UpdatedAt = now
		if err := r.mappings.Save(ctx, existing); err != nil {
			return fmt.Errorf("feedback: save mapping: %w", err)
		}
	} else if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("feedback: mapping lookup: %w", err)
	}

	event := r.newEvent(ctx, KindMappingReject, draftID, lineID, fingerprint,
		map[string]any{"internal_sku": internalSKU}, nil)
	if err := r.events.Insert(ctx, event); err != nil {
		return fmt.Errorf("feedback: record event: %w", err)
	}
	return r.audit.Record(ctx, audit.ActionMappingReject, "sku_mapping/"+customerID+"/"+skuNorm, event.Before, nil)
}

// FieldEdit records a manual correction of an extracted value.
func (r *Recorder) FieldEdit(ctx context.Context, draftID, lineID, fingerprint string, before, after map[string]any) error {
	event := r.newEvent(ctx, KindFieldEdit, draftID, lineID, fingerprint, before, after)
	if err := r.events.Insert(ctx, event); err != nil {
		return fmt.Errorf("feedback: record event: %w", err)
	}
	return r.audit.Record(ctx, audit.ActionFieldEdit, "draft_order/"+draftID, before, after)
}

// CustomerSelect records a manual customer choice.
func (r *Recorder) CustomerSelect(ctx context.Context, draftID, customerID string, before map[string]any) error {
	event := r.newEvent(ctx, KindCustomerSelect, draftID, "", "", before,
		map[string]any{"customer_id": customerID})
	if err := r.events.Insert(ctx, event); err != nil {
		return fmt.Errorf("feedback: record event: %w", err)
	}
	return r.audit.Record(ctx, audit.ActionCustomerSelect, "draft_order/"+draftID, before, event.After)
}

// IssueOverride records an operator overriding a validation finding.
func (r *Recorder) IssueOverride(ctx context.Context, draftID, issueID string, before map[string]any) error {
	event := r.newEvent(ctx, KindIssueOverride, draftID, "", "", before,
		map[string]any{"issue_id": issueID, "status": string(model.IssueOverridden)})
	if err := r.events.Insert(ctx, event); err != nil {
		return fmt.Errorf("feedback: record event: %w", err)
	}
	return r.audit.Record(ctx, audit.ActionIssueOverride, "validation_issue/"+issueID, before, event.After)
}

// FewShotExamples draws the newest corrected extractions for a layout as
// prompt examples. Only field edits with both snapshots qualify.
func (r *Recorder) FewShotExamples(ctx context.Context, layoutFingerprint string, limit int) ([]llm.FewShotExample, error) {
	if layoutFingerprint == "" {
		return nil, nil
	}
	events, err := r.events.ListByLayout(ctx, layoutFingerprint, KindFieldEdit, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback: list examples: %w", err)
	}
	var out []llm.FewShotExample
	for _, ev := range events {
		if len(ev.Before) == 0 || len(ev.After) == 0 {
			continue
		}
		input, err := json.Marshal(ev.Before)
		if err != nil {
			continue
		}
		output, err := json.Marshal(ev.After)
		if err != nil {
			continue
		}
		out = append(out, llm.FewShotExample{Input: string(input), Output: string(output)})
	}
	return out, nil
}
