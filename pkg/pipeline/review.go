package pipeline

import (
	"context"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// Learning receives review outcomes for the feedback loop. Nil disables
// recording; the review operation itself still applies.
type Learning interface {
	CustomerSelect(ctx context.Context, draftID, customerID string, before map[string]any) error
	FieldEdit(ctx context.Context, draftID, lineID, fingerprint string, before, after map[string]any) error
	IssueOverride(ctx context.Context, draftID, issueID string, before map[string]any) error
	MappingConfirm(ctx context.Context, draftID, lineID, customerID, customerSKURaw, internalSKU, fingerprint string) error
	MappingReject(ctx context.Context, draftID, lineID, customerID, customerSKURaw, internalSKU, fingerprint string) error
}

// LineEdit is a partial update to an order line; nil fields stay as they are.
type LineEdit struct {
	Qty               *float64
	UOM               *string
	UnitPrice         *float64
	Currency          *string
	RequestedDelivery *string
}

// OrderEdit is a partial update to the draft header; nil fields stay.
type OrderEdit struct {
	Currency            *string
	OrderDate           *string
	RequestedDelivery   *string
	ExternalOrderNumber *string
	Notes               *string
}

// EditOrder applies an operator correction to the draft header and
// revalidates. Setting the currency is how a draft missing one becomes
// READY.
func (p *Pipeline) EditOrder(ctx context.Context, draftID string, edit OrderEdit) error {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !reviewable(d.Status) {
		return &model.StateMachineError{DraftID: d.ID, From: d.Status, To: d.Status}
	}

	before := map[string]any{}
	after := map[string]any{}
	if edit.Currency != nil {
		before["currency"], after["currency"] = d.Currency, *edit.Currency
		d.Currency = *edit.Currency
	}
	if edit.OrderDate != nil {
		before["order_date"], after["order_date"] = d.OrderDate, *edit.OrderDate
		d.OrderDate = *edit.OrderDate
	}
	if edit.RequestedDelivery != nil {
		before["requested_delivery_date"], after["requested_delivery_date"] = d.RequestedDelivery, *edit.RequestedDelivery
		d.RequestedDelivery = *edit.RequestedDelivery
	}
	if edit.ExternalOrderNumber != nil {
		before["external_order_number"], after["external_order_number"] = d.ExternalOrderNumber, *edit.ExternalOrderNumber
		d.ExternalOrderNumber = *edit.ExternalOrderNumber
	}
	if edit.Notes != nil {
		before["notes"], after["notes"] = d.Notes, *edit.Notes
		d.Notes = *edit.Notes
	}
	if len(after) == 0 {
		return nil
	}
	if err := p.drafts.Update(ctx, d); err != nil {
		return fmt.Errorf("pipeline: apply order edit: %w", err)
	}

	if err := p.validateDraft(ctx, d); err != nil {
		return err
	}
	if p.learning != nil {
		if err := p.learning.FieldEdit(ctx, draftID, "", p.fingerprintOf(ctx, d), before, after); err != nil {
			p.log.WarnContext(ctx, "feedback record failed", "draft_id", draftID, "error", err)
		}
	}
	_, err = p.engine.Refresh(ctx, draftID)
	return err
}

// SelectCustomer applies a manual customer choice. The stored confidence
// never drops below 0.90: an operator looked at the document. Matching and
// validation re-run because mappings and prices are customer-scoped.
func (p *Pipeline) SelectCustomer(ctx context.Context, draftID, customerID string) error {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !reviewable(d.Status) {
		return &model.StateMachineError{DraftID: d.ID, From: d.Status, To: d.Status}
	}

	before := map[string]any{"customer_id": d.CustomerID, "customer_confidence": d.CustomerConfidence}

	candidates, err := p.drafts.ListCandidates(ctx, draftID)
	if err != nil {
		return fmt.Errorf("pipeline: list candidates: %w", err)
	}
	score := 0.0
	now := p.clock()
	for _, c := range candidates {
		if c.CustomerID == customerID {
			score = c.Score
			c.Status = model.CandidateSelected
		} else if c.Status == model.CandidateSelected {
			c.Status = model.CandidateRejected
		}
		c.UpdatedAt = now
	}
	if err := p.drafts.SaveCandidates(ctx, draftID, candidates); err != nil {
		return fmt.Errorf("pipeline: save candidates: %w", err)
	}

	d.CustomerID = customerID
	d.CustomerConfidence = max(score, 0.90)
	if err := p.drafts.Update(ctx, d); err != nil {
		return fmt.Errorf("pipeline: apply customer select: %w", err)
	}

	if err := p.matchLines(ctx, d); err != nil {
		return err
	}
	if err := p.validateDraft(ctx, d); err != nil {
		return err
	}
	if p.learning != nil {
		if err := p.learning.CustomerSelect(ctx, draftID, customerID, before); err != nil {
			p.log.WarnContext(ctx, "feedback record failed", "draft_id", draftID, "error", err)
		}
	}
	_, err = p.engine.Refresh(ctx, draftID)
	return err
}

// EditLine applies an operator correction to a line and revalidates.
func (p *Pipeline) EditLine(ctx context.Context, draftID, lineID string, edit LineEdit) error {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !reviewable(d.Status) {
		return &model.StateMachineError{DraftID: d.ID, From: d.Status, To: d.Status}
	}
	line, err := p.findLine(ctx, draftID, lineID)
	if err != nil {
		return err
	}

	before := map[string]any{}
	after := map[string]any{}
	if edit.Qty != nil {
		before["qty"], after["qty"] = line.Qty, *edit.Qty
		line.Qty = edit.Qty
	}
	if edit.UOM != nil {
		before["uom"], after["uom"] = line.UOM, *edit.UOM
		line.UOM = *edit.UOM
	}
	if edit.UnitPrice != nil {
		before["unit_price"], after["unit_price"] = line.UnitPrice, *edit.UnitPrice
		line.UnitPrice = edit.UnitPrice
	}
	if edit.Currency != nil {
		before["currency"], after["currency"] = line.Currency, *edit.Currency
		line.Currency = *edit.Currency
	}
	if edit.RequestedDelivery != nil {
		before["requested_delivery_date"], after["requested_delivery_date"] = line.RequestedDelivery, *edit.RequestedDelivery
		line.RequestedDelivery = *edit.RequestedDelivery
	}
	if len(after) == 0 {
		return nil
	}
	if err := p.drafts.UpdateLine(ctx, line); err != nil {
		return fmt.Errorf("pipeline: apply line edit: %w", err)
	}

	if err := p.validateDraft(ctx, d); err != nil {
		return err
	}
	if p.learning != nil {
		if err := p.learning.FieldEdit(ctx, draftID, lineID, p.fingerprintOf(ctx, d), before, after); err != nil {
			p.log.WarnContext(ctx, "feedback record failed", "draft_id", draftID, "error", err)
		}
	}
	_, err = p.engine.Refresh(ctx, draftID)
	return err
}

// ConfirmLineMatch fixes a line to the given product. A confirmed match
// feeds the mapping table, so the next order from this customer resolves
// the SKU deterministically.
func (p *Pipeline) ConfirmLineMatch(ctx context.Context, draftID, lineID, internalSKU string) error {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !reviewable(d.Status) {
		return &model.StateMachineError{DraftID: d.ID, From: d.Status, To: d.Status}
	}
	line, err := p.findLine(ctx, draftID, lineID)
	if err != nil {
		return err
	}

	status := model.MatchMatched
	if line.InternalSKU != "" && line.InternalSKU != internalSKU {
		status = model.MatchOverridden
	}
	line.InternalSKU = internalSKU
	line.MatchStatus = status
	line.MatchConfidence = 1.0
	line.MatchMethod = "manual"
	if err := p.drafts.UpdateLine(ctx, line); err != nil {
		return fmt.Errorf("pipeline: apply match confirm: %w", err)
	}

	if err := p.validateDraft(ctx, d); err != nil {
		return err
	}
	if p.learning != nil {
		if err := p.learning.MappingConfirm(ctx, draftID, lineID, d.CustomerID,
			line.CustomerSKURaw, internalSKU, p.fingerprintOf(ctx, d)); err != nil {
			p.log.WarnContext(ctx, "feedback record failed", "draft_id", draftID, "error", err)
		}
	}
	_, err = p.engine.Refresh(ctx, draftID)
	return err
}

// RejectLineMatch clears a suggested product from a line.
func (p *Pipeline) RejectLineMatch(ctx context.Context, draftID, lineID string) error {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !reviewable(d.Status) {
		return &model.StateMachineError{DraftID: d.ID, From: d.Status, To: d.Status}
	}
	line, err := p.findLine(ctx, draftID, lineID)
	if err != nil {
		return err
	}

	rejected := line.InternalSKU
	line.InternalSKU = ""
	line.MatchStatus = model.MatchUnmatched
	line.MatchConfidence = 0
	line.MatchMethod = ""
	if err := p.drafts.UpdateLine(ctx, line); err != nil {
		return fmt.Errorf("pipeline: apply match reject: %w", err)
	}

	if err := p.validateDraft(ctx, d); err != nil {
		return err
	}
	if p.learning != nil && rejected != "" {
		if err := p.learning.MappingReject(ctx, draftID, lineID, d.CustomerID,
			line.CustomerSKURaw, rejected, p.fingerprintOf(ctx, d)); err != nil {
			p.log.WarnContext(ctx, "feedback record failed", "draft_id", draftID, "error", err)
		}
	}
	_, err = p.engine.Refresh(ctx, draftID)
	return err
}

// AcknowledgeIssue marks a finding as seen without resolving it. Only the
// ready gate treats OPEN errors as blocking, so this can flip a draft READY.
func (p *Pipeline) AcknowledgeIssue(ctx context.Context, draftID, issueID string) error {
	return p.setIssueStatus(ctx, draftID, issueID, model.IssueAcknowledged, false)
}

// OverrideIssue dismisses a finding against the operator's judgment call,
// recorded in the feedback loop.
func (p *Pipeline) OverrideIssue(ctx context.Context, draftID, issueID string) error {
	return p.setIssueStatus(ctx, draftID, issueID, model.IssueOverridden, true)
}

func (p *Pipeline) setIssueStatus(ctx context.Context, draftID, issueID string, to model.IssueStatus, record bool) error {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !reviewable(d.Status) {
		return &model.StateMachineError{DraftID: d.ID, From: d.Status, To: d.Status}
	}
	issues, err := p.drafts.ListIssues(ctx, draftID)
	if err != nil {
		return fmt.Errorf("pipeline: list issues: %w", err)
	}
	for _, issue := range issues {
		if issue.ID != issueID {
			continue
		}
		before := map[string]any{"status": issue.Status, "type": issue.Type}
		issue.Status = to
		issue.UpdatedAt = p.clock()
		if err := p.drafts.SaveIssue(ctx, issue); err != nil {
			return fmt.Errorf("pipeline: save issue: %w", err)
		}
		if record && p.learning != nil {
			if err := p.learning.IssueOverride(ctx, draftID, issueID, before); err != nil {
				p.log.WarnContext(ctx, "feedback record failed", "draft_id", draftID, "error", err)
			}
		}
		_, err = p.engine.Refresh(ctx, draftID)
		return err
	}
	return model.ErrNotFound
}

// GetDraft loads a draft for display. A soft-deleted source document keeps
// the draft readable; the dangling reference is surfaced as a warning.
func (p *Pipeline) GetDraft(ctx context.Context, draftID string) (*model.DraftOrder, error) {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if doc, err := p.documents.GetDocument(ctx, d.SourceDocumentID); err == nil && doc.SoftDeleted() {
		p.log.WarnContext(ctx, "source document soft-deleted",
			"draft_id", d.ID, "document_id", doc.ID)
	}
	return d, nil
}

func (p *Pipeline) findLine(ctx context.Context, draftID, lineID string) (*model.DraftOrderLine, error) {
	lines, err := p.drafts.ListLines(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list lines: %w", err)
	}
	for _, line := range lines {
		if line.ID == lineID {
			return line, nil
		}
	}
	return nil, model.ErrNotFound
}

func (p *Pipeline) fingerprintOf(ctx context.Context, d *model.DraftOrder) string {
	doc, err := p.documents.GetDocument(ctx, d.SourceDocumentID)
	if err != nil {
		return ""
	}
	return doc.LayoutFingerprint
}

// reviewable reports whether operator edits may touch the draft. Approval
// freezes it.
func reviewable(s model.DraftStatus) bool {
	switch s {
	case model.DraftExtracted, model.DraftNeedsReview, model.DraftReady:
		return true
	}
	return false
}
