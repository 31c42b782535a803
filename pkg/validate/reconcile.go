package validate

import (
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// validatorOwned are the types the reconciler may auto-resolve when their
// condition clears. Extraction-owned findings are left to their producer.
var validatorOwned = map[model.IssueType]bool{
	model.IssueMissingCustomer:         true,
	model.IssueMissingCurrency:         true,
	model.IssueCustomerAmbiguous:       true,
	model.IssueMissingSKU:              true,
	model.IssueUnknownProduct:          true,
	model.IssueMissingQty:              true,
	model.IssueInvalidQty:              true,
	model.IssueMissingUOM:              true,
	model.IssueUnknownUOM:              true,
	model.IssueUOMIncompatible:         true,
	model.IssueMissingPrice:            true,
	model.IssuePriceMismatch:           true,
	model.IssueDuplicateLine:           true,
	model.IssueLowConfidenceExtraction: true,
	model.IssueLowConfidenceMatch:      true,
}

// Reconcile merges the computed findings into the existing issue set.
// Identity is (type, target): re-runs update OPEN issues in place, preserve
// operator-handled ones, resolve cleared conditions, and recreate RESOLVED
// issues only when the condition recurs. The returned slice is the full
// issue set to persist.
func Reconcile(draft *model.DraftOrder, existing []*model.ValidationIssue, findings []Finding, now time.Time) []*model.ValidationIssue {
	type key struct {
		typ    model.IssueType
		target string
	}

	current := map[key]Finding{}
	for _, f := range findings {
		target := f.LineID
		if target == "" {
			target = draft.ID
		}
		current[key{f.Type, target}] = f
	}

	out := make([]*model.ValidationIssue, 0, len(existing)+len(findings))
	matched := map[key]bool{}

	for _, issue := range existing {
		k := key{issue.Type, issue.TargetID()}
		f, stillPresent := current[k]

		switch issue.Status {
		case model.IssueAcknowledged, model.IssueOverridden:
			// Operator decisions survive re-runs untouched.
			out = append(out, issue)
			matched[k] = true

		case model.IssueOpen:
			if stillPresent {
				issue.Severity = f.Severity
				issue.Message = f.Message
				issue.Details = f.Details
				issue.UpdatedAt = now
			} else if validatorOwned[issue.Type] {
				issue.Status = model.IssueResolved
				issue.UpdatedAt = now
			}
			out = append(out, issue)
			matched[k] = true

		case model.IssueResolved:
			if stillPresent {
				// Condition recurred: reopen rather than duplicate.
				issue.Status = model.IssueOpen
				issue.Severity = f.Severity
				issue.Message = f.Message
				issue.Details = f.Details
				issue.UpdatedAt = now
				matched[k] = true
			}
			out = append(out, issue)
		}
	}

	for _, f := range findings {
		target := f.LineID
		if target == "" {
			target = draft.ID
		}
		k := key{f.Type, target}
		if matched[k] {
			continue
		}
		matched[k] = true
		out = append(out, &model.ValidationIssue{
			ID:           uuid.NewString(),
			TenantID:     draft.TenantID,
			DraftOrderID: draft.ID,
			LineID:       f.LineID,
			Type:         f.Type,
			Severity:     f.Severity,
			Status:       model.IssueOpen,
			Message:      f.Message,
			Details:      f.Details,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return out
}

// HasBlockingError reports whether any OPEN issue of severity ERROR remains.
func HasBlockingError(issues []*model.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Status == model.IssueOpen && issue.Severity == model.SeverityError {
			return true
		}
	}
	return false
}
