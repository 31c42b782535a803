// Package validate derives the issue set of a draft from the catalog, the
// canonical UoM set and the customer price list. Validation is deterministic:
// the same draft always yields the same issues.
package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// lowExtractionThreshold flags drafts whose extraction needs a second look.
const lowExtractionThreshold = 0.60

// Catalog resolves internal SKUs for product checks.
type Catalog interface {
	// ProductBySKU returns the product or model.ErrNotFound.
	ProductBySKU(ctx context.Context, internalSKU string) (*model.Product, error)
}

// Policy carries the tenant knobs the validator honors.
type Policy struct {
	PriceTolerance float64
	// PriceMismatchSeverity is WARNING by default; tenants with strict
	// price books escalate it to ERROR.
	PriceMismatchSeverity model.IssueSeverity
	LowMatchThreshold     float64
}

func DefaultPolicy() Policy {
	return Policy{
		PriceTolerance:        0.05,
		PriceMismatchSeverity: model.SeverityWarning,
		LowMatchThreshold:     0.75,
	}
}

// Validator computes the issue set for a draft.
type Validator struct {
	catalog Catalog
	prices  match.PriceSource
	policy  Policy
}

func NewValidator(catalog Catalog, prices match.PriceSource, policy Policy) *Validator {
	return &Validator{catalog: catalog, prices: prices, policy: policy}
}

// Finding is an issue before identity assignment.
type Finding struct {
	LineID   string
	Type     model.IssueType
	Severity model.IssueSeverity
	Message  string
	Details  map[string]any
}

// Validate computes the current findings for the draft. Persistence and
// reconciliation against prior issues happen in Reconcile.
func (v *Validator) Validate(ctx context.Context, draft *model.DraftOrder, lines []*model.DraftOrderLine) ([]Finding, error) {
	var out []Finding
	add := func(lineID string, typ model.IssueType, sev model.IssueSeverity, msg string, details map[string]any) {
		out = append(out, Finding{LineID: lineID, Type: typ, Severity: sev, Message: msg, Details: details})
	}

	if draft.CustomerID == "" {
		if len(draft.TopCandidates) > 0 {
			add("", model.IssueCustomerAmbiguous, model.SeverityError,
				"customer candidates present with no clear winner", candidateDetails(draft.TopCandidates))
		} else {
			add("", model.IssueMissingCustomer, model.SeverityError, "no customer assigned", nil)
		}
	}
	if draft.Currency == "" {
		add("", model.IssueMissingCurrency, model.SeverityError, "no currency on the order", nil)
	}
	if draft.ExtractionConfidence > 0 && draft.ExtractionConfidence < lowExtractionThreshold {
		add("", model.IssueLowConfidenceExtraction, model.SeverityWarning,
			fmt.Sprintf("extraction confidence %.2f", draft.ExtractionConfidence), nil)
	}

	seen := map[string]string{} // (sku_norm|uom) -> first line id
	orderDate := parseOrderDate(draft.OrderDate)

	for _, line := range lines {
		if line.CustomerSKURaw == "" && line.InternalSKU == "" {
			add(line.ID, model.IssueMissingSKU, model.SeverityError, "line has no sku", nil)
		}

		var product *model.Product
		if line.InternalSKU != "" {
			p, err := v.catalog.ProductBySKU(ctx, line.InternalSKU)
			switch {
			case errors.Is(err, model.ErrNotFound):
				add(line.ID, model.IssueUnknownProduct, model.SeverityError,
					fmt.Sprintf("internal sku %q not in catalog", line.InternalSKU), nil)
			case err != nil:
				return nil, fmt.Errorf("validate: product lookup: %w", err)
			default:
				product = p
			}
		} else if line.CustomerSKURaw != "" {
			add(line.ID, model.IssueUnknownProduct, model.SeverityError,
				fmt.Sprintf("no product resolved for %q", line.CustomerSKURaw), nil)
		}

		switch {
		case line.Qty == nil:
			add(line.ID, model.IssueMissingQty, model.SeverityError, "qty missing", nil)
		case *line.Qty <= 0:
			add(line.ID, model.IssueInvalidQty, model.SeverityError,
				fmt.Sprintf("qty %g must be positive", *line.Qty), nil)
		}

		switch {
		case line.UOM == "":
			add(line.ID, model.IssueMissingUOM, model.SeverityError, "unit of measure missing", nil)
		case !model.CanonicalUOMs[line.UOM]:
			add(line.ID, model.IssueUnknownUOM, model.SeverityError,
				fmt.Sprintf("unit %q is not canonical", line.UOM), nil)
		case product != nil && !product.ConvertibleTo(line.UOM):
			add(line.ID, model.IssueUOMIncompatible, model.SeverityError,
				fmt.Sprintf("unit %q not orderable for %s", line.UOM, product.InternalSKU), nil)
		}

		if line.UnitPrice == nil {
			add(line.ID, model.IssueMissingPrice, model.SeverityWarning, "unit price missing", nil)
		} else if product != nil && draft.CustomerID != "" {
			v.checkPrice(ctx, draft, line, add, orderDate)
		}

		if line.MatchConfidence > 0 && line.MatchConfidence < v.policy.LowMatchThreshold {
			add(line.ID, model.IssueLowConfidenceMatch, model.SeverityWarning,
				fmt.Sprintf("match confidence %.2f", line.MatchConfidence), nil)
		}

		if key := duplicateKey(line); key != "" {
			if firstID, dup := seen[key]; dup {
				add(line.ID, model.IssueDuplicateLine, model.SeverityWarning,
					fmt.Sprintf("same sku and unit as line %s", firstID),
					map[string]any{"duplicate_of_line_id": firstID})
			} else {
				seen[key] = line.ID
			}
		}
	}
	return out, nil
}

func (v *Validator) checkPrice(ctx context.Context, draft *model.DraftOrder, line *model.DraftOrderLine, add func(string, model.IssueType, model.IssueSeverity, string, map[string]any), orderDate time.Time) {
	if v.prices == nil {
		return
	}
	qty := 0.0
	if line.Qty != nil {
		qty = *line.Qty
	}
	price, err := v.prices.Lookup(ctx, draft.CustomerID, line.InternalSKU, line.Currency, qty, orderDate)
	if err != nil || price.UnitPrice <= 0 {
		return
	}
	deviation := (*line.UnitPrice - price.UnitPrice) / price.UnitPrice
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > v.policy.PriceTolerance {
		add(line.ID, model.IssuePriceMismatch, v.policy.PriceMismatchSeverity,
			fmt.Sprintf("unit price %.2f deviates %.0f%% from list price %.2f", *line.UnitPrice, deviation*100, price.UnitPrice),
			map[string]any{"list_price": price.UnitPrice, "deviation": deviation})
	}
}

func duplicateKey(line *model.DraftOrderLine) string {
	norm := line.CustomerSKUNorm
	if norm == "" {
		norm = match.NormalizeCustomerSKU(line.CustomerSKURaw)
	}
	if norm == "" {
		return ""
	}
	return norm + "|" + line.UOM
}

func candidateDetails(cands []model.CustomerCandidate) map[string]any {
	list := make([]map[string]any, 0, len(cands))
	for _, c := range cands {
		list = append(list, map[string]any{"customer_id": c.CustomerID, "score": c.Score})
	}
	return map[string]any{"candidates": list}
}

func parseOrderDate(iso string) time.Time {
	if t, err := time.Parse("2006-01-02", iso); err == nil {
		return t
	}
	return time.Now().UTC()
}
