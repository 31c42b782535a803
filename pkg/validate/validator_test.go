package validate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/validate"
)

type memCatalog struct {
	products map[string]*model.Product
}

func (c *memCatalog) ProductBySKU(_ context.Context, sku string) (*model.Product, error) {
	if p, ok := c.products[sku]; ok {
		return p, nil
	}
	return nil, model.ErrNotFound
}

type memPrices struct {
	rows []*model.CustomerPrice
}

func (m *memPrices) Lookup(_ context.Context, customerID, internalSKU, _ string, qty float64, date time.Time) (*model.CustomerPrice, error) {
	for _, r := range m.rows {
		if r.CustomerID == customerID && r.InternalSKU == internalSKU && r.Covers(date) && r.MinQty <= qty {
			return r, nil
		}
	}
	return nil, model.ErrNotFound
}

func qty(f float64) *float64 { return &f }

func completeDraft() (*model.DraftOrder, []*model.DraftOrderLine) {
	draft := &model.DraftOrder{
		ID:                   "d1",
		TenantID:             "t1",
		CustomerID:           "c1",
		Currency:             "EUR",
		OrderDate:            "2026-03-02",
		ExtractionConfidence: 0.9,
	}
	lines := []*model.DraftOrderLine{{
		ID:              "l1",
		DraftOrderID:    "d1",
		LineNo:          1,
		CustomerSKURaw:  "AB-12",
		CustomerSKUNorm: "AB12",
		Qty:             qty(10),
		UOM:             "ST",
		UnitPrice:       qty(4.90),
		InternalSKU:     "INT-1",
		MatchConfidence: 0.95,
	}}
	return draft, lines
}

func catalogWith(skus ...string) *memCatalog {
	c := &memCatalog{products: map[string]*model.Product{}}
	for _, sku := range skus {
		c.products[sku] = &model.Product{InternalSKU: sku, BaseUOM: "ST", Active: true}
	}
	return c
}

func issueTypes(findings []validate.Finding) []model.IssueType {
	out := make([]model.IssueType, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Type)
	}
	return out
}

func TestValidateCleanDraft(t *testing.T) {
	draft, lines := completeDraft()
	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestValidateHeaderIssues(t *testing.T) {
	draft, lines := completeDraft()
	draft.CustomerID = ""
	draft.Currency = ""

	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	assert.Contains(t, issueTypes(findings), model.IssueMissingCustomer)
	assert.Contains(t, issueTypes(findings), model.IssueMissingCurrency)
}

func TestValidateAmbiguousCustomer(t *testing.T) {
	draft, lines := completeDraft()
	draft.CustomerID = ""
	draft.TopCandidates = []model.CustomerCandidate{
		{CustomerID: "c1", Score: 0.75},
		{CustomerID: "c2", Score: 0.75},
	}

	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	types := issueTypes(findings)
	assert.Contains(t, types, model.IssueCustomerAmbiguous)
	assert.NotContains(t, types, model.IssueMissingCustomer)
}

func TestValidateSingleLowCandidateIsAmbiguous(t *testing.T) {
	draft, lines := completeDraft()
	draft.CustomerID = ""
	draft.TopCandidates = []model.CustomerCandidate{
		{CustomerID: "c1", Score: 0.40},
	}

	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	types := issueTypes(findings)
	assert.Contains(t, types, model.IssueCustomerAmbiguous,
		"a below-threshold candidate needs confirmation, not fresh detection")
	assert.NotContains(t, types, model.IssueMissingCustomer)
}

func TestValidateLineIssues(t *testing.T) {
	draft, _ := completeDraft()
	lines := []*model.DraftOrderLine{
		{ID: "l1", Qty: qty(-2), UOM: "STÜCK", CustomerSKURaw: "X-1"},
		{ID: "l2", UOM: "ST", InternalSKU: "GHOST-1", Qty: qty(1), UnitPrice: qty(1)},
	}

	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)

	types := issueTypes(findings)
	assert.Contains(t, types, model.IssueInvalidQty)
	assert.Contains(t, types, model.IssueUnknownUOM)
	assert.Contains(t, types, model.IssueUnknownProduct)
	assert.Contains(t, types, model.IssueMissingPrice)
}

func TestValidateDuplicateLines(t *testing.T) {
	draft, _ := completeDraft()
	lines := []*model.DraftOrderLine{
		{ID: "l1", CustomerSKURaw: "AB-12", InternalSKU: "INT-1", Qty: qty(5), UOM: "ST", UnitPrice: qty(1), MatchConfidence: 0.95},
		{ID: "l2", CustomerSKURaw: "ab12", InternalSKU: "INT-1", Qty: qty(3), UOM: "ST", UnitPrice: qty(1), MatchConfidence: 0.95},
	}

	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)

	require.Len(t, findings, 1)
	assert.Equal(t, model.IssueDuplicateLine, findings[0].Type)
	assert.Equal(t, "l2", findings[0].LineID, "the later occurrence is the duplicate")
}

func TestValidatePriceMismatchSeverityPolicy(t *testing.T) {
	draft, lines := completeDraft()
	prices := &memPrices{rows: []*model.CustomerPrice{
		{CustomerID: "c1", InternalSKU: "INT-1", UnitPrice: 4.00, ValidFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}

	v := validate.NewValidator(catalogWith("INT-1"), prices, validate.DefaultPolicy())
	findings, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.IssuePriceMismatch, findings[0].Type)
	assert.Equal(t, model.SeverityWarning, findings[0].Severity)

	strict := validate.DefaultPolicy()
	strict.PriceMismatchSeverity = model.SeverityError
	v = validate.NewValidator(catalogWith("INT-1"), prices, strict)
	findings, err = v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.SeverityError, findings[0].Severity)
}

func TestValidateIsDeterministic(t *testing.T) {
	draft, lines := completeDraft()
	draft.Currency = ""
	lines[0].Qty = nil

	v := validate.NewValidator(catalogWith("INT-1"), nil, validate.DefaultPolicy())
	a, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	b, err := v.Validate(context.Background(), draft, lines)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReconcilePreservesOperatorDecisions(t *testing.T) {
	draft, _ := completeDraft()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	existing := []*model.ValidationIssue{
		{ID: "i1", DraftOrderID: "d1", LineID: "l1", Type: model.IssueMissingPrice, Severity: model.SeverityWarning, Status: model.IssueAcknowledged},
		{ID: "i2", DraftOrderID: "d1", LineID: "l1", Type: model.IssueMissingQty, Severity: model.SeverityError, Status: model.IssueOpen},
	}

	// Qty was fixed; price is still missing but acknowledged.
	findings := []validate.Finding{
		{LineID: "l1", Type: model.IssueMissingPrice, Severity: model.SeverityWarning, Message: "unit price missing"},
	}

	out := validate.Reconcile(draft, existing, findings, now)
	require.Len(t, out, 2)

	byID := map[string]*model.ValidationIssue{}
	for _, i := range out {
		byID[i.ID] = i
	}
	assert.Equal(t, model.IssueAcknowledged, byID["i1"].Status, "acknowledged issues survive untouched")
	assert.Equal(t, model.IssueResolved, byID["i2"].Status, "cleared conditions resolve")
}

func TestReconcileReopensOnRecurrence(t *testing.T) {
	draft, _ := completeDraft()
	now := time.Now().UTC()

	existing := []*model.ValidationIssue{
		{ID: "i1", DraftOrderID: "d1", LineID: "l1", Type: model.IssueMissingQty, Status: model.IssueResolved},
	}
	findings := []validate.Finding{
		{LineID: "l1", Type: model.IssueMissingQty, Severity: model.SeverityError, Message: "qty missing"},
	}

	out := validate.Reconcile(draft, existing, findings, now)
	require.Len(t, out, 1)
	assert.Equal(t, "i1", out[0].ID, "recurrence reopens rather than duplicates")
	assert.Equal(t, model.IssueOpen, out[0].Status)
}

func TestReconcileCreatesNewIssues(t *testing.T) {
	draft, _ := completeDraft()
	findings := []validate.Finding{
		{Type: model.IssueMissingCurrency, Severity: model.SeverityError, Message: "no currency on the order"},
	}

	out := validate.Reconcile(draft, nil, findings, time.Now().UTC())
	require.Len(t, out, 1)
	assert.Equal(t, model.IssueOpen, out[0].Status)
	assert.Equal(t, draft.ID, out[0].DraftOrderID)
	assert.Empty(t, out[0].LineID)
	assert.True(t, validate.HasBlockingError(out))
}
