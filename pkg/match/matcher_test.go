package match_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
)

type memMappings struct {
	rows map[string]*model.SkuMapping // customerID|skuNorm
}

func (m *memMappings) FindActive(_ context.Context, customerID, skuNorm string) (*model.SkuMapping, error) {
	if r, ok := m.rows[customerID+"|"+skuNorm]; ok {
		return r, nil
	}
	return nil, model.ErrNotFound
}

type memProducts struct {
	products []*model.Product
}

func (m *memProducts) ListActive(context.Context) ([]*model.Product, error) {
	return m.products, nil
}

type memPrices struct {
	rows []*model.CustomerPrice
}

func (m *memPrices) Lookup(_ context.Context, customerID, internalSKU, _ string, qty float64, date time.Time) (*model.CustomerPrice, error) {
	var best *model.CustomerPrice
	for _, r := range m.rows {
		if r.CustomerID != customerID || r.InternalSKU != internalSKU {
			continue
		}
		if !r.Covers(date) || r.MinQty > qty {
			continue
		}
		if best == nil || r.MinQty > best.MinQty {
			best = r
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	return best, nil
}

func defaultThresholds() match.Thresholds {
	return match.Thresholds{AutoApply: 0.92, AutoApplyGap: 0.10, LowConfidence: 0.75, PriceTolerance: 0.05}
}

func product(sku, name, baseUOM string, conversions map[string]float64) *model.Product {
	return &model.Product{ID: "p-" + sku, InternalSKU: sku, Name: name, BaseUOM: baseUOM, UOMConversions: conversions, Active: true}
}

func line(rawSKU, desc, uom string, qty float64) *model.DraftOrderLine {
	return &model.DraftOrderLine{CustomerSKURaw: rawSKU, Description: desc, UOM: uom, Qty: &qty}
}

func TestMatchConfirmedMappingAutoApplies(t *testing.T) {
	// A confirmed mapping learned from "AB12" must auto-apply for the raw
	// form "AB-12" with confidence >= 0.99 before penalties.
	mappings := &memMappings{rows: map[string]*model.SkuMapping{
		"c1|AB12": {CustomerID: "c1", CustomerSKUNorm: "AB12", InternalSKU: "INT-999", Status: model.MappingConfirmed},
	}}
	products := &memProducts{products: []*model.Product{
		product("INT-999", "Kupferrohr 15mm", "ST", nil),
		product("INT-100", "Stahlrohr 20mm", "ST", nil),
	}}

	m := match.NewMatcher(mappings, products, nil, nil, nil, defaultThresholds())
	out, err := m.MatchLine(context.Background(), "c1", line("AB-12", "Kupferrohr", "ST", 10), time.Now())
	require.NoError(t, err)

	assert.Equal(t, "INT-999", out.InternalSKU)
	assert.Equal(t, model.MatchSuggested, out.Status)
	assert.GreaterOrEqual(t, out.Confidence, 0.99)
	assert.Equal(t, "mapping", out.Method)
}

func TestMatchSuggestedMappingScoresLower(t *testing.T) {
	mappings := &memMappings{rows: map[string]*model.SkuMapping{
		"c1|AB12": {CustomerID: "c1", CustomerSKUNorm: "AB12", InternalSKU: "INT-999", Status: model.MappingSuggested},
	}}
	products := &memProducts{products: []*model.Product{product("INT-999", "Kupferrohr", "ST", nil)}}

	m := match.NewMatcher(mappings, products, nil, nil, nil, defaultThresholds())
	out, err := m.MatchLine(context.Background(), "c1", line("AB-12", "", "ST", 10), time.Now())
	require.NoError(t, err)

	// 0.99 * 0.92
	assert.InDelta(t, 0.9108, out.Confidence, 1e-4)
	assert.Equal(t, model.MatchUnmatched, out.Status, "below the auto-apply threshold")
}

func TestMatchUOMIncompatiblePenalty(t *testing.T) {
	mappings := &memMappings{rows: map[string]*model.SkuMapping{
		"c1|AB12": {CustomerID: "c1", CustomerSKUNorm: "AB12", InternalSKU: "INT-999", Status: model.MappingConfirmed},
	}}
	products := &memProducts{products: []*model.Product{
		product("INT-999", "Kupferrohr", "ST", map[string]float64{"KAR": 10}),
	}}

	m := match.NewMatcher(mappings, products, nil, nil, nil, defaultThresholds())
	out, err := m.MatchLine(context.Background(), "c1", line("AB-12", "", "KG", 10), time.Now())
	require.NoError(t, err)

	// 0.99 * 0.2
	assert.InDelta(t, 0.198, out.Confidence, 1e-4)
	assert.Empty(t, out.InternalSKU)
	assert.True(t, out.LowConfidence)
}

func TestMatchPricePenalties(t *testing.T) {
	mappings := &memMappings{rows: map[string]*model.SkuMapping{
		"c1|AB12": {CustomerID: "c1", CustomerSKUNorm: "AB12", InternalSKU: "INT-999", Status: model.MappingConfirmed},
	}}
	products := &memProducts{products: []*model.Product{product("INT-999", "Kupferrohr", "ST", nil)}}
	prices := &memPrices{rows: []*model.CustomerPrice{
		{CustomerID: "c1", InternalSKU: "INT-999", UnitPrice: 10.00, ValidFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}

	m := match.NewMatcher(mappings, products, nil, prices, nil, defaultThresholds())
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		unitPrice float64
		want      float64
	}{
		{"within tolerance", 10.30, 0.99},
		{"mismatch", 10.80, 0.99 * 0.85},
		{"severe mismatch", 15.00, 0.99 * 0.65},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := line("AB-12", "", "ST", 10)
			l.UnitPrice = &tc.unitPrice
			out, err := m.MatchLine(context.Background(), "c1", l, now)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, out.Confidence, 1e-4)
		})
	}
}

func TestMatchTrigramFallback(t *testing.T) {
	products := &memProducts{products: []*model.Product{
		product("KR-15-CU", "Kupferrohr 15mm", "ST", nil),
		product("SR-20-ST", "Stahlrohr 20mm", "ST", nil),
	}}

	m := match.NewMatcher(&memMappings{}, products, nil, nil, nil, defaultThresholds())
	out, err := m.MatchLine(context.Background(), "c1", line("KR15CU", "Kupferrohr 15 mm", "ST", 5), time.Now())
	require.NoError(t, err)

	require.NotNil(t, out.Debug)
	require.NotEmpty(t, out.Debug.Candidates)
	assert.Equal(t, "KR-15-CU", out.Debug.Candidates[0].InternalSKU)
	assert.Equal(t, "trigram", out.Debug.Candidates[0].Method)
}

func TestMatchTieBreakIsLexicographic(t *testing.T) {
	// Identical products always rank by internal SKU so re-runs are stable.
	products := &memProducts{products: []*model.Product{
		product("INT-B", "Kupferrohr 15mm", "ST", nil),
		product("INT-A", "Kupferrohr 15mm", "ST", nil),
	}}

	m := match.NewMatcher(&memMappings{}, products, nil, nil, nil, defaultThresholds())
	out, err := m.MatchLine(context.Background(), "c1", line("", "Kupferrohr 15mm", "ST", 5), time.Now())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(out.Debug.Candidates), 2)
	assert.Equal(t, "INT-A", out.Debug.Candidates[0].InternalSKU)
	assert.Empty(t, out.InternalSKU, "a zero gap never auto-applies")
}

func TestMatchNoCandidates(t *testing.T) {
	m := match.NewMatcher(&memMappings{}, &memProducts{}, nil, nil, nil, defaultThresholds())
	out, err := m.MatchLine(context.Background(), "c1", line("XX-1", "", "ST", 1), time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.MatchUnmatched, out.Status)
	assert.Zero(t, out.Confidence)
	assert.True(t, out.LowConfidence)
}
