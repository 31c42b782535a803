package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/textsim"
)

// Source scores.
const (
	mapScoreConfirmed = 1.00
	mapScoreSuggested = 0.92
	descTriWeight     = 0.7
)

// Penalty factors.
const (
	penaltyUOMCompatible   = 1.0
	penaltyUOMUnknown      = 0.9
	penaltyUOMIncompatible = 0.2

	penaltyPriceOK     = 1.0
	penaltyPriceOff    = 0.85
	penaltyPriceSevere = 0.65
)

const candidatesPerSource = 30

// MappingStore looks up learned SKU associations.
type MappingStore interface {
	// FindActive returns the CONFIRMED or SUGGESTED mapping for the key,
	// or model.ErrNotFound.
	FindActive(ctx context.Context, customerID, skuNorm string) (*model.SkuMapping, error)
}

// ProductSource lists the tenant's active catalog.
type ProductSource interface {
	ListActive(ctx context.Context) ([]*model.Product, error)
}

// EmbeddingHit is one nearest-neighbor result.
type EmbeddingHit struct {
	ProductID string
	Cosine    float64
}

// VectorIndex searches product embeddings by cosine similarity.
type VectorIndex interface {
	Nearest(ctx context.Context, vector []float32, k int) ([]EmbeddingHit, error)
}

// PriceSource resolves the applicable customer price row.
type PriceSource interface {
	// Lookup picks the row with the greatest tier floor <= qty whose
	// validity covers the date, or model.ErrNotFound.
	Lookup(ctx context.Context, customerID, internalSKU, currency string, qty float64, date time.Time) (*model.CustomerPrice, error)
}

// Thresholds are the tenant's matching gates.
type Thresholds struct {
	AutoApply      float64 // default 0.92
	AutoApplyGap   float64 // default 0.10
	LowConfidence  float64 // default 0.75
	PriceTolerance float64 // default 0.05
}

// Outcome is the matcher's verdict for one line.
type Outcome struct {
	InternalSKU   string
	Status        model.MatchStatus
	Confidence    float64
	Method        string
	LowConfidence bool
	Debug         *model.MatchDebug
}

// Matcher ranks catalog products for draft lines.
type Matcher struct {
	mappings MappingStore
	products ProductSource
	vectors  VectorIndex
	prices   PriceSource
	embedder llm.Embedder
	log      *slog.Logger

	Thresholds Thresholds
}

func NewMatcher(mappings MappingStore, products ProductSource, vectors VectorIndex, prices PriceSource, embedder llm.Embedder, th Thresholds) *Matcher {
	return &Matcher{
		mappings:   mappings,
		products:   products,
		vectors:    vectors,
		prices:     prices,
		embedder:   embedder,
		log:        slog.Default().With("component", "match"),
		Thresholds: th,
	}
}

type candidateScores struct {
	sMap, sTri, sEmb float64
}

// MatchLine scores the line against the catalog. The three candidate
// sources run in parallel; their scores merge per internal SKU.
func (m *Matcher) MatchLine(ctx context.Context, customerID string, line *model.DraftOrderLine, orderDate time.Time) (*Outcome, error) {
	products, err := m.products.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("match: list products: %w", err)
	}
	bySKU := make(map[string]*model.Product, len(products))
	byID := make(map[string]*model.Product, len(products))
	for _, p := range products {
		bySKU[p.InternalSKU] = p
		byID[p.ID] = p
	}

	skuNorm := NormalizeCustomerSKU(line.CustomerSKURaw)

	var (
		mapping *model.SkuMapping
		triTop  map[string]float64
		embTop  map[string]float64
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if skuNorm == "" || customerID == "" {
			return nil
		}
		found, err := m.mappings.FindActive(gctx, customerID, skuNorm)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mapping lookup: %w", err)
		}
		mapping = found
		return nil
	})

	g.Go(func() error {
		triTop = trigramCandidates(products, skuNorm, line.Description)
		return nil
	})

	g.Go(func() error {
		if m.embedder == nil || m.vectors == nil {
			return nil
		}
		if skuNorm == "" && line.Description == "" {
			return nil
		}
		vec, err := m.embedder.Embed(gctx, QueryEmbeddingText(line.CustomerSKURaw, line.Description, line.UOM))
		if err != nil {
			// Embeddings are an enrichment source; the other two carry on.
			m.log.Warn("query embedding failed", "err", err)
			return nil
		}
		hits, err := m.vectors.Nearest(gctx, vec, candidatesPerSource)
		if err != nil {
			m.log.Warn("vector search failed", "err", err)
			return nil
		}
		embTop = map[string]float64{}
		for _, h := range hits {
			if p, ok := byID[h.ProductID]; ok {
				embTop[p.InternalSKU] = (h.Cosine + 1) / 2
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	merged := map[string]*candidateScores{}
	score := func(sku string) *candidateScores {
		cs, ok := merged[sku]
		if !ok {
			cs = &candidateScores{}
			merged[sku] = cs
		}
		return cs
	}
	if mapping != nil {
		switch mapping.Status {
		case model.MappingConfirmed:
			score(mapping.InternalSKU).sMap = mapScoreConfirmed
		case model.MappingSuggested:
			score(mapping.InternalSKU).sMap = mapScoreSuggested
		}
	}
	for sku, s := range triTop {
		score(sku).sTri = s
	}
	for sku, s := range embTop {
		score(sku).sEmb = s
	}

	ranked := make([]model.MatchCandidate, 0, len(merged))
	for sku, cs := range merged {
		cand := model.MatchCandidate{
			InternalSKU: sku,
			MapScore:    cs.sMap,
			TriScore:    cs.sTri,
			EmbScore:    cs.sEmb,
			UOMPenalty:  m.uomPenalty(bySKU[sku], line.UOM),
			Method:      method(cs),
		}
		cand.PricePenalty = m.pricePenalty(ctx, customerID, sku, line, orderDate)

		base := 0.62*cs.sTri + 0.38*cs.sEmb
		if v := 0.99 * cs.sMap; v > base {
			base = v
		}
		cand.Confidence = clamp01(base * cand.UOMPenalty * cand.PricePenalty)
		ranked = append(ranked, cand)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].InternalSKU < ranked[j].InternalSKU
	})

	out := &Outcome{Status: model.MatchUnmatched}
	if len(ranked) > 0 {
		top := ranked[0]
		out.Confidence = top.Confidence
		out.Method = top.Method
		gap := top.Confidence
		if len(ranked) > 1 {
			gap = top.Confidence - ranked[1].Confidence
		}
		if top.Confidence >= m.Thresholds.AutoApply && gap >= m.Thresholds.AutoApplyGap {
			out.InternalSKU = top.InternalSKU
			out.Status = model.MatchSuggested
		}
		out.LowConfidence = top.Confidence < m.Thresholds.LowConfidence

		debug := ranked
		if len(debug) > 5 {
			debug = debug[:5]
		}
		out.Debug = &model.MatchDebug{Candidates: debug}
	} else {
		out.LowConfidence = true
	}
	return out, nil
}

// trigramCandidates scores every product by trigram similarity and keeps
// the top 30.
func trigramCandidates(products []*model.Product, skuNorm, description string) map[string]float64 {
	type scored struct {
		sku string
		s   float64
	}
	var all []scored
	for _, p := range products {
		var simSKU, simDesc float64
		if skuNorm != "" {
			simSKU = textsim.Dice(p.InternalSKU, skuNorm)
		}
		if description != "" {
			simDesc = textsim.Dice(p.Name+" "+p.Description, description)
		}
		s := simSKU
		if v := descTriWeight * simDesc; v > s {
			s = v
		}
		if s > 0 {
			all = append(all, scored{sku: p.InternalSKU, s: s})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].s != all[j].s {
			return all[i].s > all[j].s
		}
		return all[i].sku < all[j].sku
	})
	if len(all) > candidatesPerSource {
		all = all[:candidatesPerSource]
	}
	out := make(map[string]float64, len(all))
	for _, c := range all {
		out[c.sku] = c.s
	}
	return out
}

func (m *Matcher) uomPenalty(p *model.Product, uom string) float64 {
	if p == nil || uom == "" {
		return penaltyUOMUnknown
	}
	if p.ConvertibleTo(uom) {
		return penaltyUOMCompatible
	}
	return penaltyUOMIncompatible
}

func (m *Matcher) pricePenalty(ctx context.Context, customerID, internalSKU string, line *model.DraftOrderLine, orderDate time.Time) float64 {
	if m.prices == nil || customerID == "" || line.UnitPrice == nil {
		return penaltyPriceOK
	}
	qty := 0.0
	if line.Qty != nil {
		qty = *line.Qty
	}
	price, err := m.prices.Lookup(ctx, customerID, internalSKU, line.Currency, qty, orderDate)
	if errors.Is(err, model.ErrNotFound) {
		return penaltyPriceOK
	}
	if err != nil {
		m.log.Warn("price lookup failed", "internal_sku", internalSKU, "err", err)
		return penaltyPriceOK
	}
	if price.UnitPrice <= 0 {
		return penaltyPriceOK
	}
	deviation := abs(*line.UnitPrice-price.UnitPrice) / price.UnitPrice
	switch {
	case deviation <= m.Thresholds.PriceTolerance:
		return penaltyPriceOK
	case deviation <= 2*m.Thresholds.PriceTolerance:
		return penaltyPriceOff
	default:
		return penaltyPriceSevere
	}
}

func method(cs *candidateScores) string {
	switch {
	case cs.sMap > 0:
		return "mapping"
	case cs.sTri > 0 && cs.sEmb > 0:
		return "hybrid"
	case cs.sEmb > 0:
		return "embedding"
	default:
		return "trigram"
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
