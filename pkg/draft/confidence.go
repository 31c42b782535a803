// Package draft owns the draft order lifecycle: the state machine, the
// ready gate and the aggregated confidence scores.
package draft

import (
	"github.com/orderflow-io/orderflow/pkg/extract"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// Header field weights for extraction confidence. Normalization runs over
// the fields the extractor actually scored, so sparse-but-certain headers
// are not dragged down by absent optional fields.
var headerWeights = map[string]float64{
	"external_order_number":   0.20,
	"order_date":              0.15,
	"currency":                0.20,
	"customer_hint":           0.25,
	"requested_delivery_date": 0.10,
	"ship_to":                 0.10,
}

var lineWeights = map[string]float64{
	"customer_sku": 0.30,
	"qty":          0.30,
	"uom":          0.20,
	"unit_price":   0.20,
}

// Extraction penalties.
const (
	penaltyNoLines       = 0.60
	penaltyLowCoverage   = 0.50
	penaltyAnchorFailure = 0.70
	anchorFailureRate    = 0.30
	lowCoverageRatio     = 0.15
)

// ExtractionConfidence aggregates a record's per-field confidences into one
// score. usedVision suppresses the low-coverage penalty: the vision path
// saw the page even when the text layer did not.
func ExtractionConfidence(rec *extract.Record, textCoverage float64, usedVision bool) float64 {
	lineScore := averageLineScore(rec)
	headerScore, ok := weightedAverage(rec.Confidence.Order, headerWeights)
	if !ok {
		// No scored header fields: the lines are the only evidence.
		headerScore = lineScore
	}

	score := 0.40*headerScore + 0.60*lineScore

	if len(rec.Lines) == 0 {
		score *= penaltyNoLines
	}
	if textCoverage < lowCoverageRatio && !usedVision {
		score *= penaltyLowCoverage
	}
	if flaggedRate(rec) > anchorFailureRate {
		score *= penaltyAnchorFailure
	}
	return clamp01(score)
}

// MatchingConfidence averages per-line match confidence; a line without an
// internal SKU counts as zero.
func MatchingConfidence(lines []*model.DraftOrderLine) float64 {
	if len(lines) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range lines {
		if l.InternalSKU != "" {
			sum += l.MatchConfidence
		}
	}
	return clamp01(sum / float64(len(lines)))
}

// OverallConfidence is the weighted blend shown to the operator.
func OverallConfidence(extraction, customer, matching float64) float64 {
	return clamp01(0.45*extraction + 0.20*customer + 0.35*matching)
}

func averageLineScore(rec *extract.Record) float64 {
	if len(rec.Lines) == 0 {
		return 0
	}
	sum := 0.0
	for i := range rec.Lines {
		s, ok := weightedAverage(rec.LineConfidence(i), lineWeights)
		if ok {
			sum += s
		}
	}
	return sum / float64(len(rec.Lines))
}

// weightedAverage averages conf over the weighted fields present in it.
// ok is false when no weighted field is scored.
func weightedAverage(conf map[string]float64, weights map[string]float64) (float64, bool) {
	var sum, totalWeight float64
	for field, w := range weights {
		if v, ok := conf[field]; ok {
			sum += w * v
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return 0, false
	}
	return sum / totalWeight, true
}

func flaggedRate(rec *extract.Record) float64 {
	if len(rec.Lines) == 0 {
		return 0
	}
	flagged := 0
	for _, l := range rec.Lines {
		if l.Flagged {
			flagged++
		}
	}
	return float64(flagged) / float64(len(rec.Lines))
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
