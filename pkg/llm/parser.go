package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/orderflow-io/orderflow/pkg/extract"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// Guard cap: once any hallucination guard fires the record can never leave
// the review queue on its own confidence.
const guardedOverallCap = 0.55

// Guard warning codes.
const (
	WarnRepaired      = "json_repaired"
	WarnLinesCapped   = "lines_capped"
	WarnAnchorFailed  = "anchor_guard"
	WarnQtyOutOfRange = "qty_out_of_range"
	WarnLineDensity   = "line_density"
)

// GuardParams parameterizes the output guards for one parse.
type GuardParams struct {
	// SourceText is the document text layer the anchor guard checks SKU
	// tokens against. Empty (vision calls) disables the anchor guard.
	SourceText string
	PageCount  int
	MaxLines   int
	MaxQty     float64
}

// Repairer is the one permitted repair round-trip. It is a full provider
// call, charged and logged like any other.
type Repairer func(ctx context.Context, previousOutput, parseError string) (*Result, error)

// llmPayload mirrors the extraction schema.
type llmPayload struct {
	Order struct {
		ExternalOrderNumber *string               `json:"external_order_number"`
		OrderDate           *string               `json:"order_date"`
		Currency            *string               `json:"currency"`
		RequestedDelivery   *string               `json:"requested_delivery_date"`
		CustomerHint        *extract.CustomerHint `json:"customer_hint"`
		Notes               *string               `json:"notes"`
		ShipTo              *model.Address        `json:"ship_to"`
	} `json:"order"`
	Lines []struct {
		LineNo            int      `json:"line_no"`
		CustomerSKURaw    *string  `json:"customer_sku_raw"`
		Description       *string  `json:"product_description"`
		Qty               *float64 `json:"qty"`
		UOM               *string  `json:"uom"`
		UnitPrice         *float64 `json:"unit_price"`
		Currency          *string  `json:"currency"`
		RequestedDelivery *string  `json:"requested_delivery_date"`
	} `json:"lines"`
	Confidence struct {
		Order   map[string]float64   `json:"order"`
		Lines   []map[string]float64 `json:"lines"`
		Overall float64              `json:"overall"`
	} `json:"confidence"`
}

// ParseAndGuard turns raw provider output into a guarded canonical record.
// The order is fixed: syntax (with at most one repair), schema, normalize,
// guards. A schema violation is final; repair only fixes syntax.
func ParseAndGuard(ctx context.Context, raw string, repair Repairer, uomSynonyms map[string]string, gp GuardParams) (*extract.Record, error) {
	repaired := false
	trimmed := strings.TrimSpace(raw)

	decoded, err := decodeStrict(trimmed)
	if err != nil {
		if repair == nil {
			return nil, fmt.Errorf("%w: %v", model.ErrLLMOutputInvalid, err)
		}
		res, rerr := repair(ctx, trimmed, err.Error())
		if rerr != nil {
			return nil, fmt.Errorf("%w: repair failed: %v (original: %v)", model.ErrLLMOutputInvalid, rerr, err)
		}
		trimmed = strings.TrimSpace(res.RawOutput)
		decoded, err = decodeStrict(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: still unparseable after repair: %v", model.ErrLLMOutputInvalid, err)
		}
		repaired = true
	}

	if err := validateSchema(decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrLLMOutputInvalid, err)
	}

	var payload llmPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrLLMOutputInvalid, err)
	}

	rec := toRecord(&payload, uomSynonyms)
	if repaired {
		rec.AddWarning(WarnRepaired, "output required a json repair round-trip")
	}

	// Guarded output stays accepted: confidence is capped and warnings
	// attached, the draft proceeds to review instead of failing.
	guarded := applyGuards(rec, gp)
	if guarded && rec.Confidence.Overall > guardedOverallCap {
		rec.Confidence.Overall = guardedOverallCap
	}
	return rec, nil
}

// Suspicious reports whether any hallucination guard fired on the record.
// Callers classify this as a guard event distinct from invalid output.
func Suspicious(rec *extract.Record) bool {
	for _, w := range rec.Warnings {
		switch w.Code {
		case WarnAnchorFailed, WarnQtyOutOfRange, WarnLineDensity, WarnLinesCapped:
			return true
		}
	}
	return false
}

// decodeStrict parses the output into generic JSON. Anything that is not a
// single object is a syntax failure.
func decodeStrict(s string) (any, error) {
	if !strings.HasPrefix(s, "{") {
		return nil, fmt.Errorf("output does not start with '{'")
	}
	var decoded any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing content after json object")
	}
	return decoded, nil
}

func toRecord(p *llmPayload, uomSynonyms map[string]string) *extract.Record {
	rec := &extract.Record{}

	rec.Order.ExternalOrderNumber = deref(p.Order.ExternalOrderNumber)
	rec.Order.OrderDate = deref(p.Order.OrderDate)
	rec.Order.Currency = normalizeCurrency(deref(p.Order.Currency))
	rec.Order.RequestedDelivery = deref(p.Order.RequestedDelivery)
	rec.Order.CustomerHint = p.Order.CustomerHint
	rec.Order.Notes = deref(p.Order.Notes)
	rec.Order.ShipTo = p.Order.ShipTo

	for _, l := range p.Lines {
		line := extract.Line{
			CustomerSKURaw:    deref(l.CustomerSKURaw),
			Description:       deref(l.Description),
			Qty:               l.Qty,
			UOM:               extract.NormalizeUOM(deref(l.UOM), uomSynonyms),
			UnitPrice:         l.UnitPrice,
			Currency:          normalizeCurrency(deref(l.Currency)),
			RequestedDelivery: deref(l.RequestedDelivery),
		}
		rec.Lines = append(rec.Lines, line)
	}
	rec.RenumberLines()

	rec.Confidence.Order = p.Confidence.Order
	rec.Confidence.Lines = p.Confidence.Lines
	rec.Confidence.Overall = clamp01(p.Confidence.Overall)
	return rec
}

// applyGuards runs line cap, anchor, range and density guards in place and
// reports whether any fired.
func applyGuards(rec *extract.Record, gp GuardParams) bool {
	fired := false

	if gp.MaxLines > 0 && len(rec.Lines) > gp.MaxLines {
		rec.Lines = rec.Lines[:gp.MaxLines]
		if len(rec.Confidence.Lines) > gp.MaxLines {
			rec.Confidence.Lines = rec.Confidence.Lines[:gp.MaxLines]
		}
		rec.AddWarning(WarnLinesCapped, fmt.Sprintf("line count capped at %d", gp.MaxLines))
		fired = true
	}

	anchorText := normalizeAnchorText(gp.SourceText)
	for i := range rec.Lines {
		l := &rec.Lines[i]

		if anchorText != "" && !lineAnchored(l, anchorText) {
			l.Flagged = true
			halveConfidences(rec.LineConfidence(i))
			rec.AddWarning(WarnAnchorFailed, fmt.Sprintf("line %d: no sku, description token or qty found in document text", l.LineNo))
			fired = true
		}

		if gp.MaxQty > 0 && l.Qty != nil && (*l.Qty <= 0 || *l.Qty > gp.MaxQty) {
			rec.AddWarning(WarnQtyOutOfRange, fmt.Sprintf("line %d: qty %v outside (0, %.0f]", l.LineNo, *l.Qty, gp.MaxQty))
			l.Qty = nil
			fired = true
		}
	}

	if len(rec.Lines) > 200 && gp.PageCount > 0 && gp.PageCount <= 2 {
		rec.Confidence.Overall *= 0.7
		rec.AddWarning(WarnLineDensity, fmt.Sprintf("%d lines from %d page(s)", len(rec.Lines), gp.PageCount))
		fired = true
	}

	return fired
}

// lineAnchored reports whether the line is grounded in the document text:
// its raw SKU, any 8+ character description token, or its quantity must
// appear in the normalized source.
func lineAnchored(l *extract.Line, anchorText string) bool {
	if sku := normalizeAnchorText(l.CustomerSKURaw); sku != "" && strings.Contains(anchorText, sku) {
		return true
	}
	for _, tok := range strings.Fields(l.Description) {
		if len([]rune(tok)) < 8 {
			continue
		}
		if norm := normalizeAnchorText(tok); norm != "" && strings.Contains(anchorText, norm) {
			return true
		}
	}
	if l.Qty != nil {
		if qty := normalizeAnchorText(strconv.FormatFloat(*l.Qty, 'f', -1, 64)); qty != "" && strings.Contains(anchorText, qty) {
			return true
		}
	}
	return false
}

// normalizeAnchorText lowercases and strips non-alphanumerics so fragmented
// PDF text layers still anchor.
func normalizeAnchorText(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func halveConfidences(conf map[string]float64) {
	for k, v := range conf {
		conf[k] = v / 2
	}
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	switch c {
	case "€", "EURO":
		return "EUR"
	case "$":
		return "USD"
	case "£":
		return "GBP"
	}
	if len(c) == 3 {
		return c
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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
