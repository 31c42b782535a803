package extract

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Canonical column roles the rule extractors map headers onto.
const (
	colSKU         = "customer_sku"
	colDescription = "description"
	colQty         = "qty"
	colUOM         = "uom"
	colPrice       = "unit_price"
	colCurrency    = "currency"
	colDelivery    = "requested_delivery_date"
)

// defaultColumnSynonyms are the closed-domain fallbacks used when the tenant
// profile has no mapping for a header.
var defaultColumnSynonyms = map[string][]string{
	colSKU:         {"artikelnummer", "artikel-nr", "artikelnr", "art.nr", "art-nr", "artnr", "artikel", "sku", "item", "item no", "item number", "article", "article no", "part no", "material"},
	colDescription: {"bezeichnung", "beschreibung", "artikelbezeichnung", "description", "desc", "name", "produkt", "product"},
	colQty:         {"menge", "anzahl", "qty", "quantity", "amount", "stueck", "stück"},
	colUOM:         {"einheit", "mengeneinheit", "me", "uom", "unit", "unit of measure"},
	colPrice:       {"preis", "einzelpreis", "ep", "price", "unit price", "unitprice", "netto", "net price"},
	colCurrency:    {"waehrung", "währung", "currency", "curr"},
	colDelivery:    {"lieferdatum", "liefertermin", "wunschtermin", "delivery date", "delivery", "requested delivery"},
}

// CSVExtractor parses delimiter-separated order files into the canonical
// record. The delimiter is auto-detected among comma, semicolon and tab by
// header-row entropy; decimal separators are detected per column.
type CSVExtractor struct {
	// ColumnSynonyms is the tenant's header mapping, canonical column ->
	// accepted header names. Merged over the built-in fallbacks.
	ColumnSynonyms map[string][]string
	// UOMSynonyms is the tenant's unit mapping.
	UOMSynonyms map[string]string
}

// Version implements the extraction port.
func (e *CSVExtractor) Version() string { return ExtractorRuleCSVV1 }

// Extract parses raw CSV bytes. A missing or unmappable header row is an
// extraction failure.
func (e *CSVExtractor) Extract(raw []byte) (*Record, error) {
	text := string(raw)
	delim := detectDelimiter(text)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parse: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv: no data rows below header")
	}

	mapping := e.mapHeader(rows[0])
	if _, ok := mapping[colSKU]; !ok {
		if _, ok := mapping[colDescription]; !ok {
			return nil, fmt.Errorf("csv: header row maps neither sku nor description")
		}
	}

	rec := &Record{ExtractorVersion: e.Version()}
	decimals := detectDecimalSeparators(rows[1:], mapping)

	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		line := Line{}
		conf := map[string]float64{}

		if idx, ok := mapping[colSKU]; ok && idx < len(row) {
			line.CustomerSKURaw = strings.TrimSpace(row[idx])
			if line.CustomerSKURaw != "" {
				conf["customer_sku"] = 0.98
			}
		}
		if idx, ok := mapping[colDescription]; ok && idx < len(row) {
			line.Description = strings.TrimSpace(row[idx])
		}
		if idx, ok := mapping[colQty]; ok && idx < len(row) {
			if q, err := parseDecimal(row[idx], decimals[colQty]); err == nil {
				line.Qty = &q
				conf["qty"] = 0.98
			}
		}
		if idx, ok := mapping[colUOM]; ok && idx < len(row) {
			rawUOM := strings.TrimSpace(row[idx])
			line.UOM = NormalizeUOM(rawUOM, e.UOMSynonyms)
			if line.UOM != "" {
				conf["uom"] = 0.95
			} else if rawUOM != "" {
				rec.AddWarning("UNKNOWN_UOM", fmt.Sprintf("unit %q not in canonical set", rawUOM))
			}
		}
		if idx, ok := mapping[colPrice]; ok && idx < len(row) {
			if p, err := parseDecimal(row[idx], decimals[colPrice]); err == nil {
				line.UnitPrice = &p
				conf["unit_price"] = 0.95
			}
		}
		if idx, ok := mapping[colCurrency]; ok && idx < len(row) {
			line.Currency = strings.ToUpper(strings.TrimSpace(row[idx]))
		}
		if idx, ok := mapping[colDelivery]; ok && idx < len(row) {
			line.RequestedDelivery = normalizeDate(row[idx])
		}

		if line.CustomerSKURaw == "" && line.Description == "" && line.Qty == nil {
			continue
		}
		rec.Lines = append(rec.Lines, line)
		rec.Confidence.Lines = append(rec.Confidence.Lines, conf)
	}

	rec.RenumberLines()
	rec.Confidence.Order = map[string]float64{}
	rec.Confidence.Overall = ruleOverallConfidence(rec)
	return rec, nil
}

// mapHeader resolves header cells to canonical columns. First match wins per
// column; tenant synonyms take precedence.
func (e *CSVExtractor) mapHeader(header []string) map[string]int {
	mapping := make(map[string]int)
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		if name == "" {
			continue
		}
		col := e.resolveColumn(name)
		if col == "" {
			continue
		}
		if _, taken := mapping[col]; !taken {
			mapping[col] = i
		}
	}
	return mapping
}

func (e *CSVExtractor) resolveColumn(name string) string {
	for col, synonyms := range e.ColumnSynonyms {
		for _, s := range synonyms {
			if strings.EqualFold(s, name) {
				return col
			}
		}
	}
	for col, synonyms := range defaultColumnSynonyms {
		for _, s := range synonyms {
			if s == name {
				return col
			}
		}
	}
	return ""
}

// detectDelimiter picks the candidate that yields the most fields on the
// header row, with consistency across the first rows as a tie-breaker.
func detectDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 6)
	candidates := []rune{',', ';', '\t'}

	best := ','
	bestScore := -1
	for _, cand := range candidates {
		headerFields := strings.Count(lines[0], string(cand)) + 1
		if headerFields < 2 {
			continue
		}
		consistent := 0
		for _, l := range lines[1:] {
			if strings.TrimSpace(l) == "" {
				continue
			}
			if strings.Count(l, string(cand))+1 == headerFields {
				consistent++
			}
		}
		score := headerFields*10 + consistent
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

// detectDecimalSeparators inspects each numeric column: a comma with no dot,
// or a comma to the right of the last dot, marks a comma-decimal column.
func detectDecimalSeparators(rows [][]string, mapping map[string]int) map[string]byte {
	out := map[string]byte{colQty: '.', colPrice: '.'}
	for _, col := range []string{colQty, colPrice} {
		idx, ok := mapping[col]
		if !ok {
			continue
		}
		for _, row := range rows {
			if idx >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[idx])
			lastComma := strings.LastIndexByte(v, ',')
			lastDot := strings.LastIndexByte(v, '.')
			if lastComma > lastDot {
				out[col] = ','
				break
			}
			if lastDot > lastComma {
				out[col] = '.'
				break
			}
		}
	}
	return out
}

// parseDecimal parses a number with the detected decimal separator,
// stripping the other separator as a thousands mark.
func parseDecimal(raw string, decimal byte) (float64, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, fmt.Errorf("empty")
	}
	if decimal == ',' {
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, ",", ".")
	} else {
		v = strings.ReplaceAll(v, ",", "")
	}
	return strconv.ParseFloat(v, 64)
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ruleOverallConfidence scores a rule extraction: the mean per-line field
// confidence, floored at 0.2 when any lines exist and 0 otherwise.
func ruleOverallConfidence(rec *Record) float64 {
	if len(rec.Lines) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, conf := range rec.Confidence.Lines {
		for _, v := range conf {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0.2
	}
	avg := sum / float64(n)
	if avg < 0.2 {
		return 0.2
	}
	return avg
}
