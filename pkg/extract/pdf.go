package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// expectedCharsPerPage calibrates the text-coverage ratio: a normally
// typeset order page carries roughly this many characters of text layer.
const expectedCharsPerPage = 2500

// PDFStats is the pre-analysis the router needs to choose an extractor.
type PDFStats struct {
	PageCount         int
	TextCharsTotal    int
	TextCoverageRatio float64
	Text              string
}

// AnalyzePDF extracts the text layer and computes coverage statistics.
func AnalyzePDF(raw []byte) (*PDFStats, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("pdf open: %w", err)
	}
	stats := &PDFStats{PageCount: r.NumPage()}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	stats.Text = sb.String()
	stats.TextCharsTotal = len(strings.TrimSpace(stats.Text))
	if stats.PageCount > 0 {
		ratio := float64(stats.TextCharsTotal) / float64(stats.PageCount*expectedCharsPerPage)
		if ratio > 1 {
			ratio = 1
		}
		stats.TextCoverageRatio = ratio
	}
	return stats, nil
}

// PDFTextExtractor parses the text layer of a born-digital PDF. Line regions
// come from vertical gap clustering of positioned text fragments; table
// structure from column alignment across those lines.
type PDFTextExtractor struct {
	ColumnSynonyms map[string][]string
	UOMSynonyms    map[string]string
}

// Version implements the extraction port.
func (e *PDFTextExtractor) Version() string { return ExtractorRulePDFV1 }

type fragment struct {
	x, y float64
	s    string
}

type textLine struct {
	y     float64
	frags []fragment
}

// Extract parses raw PDF bytes into the canonical record.
func (e *PDFTextExtractor) Extract(raw []byte) (*Record, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("pdf open: %w", err)
	}

	rec := &Record{ExtractorVersion: e.Version()}
	csvLike := &CSVExtractor{ColumnSynonyms: e.ColumnSynonyms, UOMSynonyms: e.UOMSynonyms}

	for pageNo := 1; pageNo <= r.NumPage(); pageNo++ {
		page := r.Page(pageNo)
		if page.V.IsNull() {
			continue
		}
		lines := clusterLines(page.Content().Text)
		e.parseTable(lines, csvLike, rec)
	}

	if len(rec.Lines) == 0 {
		return nil, fmt.Errorf("pdf: no table lines recognized")
	}

	rec.RenumberLines()
	rec.Confidence.Order = map[string]float64{}
	rec.Confidence.Overall = ruleOverallConfidence(rec) * 0.9 // layout heuristics are weaker than a grid
	return rec, nil
}

// clusterLines groups positioned fragments into lines by vertical gap:
// fragments within 3pt of each other's baseline share a line. Words closer
// than 2pt horizontally are merged into one fragment.
func clusterLines(texts []pdf.Text) []textLine {
	const yTolerance = 3.0

	var lines []textLine
	for _, t := range texts {
		s := t.S
		if strings.TrimSpace(s) == "" {
			continue
		}
		placed := false
		for i := range lines {
			if abs(lines[i].y-t.Y) <= yTolerance {
				lines[i].frags = append(lines[i].frags, fragment{x: t.X, y: t.Y, s: s})
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, textLine{y: t.Y, frags: []fragment{{x: t.X, y: t.Y, s: s}}})
		}
	}

	// Top of page first: PDF user space has Y increasing upward.
	sort.Slice(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	for i := range lines {
		sort.Slice(lines[i].frags, func(a, b int) bool { return lines[i].frags[a].x < lines[i].frags[b].x })
		lines[i].frags = mergeAdjacent(lines[i].frags)
	}
	return lines
}

func mergeAdjacent(frags []fragment) []fragment {
	const xGap = 2.0
	var out []fragment
	for _, f := range frags {
		if n := len(out); n > 0 && f.x-out[n-1].x-float64(len(out[n-1].s))*4 < xGap {
			out[n-1].s += f.s
			continue
		}
		out = append(out, f)
	}
	return out
}

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9./-]{2,}$`)

// parseTable finds the header line via column synonyms, derives column
// x-positions, and reads following lines as rows until alignment breaks.
func (e *PDFTextExtractor) parseTable(lines []textLine, csvLike *CSVExtractor, rec *Record) {
	headerIdx := -1
	var mapping map[string]int
	for i, l := range lines {
		cells := make([]string, len(l.frags))
		for j, f := range l.frags {
			cells[j] = f.s
		}
		m := csvLike.mapHeader(cells)
		if _, hasSKU := m[colSKU]; hasSKU && len(m) >= 2 {
			headerIdx = i
			mapping = m
			break
		}
	}
	if headerIdx < 0 {
		e.parseHeuristic(lines, rec)
		return
	}

	header := lines[headerIdx]
	columnX := make([]float64, len(header.frags))
	for i, f := range header.frags {
		columnX[i] = f.x
	}

	for _, l := range lines[headerIdx+1:] {
		if len(l.frags) < 2 {
			continue
		}
		cells := assignColumns(l.frags, columnX)
		line := Line{}
		conf := map[string]float64{}

		if idx, ok := mapping[colSKU]; ok && cells[idx] != "" {
			line.CustomerSKURaw = cells[idx]
			conf["customer_sku"] = 0.9
		}
		if idx, ok := mapping[colDescription]; ok && idx < len(cells) {
			line.Description = cells[idx]
		}
		if idx, ok := mapping[colQty]; ok && idx < len(cells) {
			if q, err := parseDecimal(cells[idx], detectDecimalByte(cells[idx])); err == nil {
				line.Qty = &q
				conf["qty"] = 0.9
			}
		}
		if idx, ok := mapping[colUOM]; ok && idx < len(cells) {
			line.UOM = NormalizeUOM(cells[idx], e.UOMSynonyms)
			if line.UOM != "" {
				conf["uom"] = 0.85
			}
		}
		if idx, ok := mapping[colPrice]; ok && idx < len(cells) {
			if p, err := parseDecimal(cells[idx], detectDecimalByte(cells[idx])); err == nil {
				line.UnitPrice = &p
				conf["unit_price"] = 0.85
			}
		}

		if line.CustomerSKURaw == "" && line.Qty == nil {
			continue
		}
		rec.Lines = append(rec.Lines, line)
		rec.Confidence.Lines = append(rec.Confidence.Lines, conf)
	}
}

// parseHeuristic handles tables without a recognizable header: a line is a
// candidate row when it starts with a SKU-shaped token followed by a number.
func (e *PDFTextExtractor) parseHeuristic(lines []textLine, rec *Record) {
	for _, l := range lines {
		if len(l.frags) < 2 {
			continue
		}
		first := strings.TrimSpace(l.frags[0].s)
		if !skuPattern.MatchString(first) {
			continue
		}
		var qty *float64
		var uom, desc string
		for _, f := range l.frags[1:] {
			tok := strings.TrimSpace(f.s)
			if qty == nil {
				if q, err := parseDecimal(tok, detectDecimalByte(tok)); err == nil && q > 0 {
					qty = &q
					continue
				}
			}
			if uom == "" {
				if u := NormalizeUOM(tok, e.UOMSynonyms); u != "" {
					uom = u
					continue
				}
			}
			if len(tok) > len(desc) {
				desc = tok
			}
		}
		if qty == nil {
			continue
		}
		conf := map[string]float64{"customer_sku": 0.7, "qty": 0.7}
		if uom != "" {
			conf["uom"] = 0.6
		}
		rec.Lines = append(rec.Lines, Line{CustomerSKURaw: first, Description: desc, Qty: qty, UOM: uom})
		rec.Confidence.Lines = append(rec.Confidence.Lines, conf)
	}
}

// assignColumns buckets fragments into the nearest header column by x.
func assignColumns(frags []fragment, columnX []float64) []string {
	cells := make([]string, len(columnX))
	for _, f := range frags {
		best := 0
		bestDist := abs(f.x - columnX[0])
		for i := 1; i < len(columnX); i++ {
			if d := abs(f.x - columnX[i]); d < bestDist {
				best = i
				bestDist = d
			}
		}
		if cells[best] != "" {
			cells[best] += " "
		}
		cells[best] += strings.TrimSpace(f.s)
	}
	return cells
}

func detectDecimalByte(v string) byte {
	if strings.LastIndexByte(v, ',') > strings.LastIndexByte(v, '.') {
		return ','
	}
	return '.'
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
