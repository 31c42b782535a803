package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXExtractor parses the first sheet of a workbook. The header is the
// first row with at least three non-empty strings whose following row does
// not carry formula results.
type XLSXExtractor struct {
	ColumnSynonyms map[string][]string
	UOMSynonyms    map[string]string
}

// Version implements the extraction port.
func (e *XLSXExtractor) Version() string { return ExtractorRuleXLSXV1 }

// Extract parses raw XLSX bytes into the canonical record.
func (e *XLSXExtractor) Extract(raw []byte) (*Record, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("xlsx open: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx: workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx rows: %w", err)
	}

	headerIdx := e.findHeaderRow(f, sheet, rows)
	if headerIdx < 0 || headerIdx+1 >= len(rows) {
		return nil, fmt.Errorf("xlsx: no header row found")
	}

	// Reuse the CSV column mapping and number handling on the cell grid.
	csvLike := &CSVExtractor{ColumnSynonyms: e.ColumnSynonyms, UOMSynonyms: e.UOMSynonyms}
	mapping := csvLike.mapHeader(rows[headerIdx])
	if _, ok := mapping[colSKU]; !ok {
		if _, ok := mapping[colDescription]; !ok {
			return nil, fmt.Errorf("xlsx: header row maps neither sku nor description")
		}
	}

	rec := &Record{ExtractorVersion: e.Version()}
	dataRows := rows[headerIdx+1:]
	decimals := detectDecimalSeparators(dataRows, mapping)

	for _, row := range dataRows {
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

// findHeaderRow returns the index of the first row with >= 3 non-empty
// string cells where the next row carries plain values, not formula results.
func (e *XLSXExtractor) findHeaderRow(f *excelize.File, sheet string, rows [][]string) int {
	for i, row := range rows {
		nonEmpty := 0
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				nonEmpty++
			}
		}
		if nonEmpty < 3 {
			continue
		}
		if i+1 < len(rows) && rowHasFormula(f, sheet, i+2, rows[i+1]) {
			continue
		}
		return i
	}
	return -1
}

// rowHasFormula checks the cells of a 1-based sheet row for formulas.
func rowHasFormula(f *excelize.File, sheet string, rowNum int, row []string) bool {
	for col := range row {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			continue
		}
		if formula, err := f.GetCellFormula(sheet, cell); err == nil && formula != "" {
			return true
		}
	}
	return false
}
