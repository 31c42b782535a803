// Package extract turns stored documents into the canonical extraction
// record. Rule extractors (CSV, XLSX, text PDF) and the LLM extractors all
// emit the same record; the router decides which one runs.
package extract

import "github.com/orderflow-io/orderflow/pkg/model"

// Extractor identifiers. Versioned and immutable.
const (
	ExtractorRuleV1      = "rule_v1"
	ExtractorRuleCSVV1   = "rule_csv_v1"
	ExtractorRuleXLSXV1  = "rule_xlsx_v1"
	ExtractorRulePDFV1   = "rule_pdf_text_v1"
	ExtractorLLMTextV1   = "llm_text_v1"
	ExtractorLLMVisionV1 = "llm_vision_v1"
)

// CustomerHint carries whatever customer identity the source revealed.
type CustomerHint struct {
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	ERPCustomerNumber string `json:"erp_customer_number,omitempty"`
}

// OrderHeader is the header portion of the canonical record. Missing values
// are empty; no invented values. Dates are ISO-8601, currency ISO-4217.
type OrderHeader struct {
	ExternalOrderNumber string         `json:"external_order_number,omitempty"`
	OrderDate           string         `json:"order_date,omitempty"`
	Currency            string         `json:"currency,omitempty"`
	RequestedDelivery   string         `json:"requested_delivery_date,omitempty"`
	CustomerHint        *CustomerHint  `json:"customer_hint,omitempty"`
	Notes               string         `json:"notes,omitempty"`
	ShipTo              *model.Address `json:"ship_to,omitempty"`
}

// Line is one extracted order line. Qty and UnitPrice are nil when unknown.
type Line struct {
	LineNo            int      `json:"line_no"`
	CustomerSKURaw    string   `json:"customer_sku_raw,omitempty"`
	Description       string   `json:"product_description,omitempty"`
	Qty               *float64 `json:"qty,omitempty"`
	UOM               string   `json:"uom,omitempty"`
	UnitPrice         *float64 `json:"unit_price,omitempty"`
	Currency          string   `json:"currency,omitempty"`
	RequestedDelivery string   `json:"requested_delivery_date,omitempty"`
	Flagged           bool     `json:"flagged,omitempty"` // anchor guard failure
}

// Confidence carries per-field confidences for the header, per-field per
// line, and the overall score. All values are in [0,1].
type Confidence struct {
	Order   map[string]float64   `json:"order,omitempty"`
	Lines   []map[string]float64 `json:"lines,omitempty"`
	Overall float64              `json:"overall"`
}

// Warning is a non-fatal extraction finding.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record is the canonical extraction record every extractor emits.
type Record struct {
	Order            OrderHeader `json:"order"`
	Lines            []Line      `json:"lines"`
	Confidence       Confidence  `json:"confidence"`
	Warnings         []Warning   `json:"warnings,omitempty"`
	ExtractorVersion string      `json:"extractor_version"`
}

// AddWarning appends a coded warning.
func (r *Record) AddWarning(code, message string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Message: message})
}

// RenumberLines assigns dense 1..n line numbers, preserving order.
func (r *Record) RenumberLines() {
	for i := range r.Lines {
		r.Lines[i].LineNo = i + 1
	}
}

// LineConfidence returns the stored per-field confidences for line index i,
// or an empty map.
func (r *Record) LineConfidence(i int) map[string]float64 {
	if i < 0 || i >= len(r.Confidence.Lines) {
		return map[string]float64{}
	}
	return r.Confidence.Lines[i]
}
