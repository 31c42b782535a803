package model

import "time"

// ReadyCheck is the stored result of the ready gate.
type ReadyCheck struct {
	IsReady         bool      `json:"is_ready"`
	BlockingReasons []string  `json:"blocking_reasons,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// CustomerCandidate is the denormalized top-candidate cache on a draft.
type CustomerCandidate struct {
	CustomerID   string  `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	Score        float64 `json:"score"`
}

// Address is a ship-to or bill-to address record.
type Address struct {
	Company string `json:"company,omitempty"`
	Street  string `json:"street,omitempty"`
	Zip     string `json:"zip,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// DraftOrder is the aggregate root of the intake-to-approval pipeline.
// Lines and validation issues exist only in its context.
type DraftOrder struct {
	ID                   string              `json:"id"`
	TenantID             string              `json:"tenant_id"`
	SourceDocumentID     string              `json:"source_document_id"`
	CustomerID           string              `json:"customer_id,omitempty"`
	ExternalOrderNumber  string              `json:"external_order_number,omitempty"`
	OrderDate            string              `json:"order_date,omitempty"` // ISO-8601
	Currency             string              `json:"currency,omitempty"`   // ISO 4217
	RequestedDelivery    string              `json:"requested_delivery_date,omitempty"`
	ShipTo               *Address            `json:"ship_to,omitempty"`
	BillTo               *Address            `json:"bill_to,omitempty"`
	Notes                string              `json:"notes,omitempty"`
	Status               DraftStatus         `json:"status"`
	ExtractionConfidence float64             `json:"extraction_confidence"`
	CustomerConfidence   float64             `json:"customer_confidence"`
	MatchingConfidence   float64             `json:"matching_confidence"`
	ConfidenceScore      float64             `json:"confidence_score"`
	Ready                *ReadyCheck         `json:"ready_check,omitempty"`
	TopCandidates        []CustomerCandidate `json:"top_candidates,omitempty"` // denormalized, max 5
	ApprovedBy           string              `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time          `json:"approved_at,omitempty"`
	ERPOrderID           string              `json:"erp_order_id,omitempty"`
	Version              int64               `json:"version"` // optimistic concurrency
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// MatchDebug carries the ranked candidates behind a line's match decision.
type MatchDebug struct {
	Candidates []MatchCandidate `json:"candidates,omitempty"` // top 5
}

// MatchCandidate is one scored product candidate.
type MatchCandidate struct {
	InternalSKU  string  `json:"internal_sku"`
	Confidence   float64 `json:"confidence"`
	Method       string  `json:"method"` // mapping, trigram, embedding, hybrid
	MapScore     float64 `json:"s_map,omitempty"`
	TriScore     float64 `json:"s_tri,omitempty"`
	EmbScore     float64 `json:"s_emb,omitempty"`
	UOMPenalty   float64 `json:"p_uom,omitempty"`
	PricePenalty float64 `json:"p_price,omitempty"`
}

// DraftOrderLine is an ordered child of DraftOrder. Line numbers are dense
// 1..n within a draft.
type DraftOrderLine struct {
	ID                string      `json:"id"`
	TenantID          string      `json:"tenant_id"`
	DraftOrderID      string      `json:"draft_order_id"`
	LineNo            int         `json:"line_no"`
	CustomerSKURaw    string      `json:"customer_sku_raw,omitempty"`
	CustomerSKUNorm   string      `json:"customer_sku_norm,omitempty"`
	Description       string      `json:"product_description,omitempty"`
	Qty               *float64    `json:"qty,omitempty"`
	UOM               string      `json:"uom,omitempty"`
	UnitPrice         *float64    `json:"unit_price,omitempty"`
	Currency          string      `json:"currency,omitempty"`
	RequestedDelivery string      `json:"requested_delivery_date,omitempty"`
	InternalSKU       string      `json:"internal_sku,omitempty"`
	MatchStatus       MatchStatus `json:"match_status"`
	MatchConfidence   float64     `json:"match_confidence"`
	MatchMethod       string      `json:"match_method,omitempty"`
	Debug             *MatchDebug `json:"match_debug,omitempty"`
	Version           int64       `json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ValidationIssue is a finding attached to a draft or one of its lines.
// Identity for idempotent re-runs is (type, target): target is the line id
// when LineID is set, otherwise the draft itself.
type ValidationIssue struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	DraftOrderID string         `json:"draft_order_id"`
	LineID       string         `json:"line_id,omitempty"`
	Type         IssueType      `json:"type"`
	Severity     IssueSeverity  `json:"severity"`
	Status       IssueStatus    `json:"status"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TargetID returns the issue identity target: line id or draft id.
func (v *ValidationIssue) TargetID() string {
	if v.LineID != "" {
		return v.LineID
	}
	return v.DraftOrderID
}

// CustomerDetectionCandidate is a scored (draft, customer) pair with the
// signal record that produced the score. At most one SELECTED per draft.
type CustomerDetectionCandidate struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	DraftOrderID string             `json:"draft_order_id"`
	CustomerID   string             `json:"customer_id"`
	Score        float64            `json:"score"`
	Signals      map[string]float64 `json:"signals,omitempty"` // signal id -> score
	Status       CandidateStatus    `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
