package model

import "time"

// AICallLog is an append-only record of one provider invocation. Successful
// calls are unique per (tenant, call_type, input_hash) and serve as the
// idempotence cache. The input hash is computed over a canonicalized
// (template-id, truncated-prompt) tuple, never over raw document content.
type AICallLog struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	CallType     string    `json:"call_type"` // template id, e.g. pdf_extract_text_v1
	InputHash    string    `json:"input_hash"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMS    int64     `json:"latency_ms"`
	CostMicros   int64     `json:"cost_micros"`
	Succeeded    bool      `json:"succeeded"`
	Output       string    `json:"output,omitempty"`
	Prompt       string    `json:"prompt,omitempty"` // stored only on tenant opt-in
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeedbackEvent is an append-only record of one operator correction.
type FeedbackEvent struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	ActorID           string         `json:"actor_id"`
	Kind              string         `json:"kind"` // mapping_confirm, mapping_reject, field_edit, customer_select, issue_override
	DraftOrderID      string         `json:"draft_order_id,omitempty"`
	LineID            string         `json:"line_id,omitempty"`
	LayoutFingerprint string         `json:"layout_fingerprint,omitempty"`
	Before            map[string]any `json:"before,omitempty"`
	After             map[string]any `json:"after,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// AuditEntry is an append-only, actor-attributed action record with
// before/after snapshots. Never updated; retention is a purge outside the
// core.
type AuditEntry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"` // approve, push, mapping_confirm, status_transition, ...
	Resource  string         `json:"resource"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
