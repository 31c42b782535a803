package model

import "time"

// InboundMessage is one arrival event, from SMTP or upload.
// (tenant, source, provider_message_id) is unique when the id is present.
type InboundMessage struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	Source            InboundSource `json:"source"`
	ProviderMessageID string        `json:"provider_message_id"`
	SenderAddress     string        `json:"sender_address"`
	ReceivedAt        time.Time     `json:"received_at"`
	RawStorageKey     string        `json:"raw_storage_key"`
	Status            InboundStatus `json:"status"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Document is one parsed attachment or direct upload.
// (tenant, sha256, filename, size) is unique.
type Document struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	InboundMessageID  string         `json:"inbound_message_id,omitempty"` // empty for direct upload
	Filename          string         `json:"filename"`
	MediaType         string         `json:"media_type"`
	SizeBytes         int64          `json:"size_bytes"`
	SHA256            string         `json:"sha256"` // lowercase hex
	RawStorageKey     string         `json:"raw_storage_key"`
	PageCount         int            `json:"page_count,omitempty"`
	TextCoverageRatio float64        `json:"text_coverage_ratio,omitempty"`
	TextCharsTotal    int            `json:"text_chars_total,omitempty"`
	LayoutFingerprint string         `json:"layout_fingerprint,omitempty"`
	Status            DocumentStatus `json:"status"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty"` // soft delete
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// SoftDeleted reports whether the document was soft-deleted. Drafts keep a
// dangling reference and surface a warning on read.
func (d *Document) SoftDeleted() bool { return d.DeletedAt != nil }

// ExtractionRun is one attempt to extract a Document. Multiple runs per
// document are permitted; one run per (document, extractor) at a time.
type ExtractionRun struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	DocumentID string     `json:"document_id"`
	Extractor  string     `json:"extractor"` // rule_v1, llm_text_v1, llm_vision_v1, ...
	Status     RunStatus  `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     []byte     `json:"output,omitempty"` // canonical extraction record, JSON
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
