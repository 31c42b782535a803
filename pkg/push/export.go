package push

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// ExportVersion identifies the export record layout. A layout change is a
// new version string.
const ExportVersion = "orderflow_export_json_v1"

// Export is one persisted push artifact. Repeat pushes return the stored
// record instead of producing a new file.
type Export struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	DraftOrderID   string    `json:"draft_order_id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Filename       string    `json:"filename"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExportInput bundles everything the export record needs.
type ExportInput struct {
	TenantSlug string
	Draft      *model.DraftOrder
	Lines      []*model.DraftOrderLine
	Customer   *model.Customer
	Document   *model.Document
	CreatedBy  string
}

// ExportFilename is deterministic per approval so a push retry rewrites
// the same file instead of leaving the ERP two copies.
func ExportFilename(draftID string, approvedAt time.Time) string {
	return fmt.Sprintf("sales_order_%s_%s.json", draftID, approvedAt.UTC().Format("20060102T150405Z"))
}

// BuildExportPayload renders the canonical export JSON. The bytes are
// JCS-canonicalized so identical drafts always serialize identically.
func BuildExportPayload(in ExportInput) ([]byte, error) {
	lines := make([]map[string]any, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, map[string]any{
			"line_no":          l.LineNo,
			"internal_sku":     l.InternalSKU,
			"qty":              deref(l.Qty),
			"uom":              l.UOM,
			"unit_price":       deref(l.UnitPrice),
			"currency":         orDefault(l.Currency, in.Draft.Currency),
			"customer_sku_raw": l.CustomerSKURaw,
			"description":      l.Description,
		})
	}

	customer := map[string]any{"id": in.Draft.CustomerID}
	if in.Customer != nil {
		customer["erp_customer_number"] = in.Customer.ERPCustomerNumber
		customer["name"] = in.Customer.Name
	}

	var approvedAt string
	if in.Draft.ApprovedAt != nil {
		approvedAt = in.Draft.ApprovedAt.UTC().Format(time.RFC3339)
	}

	meta := map[string]any{"created_by": in.CreatedBy}
	if in.Document != nil {
		meta["source_document"] = map[string]any{
			"document_id": in.Document.ID,
			"file_name":   in.Document.Filename,
			"sha256":      in.Document.SHA256,
		}
	}

	record := map[string]any{
		"export_version": ExportVersion,
		"tenant":         in.TenantSlug,
		"draft_id":       in.Draft.ID,
		"approved_at":    approvedAt,
		"customer":       customer,
		"header": map[string]any{
			"external_order_number":   in.Draft.ExternalOrderNumber,
			"order_date":              in.Draft.OrderDate,
			"currency":                in.Draft.Currency,
			"requested_delivery_date": in.Draft.RequestedDelivery,
			"notes":                   in.Draft.Notes,
		},
		"lines": lines,
		"meta":  meta,
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("export: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("export: canonicalize: %w", err)
	}
	return canonical, nil
}

func deref(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
