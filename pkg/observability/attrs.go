package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic attributes shared across spans and metrics. Tenant id is on
// every operation so dashboards can slice per tenant.
var (
	AttrTenantID   = attribute.Key("orderflow.tenant.id")
	AttrDocumentID = attribute.Key("orderflow.document.id")
	AttrExtractor  = attribute.Key("orderflow.extractor")
	AttrDraftID    = attribute.Key("orderflow.draft.id")
	AttrStatus     = attribute.Key("orderflow.status")
	AttrSource     = attribute.Key("orderflow.inbound.source")
	AttrCallType   = attribute.Key("orderflow.llm.call_type")
	AttrExportFile = attribute.Key("orderflow.export.filename")
)

// IntakeOperation labels a message or upload ingestion.
func IntakeOperation(tenantID, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrSource.String(source),
	}
}

// DocumentOperation labels one pipeline run for a document.
func DocumentOperation(tenantID, documentID, extractor string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrDocumentID.String(documentID),
		AttrExtractor.String(extractor),
	}
}

// DraftOperation labels a draft state change.
func DraftOperation(tenantID, draftID, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrDraftID.String(draftID),
		AttrStatus.String(status),
	}
}

// LLMOperation labels one provider call.
func LLMOperation(tenantID, callType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrCallType.String(callType),
	}
}

// ExportOperation labels an approve-and-push export.
func ExportOperation(tenantID, draftID, filename string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrDraftID.String(draftID),
		AttrExportFile.String(filename),
	}
}
