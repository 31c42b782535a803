package llm

import (
	"fmt"
	"strings"
)

// Template identifiers are versioned and immutable. A template change is a
// new identifier.
const (
	TemplatePDFExtractText   = "pdf_extract_text_v1"
	TemplatePDFExtractVision = "pdf_extract_vision_v1"
	TemplateJSONRepair       = "json_repair_v1"
)

const extractionRules = `You extract purchase order data from wholesale customer documents.

OUTPUT RULES:
- Output a single JSON object and nothing else. No markdown, no commentary.
- The object must match the schema exactly. Unknown fields are rejected.
- Use null for anything not present in the document. NEVER invent values.
- Dates in ISO-8601 (YYYY-MM-DD). Currency as ISO-4217 code.
- uom must be one of: ST, M, CM, MM, KG, G, L, ML, KAR, PAL, SET — or null.
- line_no must be sequential starting at 1.
- Every confidence value is a number between 0 and 1.

SCHEMA:
{
  "order": {
    "external_order_number": string|null,
    "order_date": string|null,
    "currency": string|null,
    "requested_delivery_date": string|null,
    "customer_hint": {"name": string|null, "email": string|null, "erp_customer_number": string|null}|null,
    "notes": string|null,
    "ship_to": {"company": string|null, "street": string|null, "zip": string|null, "city": string|null, "country": string|null}|null
  },
  "lines": [
    {"line_no": int, "customer_sku_raw": string|null, "product_description": string|null,
     "qty": number|null, "uom": string|null, "unit_price": number|null,
     "currency": string|null, "requested_delivery_date": string|null}
  ],
  "confidence": {
    "order": {"<field>": number, ...},
    "lines": [{"<field>": number, ...}, ...],
    "overall": number
  }
}`

// BuildTextPrompt renders pdf_extract_text_v1.
func BuildTextPrompt(text string, pctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString(extractionRules)
	writeFewShot(&sb, pctx.FewShot)
	sb.WriteString("\n\nDOCUMENT TEXT:\n")
	sb.WriteString(text)
	return sb.String()
}

// BuildVisionPrompt renders the instruction part of pdf_extract_vision_v1;
// page images travel alongside in the provider request.
func BuildVisionPrompt(pctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString(extractionRules)
	writeFewShot(&sb, pctx.FewShot)
	sb.WriteString("\n\nExtract the purchase order from the attached page images.")
	return sb.String()
}

// BuildRepairPrompt renders json_repair_v1.
func BuildRepairPrompt(previousOutput, parseError string) string {
	return fmt.Sprintf(`The following output was supposed to be a single valid JSON object but failed to parse.

PARSE ERROR: %s

BROKEN OUTPUT:
%s

Return the corrected JSON object only. Do not add, remove or change any data values; fix the syntax only.`, parseError, previousOutput)
}

func writeFewShot(sb *strings.Builder, examples []FewShotExample) {
	if len(examples) == 0 {
		return
	}
	sb.WriteString("\n\nEXAMPLES from documents with the same layout:")
	for i, ex := range examples {
		if i >= 3 {
			break
		}
		sb.WriteString(fmt.Sprintf("\n--- example %d input ---\n%s\n--- example %d output ---\n%s", i+1, ex.Input, i+1, ex.Output))
	}
}
