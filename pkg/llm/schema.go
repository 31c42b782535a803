package llm

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// extractionSchema is the closed schema LLM output must match. Unknown keys
// are rejected, not ignored; wrong types are rejected.
const extractionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["order", "lines", "confidence"],
  "properties": {
    "order": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "external_order_number": {"type": ["string", "null"]},
        "order_date": {"type": ["string", "null"]},
        "currency": {"type": ["string", "null"]},
        "requested_delivery_date": {"type": ["string", "null"]},
        "customer_hint": {
          "type": ["object", "null"],
          "additionalProperties": false,
          "properties": {
            "name": {"type": ["string", "null"]},
            "email": {"type": ["string", "null"]},
            "erp_customer_number": {"type": ["string", "null"]}
          }
        },
        "notes": {"type": ["string", "null"]},
        "ship_to": {
          "type": ["object", "null"],
          "additionalProperties": false,
          "properties": {
            "company": {"type": ["string", "null"]},
            "street": {"type": ["string", "null"]},
            "zip": {"type": ["string", "null"]},
            "city": {"type": ["string", "null"]},
            "country": {"type": ["string", "null"]}
          }
        }
      }
    },
    "lines": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["line_no"],
        "properties": {
          "line_no": {"type": "integer", "minimum": 1},
          "customer_sku_raw": {"type": ["string", "null"]},
          "product_description": {"type": ["string", "null"]},
          "qty": {"type": ["number", "null"]},
          "uom": {"type": ["string", "null"]},
          "unit_price": {"type": ["number", "null"]},
          "currency": {"type": ["string", "null"]},
          "requested_delivery_date": {"type": ["string", "null"]}
        }
      }
    },
    "confidence": {
      "type": "object",
      "additionalProperties": false,
      "required": ["overall"],
      "properties": {
        "order": {
          "type": "object",
          "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "lines": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
          }
        },
        "overall": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://orderflow.schemas.local/extraction.schema.json"
	if err := c.AddResource(url, strings.NewReader(extractionSchema)); err != nil {
		panic(fmt.Sprintf("llm: schema resource: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("llm: schema compile: %v", err))
	}
	return s
}

// validateSchema checks decoded JSON against the closed extraction schema.
func validateSchema(decoded any) error {
	if err := compiledSchema.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
