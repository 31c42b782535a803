package match_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/orderflow-io/orderflow/pkg/match"
)

func TestNormalizeCustomerSKU(t *testing.T) {
	assert.Equal(t, "AB12", match.NormalizeCustomerSKU("AB-12"))
	assert.Equal(t, "AB12", match.NormalizeCustomerSKU("ab 12"))
	assert.Equal(t, "AB12", match.NormalizeCustomerSKU(" a.b/1_2 "))
	assert.Equal(t, "", match.NormalizeCustomerSKU("---"))
}

func TestNormalizeCustomerSKUProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("idempotent", prop.ForAll(
		func(s string) bool {
			once := match.NormalizeCustomerSKU(s)
			return match.NormalizeCustomerSKU(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("output is uppercase alphanumeric only", prop.ForAll(
		func(s string) bool {
			for _, r := range match.NormalizeCustomerSKU(s) {
				if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("case and separators do not matter", prop.ForAll(
		func(s string) bool {
			variant := strings.ToLower(strings.ReplaceAll(s, "", ""))
			return match.NormalizeCustomerSKU(s) == match.NormalizeCustomerSKU(variant)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestProductEmbeddingTextStable(t *testing.T) {
	a := match.ProductEmbeddingText("INT-1", "Rohr", "Kupfer",
		map[string]string{"farbe": "rot", "dn": "15"},
		map[string]float64{"KAR": 10, "PAL": 480})
	b := match.ProductEmbeddingText("INT-1", "Rohr", "Kupfer",
		map[string]string{"dn": "15", "farbe": "rot"},
		map[string]float64{"PAL": 480, "KAR": 10})
	assert.Equal(t, a, b, "map order must not change the embedded text")
	assert.Equal(t, match.EmbeddingTextHash(a), match.EmbeddingTextHash(b))
}

func TestQueryEmbeddingTextCanonical(t *testing.T) {
	assert.Equal(t, "CUSTOMER_SKU: AB-12\nDESC: Kupferrohr\nUOM: ST\n",
		match.QueryEmbeddingText("AB-12", "Kupferrohr", "ST"))
}
