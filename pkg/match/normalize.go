// Package match resolves draft order lines to catalog products: confirmed
// mappings first, then a trigram + embedding hybrid with UoM and price
// penalties.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// NormalizeCustomerSKU is the canonical SKU normalization: uppercase,
// everything but A-Z and 0-9 stripped. "AB-12" and "ab 12" map to "AB12".
func NormalizeCustomerSKU(raw string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// QueryEmbeddingText is the canonical embedding input for a draft line.
func QueryEmbeddingText(rawSKU, desc, uom string) string {
	return fmt.Sprintf("CUSTOMER_SKU: %s\nDESC: %s\nUOM: %s\n", rawSKU, desc, uom)
}

// ProductEmbeddingText is the canonical embedding input for a product. The
// attribute and conversion orders are sorted so the text, and therefore its
// hash, is stable.
func ProductEmbeddingText(internalSKU, name, description string, attributes map[string]string, conversions map[string]float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SKU: %s\nNAME: %s\nDESC: %s\n", internalSKU, name, description)

	attrKeys := make([]string, 0, len(attributes))
	for k := range attributes {
		attrKeys = append(attrKeys, k)
	}
	sort.Strings(attrKeys)
	for _, k := range attrKeys {
		fmt.Fprintf(&sb, "ATTR %s: %s\n", k, attributes[k])
	}

	uomKeys := make([]string, 0, len(conversions))
	for k := range conversions {
		uomKeys = append(uomKeys, k)
	}
	sort.Strings(uomKeys)
	for _, k := range uomKeys {
		fmt.Fprintf(&sb, "UOM %s: %g\n", k, conversions[k])
	}
	return sb.String()
}

// EmbeddingTextHash detects stale product embeddings.
func EmbeddingTextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
