package extract

import (
	"strings"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// defaultUOMSynonyms maps common raw unit tokens to the canonical set.
// Tenant profiles may extend or override these.
var defaultUOMSynonyms = map[string]string{
	// pieces
	"ST": "ST", "STK": "ST", "STUECK": "ST", "STÜCK": "ST", "PC": "ST",
	"PCS": "ST", "PIECE": "ST", "PIECES": "ST", "EA": "ST", "EACH": "ST",
	"UNIT": "ST", "UNITS": "ST",
	// length
	"M": "M", "METER": "M", "METRE": "M", "MTR": "M", "LFM": "M",
	"CM": "CM", "MM": "MM",
	// mass
	"KG": "KG", "KILO": "KG", "KILOGRAM": "KG", "KGS": "KG",
	"G": "G", "GR": "G", "GRAM": "G",
	// volume
	"L": "L", "LTR": "L", "LITER": "L", "LITRE": "L",
	"ML": "ML",
	// packaging
	"KAR": "KAR", "KARTON": "KAR", "CARTON": "KAR", "CTN": "KAR", "BOX": "KAR",
	"PAL": "PAL", "PALETTE": "PAL", "PALLET": "PAL", "PLT": "PAL",
	"SET": "SET", "SETS": "SET", "KIT": "SET",
}

// NormalizeUOM maps a raw unit token to the canonical UoM set. Tenant
// synonyms take precedence over the defaults. Unknown units return "" —
// the caller records an UNKNOWN_UOM issue.
func NormalizeUOM(raw string, tenantSynonyms map[string]string) string {
	token := strings.ToUpper(strings.TrimSpace(raw))
	token = strings.TrimSuffix(token, ".")
	if token == "" {
		return ""
	}
	if tenantSynonyms != nil {
		if canon, ok := tenantSynonyms[token]; ok && model.CanonicalUOMs[canon] {
			return canon
		}
	}
	if canon, ok := defaultUOMSynonyms[token]; ok {
		return canon
	}
	if model.CanonicalUOMs[token] {
		return token
	}
	return ""
}
