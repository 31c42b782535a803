// Package detect scores which customer a draft belongs to from independent
// signals and decides between auto-select and ambiguity.
package detect

import (
	"regexp"
	"strings"

	"github.com/orderflow-io/orderflow/pkg/textsim"
)

// Signal identifiers, recorded per candidate for explainability.
const (
	SignalEmailExact    = "email_exact"
	SignalEmailDomain   = "email_domain"
	SignalERPNumber     = "erp_number"
	SignalNameFuzzy     = "name_fuzzy"
	SignalHintEmail     = "hint_email_exact"
	SignalHintEmailDom  = "hint_email_domain"
	SignalHintERPNumber = "hint_erp_number"
	SignalHintNameFuzzy = "hint_name_fuzzy"
)

// Signal scores.
const (
	scoreEmailExact  = 0.95
	scoreEmailDomain = 0.75
	scoreERPNumber   = 0.98
	nameScoreCap     = 0.85
	nameSimFloor     = 0.40
)

// genericDomains never identify a customer: anyone can register there.
var genericDomains = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"outlook.com":    {},
	"outlook.de":     {},
	"hotmail.com":    {},
	"hotmail.de":     {},
	"yahoo.com":      {},
	"yahoo.de":       {},
	"gmx.de":         {},
	"gmx.net":        {},
	"web.de":         {},
	"t-online.de":    {},
	"icloud.com":     {},
	"aol.com":        {},
	"mail.com":       {},
	"proton.me":      {},
	"protonmail.com": {},
}

// Customer number patterns, tried in order; the first match wins.
var erpNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Kundennr[.:]?\s*([A-Z0-9-]{3,20})`),
	regexp.MustCompile(`(?i)Customer\s*No[.:]?\s*([A-Z0-9-]{3,20})`),
	regexp.MustCompile(`(?i)Debitor[.:]?\s*([A-Z0-9-]{3,20})`),
}

var (
	datePattern  = regexp.MustCompile(`\d{1,4}[./-]\d{1,2}[./-]\d{1,4}`)
	phonePattern = regexp.MustCompile(`(?i)(tel|fax|phone|mobil)|(\+?\d[\d\s/()-]{7,})`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
)

// legalFormTokens mark a line as a company name.
var legalFormTokens = []string{"GmbH", "AG", "KG", "OHG", "Ltd", "Inc", "Corp"}

// emailDomain returns the lowercased domain of an address, "" when malformed.
func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// isGenericDomain reports whether the domain cannot identify a customer.
func isGenericDomain(domain string) bool {
	_, ok := genericDomains[domain]
	return ok
}

// findERPNumber scans the document body for a customer number token.
func findERPNumber(text string) string {
	for _, p := range erpNumberPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// extractCompanyName scans the first 500 characters for a company-name
// line: 10-100 chars carrying a legal-form token, skipping lines that look
// like dates, phone numbers or email addresses.
func extractCompanyName(text string) string {
	head := text
	if len(head) > 500 {
		head = head[:500]
	}
	var fallback string
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 10 || len(line) > 100 {
			continue
		}
		if datePattern.MatchString(line) || phonePattern.MatchString(line) || emailPattern.MatchString(line) {
			continue
		}
		for _, tok := range legalFormTokens {
			if containsToken(line, tok) {
				return line
			}
		}
		if fallback == "" {
			fallback = line
		}
	}
	return fallback
}

func containsToken(line, tok string) bool {
	idx := strings.Index(line, tok)
	if idx < 0 {
		return false
	}
	before := idx == 0 || !isWordChar(line[idx-1])
	afterIdx := idx + len(tok)
	after := afterIdx >= len(line) || !isWordChar(line[afterIdx])
	return before && after
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// nameScore maps a fuzzy name similarity to a signal score, or 0 when the
// similarity is below the floor.
func nameScore(candidate, customerName string) float64 {
	sim := textsim.Dice(candidate, customerName)
	if sim < nameSimFloor {
		return 0
	}
	score := 0.40 + 0.60*sim
	if score > nameScoreCap {
		score = nameScoreCap
	}
	return score
}
