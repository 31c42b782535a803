// Package ailog is the ledger in front of every AI provider call: input
// hashing, idempotence caching, cost accounting, per-tenant rate limiting
// and the fail-closed daily budget.
package ailog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/gowebpki/jcs"
)

// promptHashChars bounds how much prompt text feeds the input hash. The
// hash identifies the call, it does not archive the document.
const promptHashChars = 1000

// CanonicalizePrompt collapses whitespace runs and truncates the prompt to
// the hashing window so trivial formatting differences still cache-hit.
func CanonicalizePrompt(prompt string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.TrimSpace(prompt) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	runes := []rune(sb.String())
	if len(runes) > promptHashChars {
		runes = runes[:promptHashChars]
	}
	return string(runes)
}

// InputHash derives the idempotence key for one provider call from the
// template id and the canonicalized prompt, over a JCS-stable encoding.
func InputHash(callType, prompt string) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"call_type": callType,
		"prompt":    CanonicalizePrompt(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("ailog: marshal hash input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ailog: canonicalize hash input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
