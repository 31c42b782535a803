// Package textsim provides the character-trigram similarity shared by
// customer detection and SKU matching.
package textsim

import "strings"

// Normalize lowercases and strips everything but letters and digits, so
// "AB-12.3" and "ab 12 3" produce the same trigrams.
func Normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Trigrams returns the set of character trigrams of the normalized string.
// Strings shorter than 3 runes contribute themselves as a single gram.
func Trigrams(s string) map[string]struct{} {
	norm := []rune(Normalize(s))
	set := map[string]struct{}{}
	if len(norm) == 0 {
		return set
	}
	if len(norm) < 3 {
		set[string(norm)] = struct{}{}
		return set
	}
	for i := 0; i+3 <= len(norm); i++ {
		set[string(norm[i:i+3])] = struct{}{}
	}
	return set
}

// Dice is the Sørensen–Dice coefficient over trigram sets, in [0,1].
func Dice(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	common := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(ta)+len(tb))
}
