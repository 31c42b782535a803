package extract

import (
	"strings"
	"time"
)

// dateLayouts are accepted input formats, most specific first.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02.01.06",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"2 January 2006",
	"January 2, 2006",
}

// normalizeDate parses a raw date token and returns it as ISO-8601
// (YYYY-MM-DD), or "" when it cannot be parsed. No invented values.
func normalizeDate(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
