package common

import (
	"strings"
	"time"
)

// timestampLayouts covers every timestamp string shape a preprocessor
// writes into its metadata.json body: RFC3339 (chat/photos), the
// space-separated layout without a zone (Instagram/iMessage CSV
// lookups), and the same with a literal " UTC" suffix.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses any of the timestamp string forms a preprocessor
// emits, returning ok=false for an empty or unrecognized string rather
// than an error, since a record with no usable timestamp simply keeps
// its current filename and skips Chtimes.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
