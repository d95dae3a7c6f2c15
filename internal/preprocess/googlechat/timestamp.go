package googlechat

import (
	"strings"
	"time"
)

// timestampLayout matches Google Chat's export format, e.g.
// "Wednesday, May 4, 2016 at 4:20:19 AM UTC".
const timestampLayout = "Monday, January 2, 2006 at 3:04:05 PM MST"

func parseTimestamp(raw string) (time.Time, bool) {
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// normalizeExportName undoes Google Chat's literal (unescaped) JSON
// unicode-escape text for "=" — export_name sometimes carries the
// six-character sequence (a backslash followed by "u003d") rather than
// the character itself.
func normalizeExportName(name string) string {
	escapedEquals := "\\" + "u003d"
	return strings.ReplaceAll(name, escapedEquals, "=")
}

// filesystemVariant produces the name variant actually saved to disk:
// "?" and "'" are replaced with "_".
func filesystemVariant(name string) string {
	r := strings.NewReplacer("?", "_", "'", "_")
	return r.Replace(name)
}
