package snapchatmessages

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	hashMediaPattern = regexp.MustCompile(`(?i)^\d{4}-\d{2}-\d{2}_([a-f0-9]{32})\.(jpg|jpeg|mp4|png|webp)$`)
	mediaIDPattern   = regexp.MustCompile(`_b~([^.]+)`)
	uuidPattern      = regexp.MustCompile(`(?i)~zip-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)
)

// classifyFile reproduces the source preprocessor's filename-pattern
// taxonomy: base64 media (`_b~`), UUID media/overlay/thumbnail
// (`_media~`/`_overlay~`/`_thumbnail~`, with or without a `zip-`
// prefix), and date-prefixed hash media.
func classifyFile(name string) fileKind {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") {
		return kindSystem
	}
	switch {
	case strings.Contains(name, "_b~"):
		return kindMedia
	case strings.Contains(name, "_media~"):
		return kindMedia
	case strings.Contains(name, "_overlay~"):
		return kindOverlay
	case strings.Contains(name, "_thumbnail~"):
		return kindThumbnail
	case hashMediaPattern.MatchString(name):
		return kindMedia
	}
	return kindUnknown
}

func extractMediaID(name string) string {
	m := mediaIDPattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return "b~" + m[1]
}

func extractUUID(name string) string {
	m := uuidPattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

func extractHash(name string) string {
	m := hashMediaPattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

func mediaType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".mkv", ".webm":
		return "video"
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return "image"
	default:
		return "unknown"
	}
}
