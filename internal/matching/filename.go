package matching

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var dupIndexPattern = regexp.MustCompile(`\((\d+)\)$`)

// Stem returns the filename without its extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// DupIndex extracts a trailing "(N)" duplicate index from a stem, e.g.
// "IMG_0004(1)" -> 1, "IMG_0004" -> 0.
func DupIndex(stem string) int {
	m := dupIndexPattern.FindStringSubmatch(stem)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// StripDupIndex removes a trailing "(N)" duplicate index from a stem.
func StripDupIndex(stem string) string {
	return dupIndexPattern.ReplaceAllString(stem, "")
}

// TrimTrailingChars strips trailing '-', '_', '.' characters from a stem,
// used by the trailing-chars matcher strategy.
func TrimTrailingChars(stem string) string {
	return strings.TrimRight(stem, "-_.")
}

// NormalizeUnicode applies NFC normalization so filenames that differ only
// in combining-character representation compare equal.
func NormalizeUnicode(s string) string {
	return norm.NFC.String(s)
}

// IsPrefix reports whether short is a prefix of long and is at least
// minLen runes, used by the truncated-filename matcher strategy (export
// tools on some platforms truncate long filenames at a fixed length).
func IsPrefix(short, long string, minLen int) bool {
	shortRunes := []rune(short)
	if len(shortRunes) < minLen {
		return false
	}
	return strings.HasPrefix(long, short)
}

// PrefixSimilarity returns the fraction of characters that two strings
// share as a common prefix, relative to the shorter string's length. Used
// by the live-photo-variants matcher strategy (stems that are long edited
// or burst-shot name variants of one another).
func PrefixSimilarity(a, b string) float64 {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	if minLen == 0 {
		return 0
	}
	shared := 0
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			break
		}
		shared++
	}
	return float64(shared) / float64(minLen)
}
