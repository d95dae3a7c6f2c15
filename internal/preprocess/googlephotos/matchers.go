package googlephotos

import (
	"strconv"
	"strings"

	"memoria/internal/matching"
)

// supplementalSuffixes are every truncation of "supplemental-metadata"
// Google's exporter has shipped, longest first so the longest candidate
// suffix is stripped before a shorter one could partially match.
var supplementalSuffixes = []string{
	".supplemental-metadata",
	".supplemental-meta",
	".supple",
}

// sidecarMediaName derives the media filename a JSON sidecar describes,
// handling the "(N)" duplicate-index migration: a sidecar named
// "file.ext.supplemental-metadata(1).json" describes "file(1).ext", not
// "file.ext(1)".
func sidecarMediaName(jsonBase string) (name string, dupIndex int) {
	stem := matching.Stem(jsonBase) // strip ".json"
	idx := matching.DupIndex(stem)
	if idx != 0 {
		stem = matching.StripDupIndex(stem)
	}
	for _, suffix := range supplementalSuffixes {
		if strings.HasSuffix(strings.ToLower(stem), suffix) {
			stem = stem[:len(stem)-len(suffix)]
			break
		}
	}
	if idx != 0 {
		ext := extOf(stem)
		base := strings.TrimSuffix(stem, ext)
		return base + "(" + strconv.Itoa(idx) + ")" + ext, idx
	}
	return stem, 0
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}

// candidateFromMedia and candidateFromMetadata build matching.Candidate
// values keyed for the resolver's exact/dup-index tie-break: Key is the
// derived media filename on both sides.
func candidateFromMedia(m mediaFile) matching.Candidate {
	stem := matching.Stem(m.name)
	return matching.Candidate{Key: m.name, DupIndex: matching.DupIndex(stem), Item: m}
}

func candidateFromMetadata(m metadataFile, derivedName string, dupIndex int) matching.Candidate {
	return matching.Candidate{Key: derivedName, DupIndex: dupIndex, Item: m}
}

// editedSuffixes are suffixes Google Photos appends to a media stem when
// the file is an edited copy of an original capture.
var editedSuffixes = []string{"-edited", "-modifié", "-bearbeitet", "-editado"}

func matchersForAlbum() []matching.Named {
	return []matching.Named{
		{Name: "exact", Matcher: func(media, meta matching.Candidate) bool {
			return media.Key == meta.Key
		}},
		{Name: "normal", Matcher: func(media, meta matching.Candidate) bool {
			return matching.Stem(media.Key) == matching.StripDupIndex(matching.Stem(meta.Key)) &&
				extOf(media.Key) == extOf(meta.Key)
		}},
		{Name: "live-photo-duplicates", Matcher: func(media, meta matching.Candidate) bool {
			return media.DupIndex != 0 && media.DupIndex == meta.DupIndex &&
				matching.StripDupIndex(matching.Stem(media.Key)) == matching.StripDupIndex(matching.Stem(meta.Key))
		}},
		{Name: "trailing-chars", Matcher: func(media, meta matching.Candidate) bool {
			return matching.TrimTrailingChars(matching.Stem(media.Key)) == matching.TrimTrailingChars(matching.Stem(meta.Key))
		}},
		{Name: "truncated", Matcher: func(media, meta matching.Candidate) bool {
			if extOf(media.Key) != extOf(meta.Key) {
				return false
			}
			a, b := matching.Stem(media.Key), matching.Stem(meta.Key)
			return matching.IsPrefix(a, b, 30) || matching.IsPrefix(b, a, 30)
		}},
		{Name: "edited", Matcher: func(media, meta matching.Candidate) bool {
			mediaStem := matching.Stem(media.Key)
			metaStem := matching.Stem(meta.Key)
			for _, suffix := range editedSuffixes {
				if mediaStem == metaStem+suffix {
					return true
				}
			}
			return false
		}},
		{Name: "live-photo-variants", Shared: true, Matcher: func(media, meta matching.Candidate) bool {
			a, b := matching.Stem(media.Key), matching.Stem(meta.Key)
			if len(a) < 40 || len(b) < 40 {
				return false
			}
			return matching.PrefixSimilarity(a, b) >= 0.95
		}},
	}
}
