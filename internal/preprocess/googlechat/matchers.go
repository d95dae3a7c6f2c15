package googlechat

import (
	"os"
	"path/filepath"
	"strings"

	"memoria/internal/matching"
)

// resolveAttachment finds the on-disk file an attached_files export_name
// refers to within a conversation directory, trying progressively looser
// variants: exact, normalized-escape, filesystem-safe substitution, and
// finally a >=30-char same-extension prefix match against files never
// claimed by an earlier attachment in the same conversation.
func resolveAttachment(dir, exportName string, claimed map[string]bool) (string, bool) {
	candidates := []string{
		exportName,
		normalizeExportName(exportName),
		filesystemVariant(normalizeExportName(exportName)),
	}
	for _, c := range candidates {
		if claimed[c] {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, c)); err == nil {
			claimed[c] = true
			return c, true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	target := filesystemVariant(normalizeExportName(exportName))
	targetExt := filepath.Ext(target)
	targetStem := matching.Stem(target)
	for _, e := range entries {
		if e.IsDir() || claimed[e.Name()] {
			continue
		}
		if filepath.Ext(e.Name()) != targetExt {
			continue
		}
		stem := matching.Stem(e.Name())
		if matching.IsPrefix(stem, targetStem, 30) || matching.IsPrefix(targetStem, stem, 30) {
			claimed[e.Name()] = true
			return e.Name(), true
		}
	}
	return "", false
}

// conversationTitle implements the DM-vs-Space title derivation rule:
// a DM's title is the non-owner member's name; a Space uses its custom
// name when set, else a comma-joined list of non-owner first names.
func conversationTitle(info groupInfo, ownerEmail string) string {
	var nonOwner []member
	for _, m := range info.Members {
		if !strings.EqualFold(m.Email, ownerEmail) {
			nonOwner = append(nonOwner, m)
		}
	}
	if len(info.Members) == 2 {
		if len(nonOwner) > 0 {
			return nonOwner[0].Name
		}
	}
	if info.Name != "" {
		return info.Name
	}
	names := make([]string, 0, len(nonOwner))
	for _, m := range nonOwner {
		names = append(names, firstName(m.Name))
	}
	return strings.Join(names, ", ")
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i >= 0 {
		return full[:i]
	}
	return full
}
