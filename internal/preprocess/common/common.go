// Package common holds the scan, dedup-copy, and filename-collision
// primitives shared by every per-source preprocessor's validate → load
// → scan → match → copy → emit skeleton.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"memoria/internal/bannedpath"
	"memoria/internal/contenthash"
	"memoria/internal/fileops"
	"memoria/internal/filetype"
	"memoria/internal/hashregistry"
)

// Walk enumerates every non-banned file under root, skipping banned
// directories entirely rather than merely filtering their contents.
func Walk(root string, banned *bannedpath.Filter) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if banned.IsBanned(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("common: walk %s: %w", root, err)
	}
	return out, nil
}

// Collisions tracks output filenames already claimed in a destination
// directory, resolving collisions with a numeric suffix. Mutual
// exclusion required per the concurrency model's destination_files map.
type Collisions struct {
	mu    sync.Mutex
	taken map[string]bool
}

// NewCollisions constructs an empty collision tracker.
func NewCollisions() *Collisions {
	return &Collisions{taken: make(map[string]bool)}
}

// Reserve returns a filename guaranteed unique among everything already
// reserved, suffixing with "_N" before the extension on collision.
func (c *Collisions) Reserve(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.taken[name] {
		c.taken[name] = true
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !c.taken[candidate] {
			c.taken[candidate] = true
			return candidate
		}
	}
}

// CopyResult describes the outcome of CopyDeduped for one media file.
type CopyResult struct {
	Filename  string
	Hash      string
	IsNew     bool
	Corrected bool
	Category  filetype.Category
}

// CopyDeduped hashes src, infers its real type, reconciles the
// extension against declaredName, reserves a collision-free output
// filename, and (only for the first claimant of the hash) copies the
// verified bytes into destDir. context is recorded in the hash registry
// for every claimant, first or duplicate.
func CopyDeduped(srcPath, declaredName, destDir string, reg *hashregistry.Registry, collisions *Collisions, allowCrossCategory bool, context any) (CopyResult, error) {
	hash, err := contenthash.Hash(srcPath)
	if err != nil {
		return CopyResult{}, fmt.Errorf("common: hash %s: %w", srcPath, err)
	}

	inferred, err := filetype.Infer(srcPath, declaredName, allowCrossCategory)
	if err != nil {
		return CopyResult{}, fmt.Errorf("common: infer type %s: %w", srcPath, err)
	}

	finalName, isNew := reg.ClaimFunc(hash, srcPath, context, func() string {
		name := declaredName
		if inferred.Corrected {
			stem := strings.TrimSuffix(declaredName, filepath.Ext(declaredName))
			name = stem + "." + inferred.Extension
		}
		return collisions.Reserve(name)
	})
	if !isNew {
		return CopyResult{Filename: finalName, Hash: hash, IsNew: false, Corrected: inferred.Corrected, Category: inferred.Category}, nil
	}

	dest := filepath.Join(destDir, finalName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return CopyResult{}, fmt.Errorf("common: create media dir: %w", err)
	}
	if err := fileops.CopyFileVerified(srcPath, dest); err != nil {
		return CopyResult{}, fmt.Errorf("common: copy %s: %w", srcPath, err)
	}

	return CopyResult{Filename: finalName, Hash: hash, IsNew: true, Corrected: inferred.Corrected, Category: inferred.Category}, nil
}

// MediaDir is the conventional output subpath every preprocessor copies
// matched media into.
func MediaDir(outputDir string) string { return filepath.Join(outputDir, "media") }

// ExifToolPath falls back to a bare "exiftool" PATH lookup (the same
// default internal/config.Defaults uses) when a caller supplies no
// override, so the finalize stage can run standalone in tests without
// a config load.
func ExifToolPath(override string) string {
	if override != "" {
		return override
	}
	return "exiftool"
}

// CopyFileBestEffort copies src to dest for secondary, non-authoritative
// outputs (triage trees, debug dumps) where a missing or unreadable
// source shouldn't abort the run that already recorded the failure
// through its primary copy path.
func CopyFileBestEffort(src, dest string) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return
	}
	_ = fileops.CopyFile(src, dest)
}
