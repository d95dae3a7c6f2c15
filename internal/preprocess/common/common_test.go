package common

import (
	"os"
	"path/filepath"
	"testing"

	"memoria/internal/bannedpath"
	"memoria/internal/hashregistry"
)

func TestWalkSkipsBannedDirectoriesAndFiles(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "keep.jpg"), "a")
	mustWriteFile(t, filepath.Join(root, ".DS_Store"), "junk")
	mustWriteFile(t, filepath.Join(root, "@eaDir", "thumb.jpg"), "junk")

	paths, err := Walk(root, bannedpath.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "keep.jpg" {
		t.Fatalf("expected only keep.jpg, got %v", paths)
	}
}

func TestCollisionsReserveSuffixesOnConflict(t *testing.T) {
	c := NewCollisions()
	first := c.Reserve("photo.jpg")
	second := c.Reserve("photo.jpg")
	if first != "photo.jpg" {
		t.Fatalf("expected first reservation unchanged, got %q", first)
	}
	if second != "photo_1.jpg" {
		t.Fatalf("expected suffixed reservation, got %q", second)
	}
}

func TestCopyDedupedSkipsPhysicalCopyForDuplicateHash(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "a.jpg")
	mustWriteFile(t, srcPath, "same-bytes")

	reg := hashregistry.New()
	collisions := NewCollisions()

	first, err := CopyDeduped(srcPath, "a.jpg", destDir, reg, collisions, false, "ctx-1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsNew {
		t.Fatal("expected first copy to be new")
	}

	srcPath2 := filepath.Join(srcDir, "b.jpg")
	mustWriteFile(t, srcPath2, "same-bytes")
	second, err := CopyDeduped(srcPath2, "b.jpg", destDir, reg, collisions, false, "ctx-2")
	if err != nil {
		t.Fatal(err)
	}
	if second.IsNew {
		t.Fatal("expected second copy to be a duplicate claim")
	}
	if second.Filename != first.Filename {
		t.Fatalf("expected duplicate to resolve to canonical filename %q, got %q", first.Filename, second.Filename)
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one physical file, got %d", len(entries))
	}
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
