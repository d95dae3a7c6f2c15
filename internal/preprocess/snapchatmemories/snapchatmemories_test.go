package snapchatmemories

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectRequiresMediaDirAndMetadataJSON(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected Detect to reject an empty directory")
	}
	if err := os.Mkdir(filepath.Join(dir, "media"), 0o755); err != nil {
		t.Fatal(err)
	}
	if Detect(dir) {
		t.Fatal("expected Detect to reject a media/ dir without metadata.json")
	}
	writeFile(t, filepath.Join(dir, "metadata.json"), "[]")
	if !Detect(dir) {
		t.Fatal("expected Detect to accept media/ + metadata.json")
	}
}

func TestPreprocessCopiesMediaWithoutOverlay(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeFile(t, filepath.Join(input, "media", "photo.jpg"), "jpg-bytes")
	entries := []sourceEntry{
		{Date: "2020-01-01T00:00:00Z", MediaType: "image", MediaFilename: "photo.jpg"},
	}
	raw, _ := json.Marshal(entries)
	writeFile(t, filepath.Join(input, "metadata.json"), string(raw))

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.Copied != 1 {
		t.Fatalf("expected 1 plain copy, got copied=%d composited=%d", result.Stats.Copied, result.Stats.Composited)
	}
	if result.Stats.OrphanedMedia != 0 {
		t.Fatalf("expected no orphans, got %d", result.Stats.OrphanedMedia)
	}
}

func TestPreprocessRecordsOrphanForMissingMedia(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	if err := os.Mkdir(filepath.Join(input, "media"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries := []sourceEntry{
		{Date: "2020-01-01T00:00:00Z", MediaType: "image", MediaFilename: "missing.jpg"},
	}
	raw, _ := json.Marshal(entries)
	writeFile(t, filepath.Join(input, "metadata.json"), string(raw))

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.OrphanedMedia != 1 {
		t.Fatalf("expected 1 orphaned media entry, got %d", result.Stats.OrphanedMedia)
	}
}
