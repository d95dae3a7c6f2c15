package googlephotos

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeAlbumFile(t *testing.T, albumDir, name, contents string) {
	t.Helper()
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(albumDir, name), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readMetadata(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("metadata.json not valid json: %v\n%s", err, raw)
	}
	return m
}

// Scenario: a duplicate-indexed media file and its sidecar, where the
// sidecar's supplemental-metadata suffix sits before the "(1)" index,
// must still resolve: the index migrates onto the sidecar's derived media
// name, which the "exact" matcher then pairs with the media file.
func TestPreprocessNameCorrectionWithDupIndex(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	album := filepath.Join(input, "Google Photos", "Trip")

	writeAlbumFile(t, album, "IMG_0004(1).PNG", "png-bytes")
	writeAlbumFile(t, album, "IMG_0004.PNG.supplemental-metadata(1).json", `{
		"title": "IMG_0004.PNG",
		"photoTakenTime": {"timestamp": "1609459200"}
	}`)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.Matched != 1 {
		t.Fatalf("expected 1 matched file, got %d (orphaned_media=%d orphaned_meta=%d)",
			result.Stats.Matched, result.Stats.OrphanedMedia, result.Stats.OrphanedMeta)
	}
	if result.Stats.OrphanedMedia != 0 || result.Stats.OrphanedMeta != 0 {
		t.Fatalf("expected no orphans, got media=%d meta=%d", result.Stats.OrphanedMedia, result.Stats.OrphanedMeta)
	}

	m := readMetadata(t, result.MetadataPath)
	files, ok := m["media_files"].([]any)
	if !ok || len(files) != 1 {
		t.Fatalf("expected exactly one media_files entry, got %v", m["media_files"])
	}
	entry := files[0].(map[string]any)
	if entry["photo_taken_time"] == "" || entry["photo_taken_time"] == nil {
		t.Fatalf("expected photo_taken_time populated, got %v", entry)
	}

	entries, err := os.ReadDir(filepath.Join(output, "media"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one output media file, got %d", len(entries))
	}
}

// Scenario: a live photo's still-image and motion-video components share
// a long common prefix with one JSON sidecar describing the pairing;
// the still (same stem as the sidecar) claims it first, and the motion
// video then matches the same sidecar through the Shared
// live-photo-variants matcher.
func TestPreprocessLivePhotoTruncationMatchesBothComponents(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	album := filepath.Join(input, "Google Photos", "Live")

	stillName := "70391126464__72D07F3A-468D-4FD6-A9D1-2D368E323.HEIC"
	videoName := "70391126464__72D07F3A-468D-4FD6-A9D1-2D368E3231.MP4"
	jsonName := "70391126464__72D07F3A-468D-4FD6-A9D1-2D368E323.json"

	writeAlbumFile(t, album, stillName, "heic-bytes")
	writeAlbumFile(t, album, videoName, "mp4-bytes")
	writeAlbumFile(t, album, jsonName, `{"title": "live photo"}`)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.Matched != 2 {
		t.Fatalf("expected both live-photo components matched, got %d (orphaned_media=%d)",
			result.Stats.Matched, result.Stats.OrphanedMedia)
	}
	if result.Stats.OrphanedMeta != 0 {
		t.Fatalf("expected the shared sidecar to be claimed by both matches, got orphaned_meta=%d", result.Stats.OrphanedMeta)
	}
}

func TestDetectRequiresGooglePhotosDirectory(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected Detect to reject a directory with no Google Photos subdir")
	}
	if err := os.Mkdir(filepath.Join(dir, "Google Photos"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !Detect(dir) {
		t.Fatal("expected Detect to accept a directory containing Google Photos")
	}
}

func TestProcessorSatisfiesRegistryContract(t *testing.T) {
	var p Processor
	if p.Name() != "googlephotos" {
		t.Fatalf("unexpected name %q", p.Name())
	}
	if !p.SupportsConsolidation() {
		t.Fatal("expected Google Photos to support consolidation")
	}
}
