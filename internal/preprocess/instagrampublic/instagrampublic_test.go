package instagrampublic

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

func readMetadata(t *testing.T, outputDir string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(outputDir, "metadata.json"))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

const postHTML = `<html><body>
<div class="pam _3-95 _2ph- _a6-g uiBoxWhite noborder">
  <h2 class="_3-95 _2pim _a6-h _a6-i">A day at the beach</h2>
  <div class="_3-94 _a6-o">Oct 02, 2022 5:58 pm</div>
  <a href="media/posts/202210/photo.jpg">photo.jpg</a>
  <table>
    <tr><td><div class="_a6-q">Latitude</div></td><td><div class="_a6-q">37.7749</div></td></tr>
    <tr><td><div class="_a6-q">Longitude</div></td><td><div class="_a6-q">-122.4194</div></td></tr>
    <tr><td><div class="_a6-q">Camera Make</div></td><td><div class="_a6-q">Pixel</div></td></tr>
  </table>
</div>
</body></html>`

func TestDetectRequiresMediaDirAndHTML(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected reject on empty dir")
	}
	if err := os.MkdirAll(filepath.Join(dir, "media"), 0o755); err != nil {
		t.Fatal(err)
	}
	if Detect(dir) {
		t.Fatal("expected reject without html dir")
	}
	writeFile(t, filepath.Join(dir, "content", "posts_1.html"), postHTML)
	if !Detect(dir) {
		t.Fatal("expected accept with legacy content/ html dir")
	}
}

func TestPreprocessParsesCaptionGPSAndMatchesMedia(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeFile(t, filepath.Join(input, "content", "posts_1.html"), postHTML)
	writeFile(t, filepath.Join(input, "media", "posts", "202210", "photo.jpg"), "jpg-bytes")

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.PostCount != 1 {
		t.Fatalf("expected 1 post, got %d", result.Stats.PostCount)
	}
	if result.Stats.MatchedFiles != 1 {
		t.Fatalf("expected 1 matched file, got %d", result.Stats.MatchedFiles)
	}

	meta := readMetadata(t, output)
	posts := meta["posts"].([]any)
	post := posts[0].(map[string]any)
	if post["caption"] != "A day at the beach" {
		t.Fatalf("expected caption, got %v", post["caption"])
	}
	if post["timestamp"] != "2022-10-02 17:58:00" {
		t.Fatalf("expected parsed timestamp, got %v", post["timestamp"])
	}
	if post["latitude"] != 37.7749 {
		t.Fatalf("expected latitude 37.7749, got %v", post["latitude"])
	}
	additional := post["additional_metadata"].(map[string]any)
	if additional["camera_make"] != "Pixel" {
		t.Fatalf("expected camera_make additional field, got %v", additional)
	}
}

func TestPreprocessRecordsOrphanedMedia(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeFile(t, filepath.Join(input, "content", "posts_1.html"), postHTML)
	writeFile(t, filepath.Join(input, "media", "posts", "202210", "photo.jpg"), "jpg-bytes")
	writeFile(t, filepath.Join(input, "media", "posts", "202210", "unreferenced.jpg"), "jpg-bytes-2")

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.OrphanedMedia != 1 {
		t.Fatalf("expected 1 orphan, got %d", result.Stats.OrphanedMedia)
	}
}
