package snapchatmessages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, contents []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeHistory(t *testing.T, dir string, history map[string][]snapMessage) {
	t.Helper()
	raw, err := json.Marshal(history)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, jsonDirName, chatHistoryName), raw)
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	writeFile(t, path, []byte("bytes-"+filepath.Base(path)))
	if err := os.Chtimes(path, mtime, mtime); err != nil {
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

func TestDetectRequiresChatMediaAndHistory(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected reject on empty dir")
	}
	if err := os.Mkdir(filepath.Join(dir, chatMediaDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if Detect(dir) {
		t.Fatal("expected reject without chat_history.json")
	}
	writeFile(t, filepath.Join(dir, jsonDirName, chatHistoryName), []byte("{}"))
	if !Detect(dir) {
		t.Fatal("expected accept with both present")
	}
}

func TestPreprocessMatchesExplicitMediaID(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	touch(t, filepath.Join(input, chatMediaDirName, "export_b~abc123.jpg"), time.Unix(1700000000, 0))
	writeHistory(t, input, map[string][]snapMessage{
		"friend@example.com": {
			{From: "me", MediaType: "MEDIA", Created: "2023-11-14 22:13:20 UTC", MediaIDs: "b~abc123"},
		},
	})

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.MatchedFiles != 1 {
		t.Fatalf("expected 1 matched file, got %d", result.Stats.MatchedFiles)
	}
	if result.Stats.OrphanedMedia != 0 {
		t.Fatalf("expected no orphans, got %d", result.Stats.OrphanedMedia)
	}
}

func TestPreprocessAmbiguousOverlayRoutesToTriage(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	mtime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	touch(t, filepath.Join(input, chatMediaDirName, "a_media~zip-11111111-1111-1111-1111-111111111111.mp4"), mtime)
	touch(t, filepath.Join(input, chatMediaDirName, "b_media~zip-22222222-2222-2222-2222-222222222222.mp4"), mtime)
	touch(t, filepath.Join(input, chatMediaDirName, "a_overlay~zip-33333333-3333-3333-3333-333333333333.png"), mtime)
	touch(t, filepath.Join(input, chatMediaDirName, "b_overlay~zip-44444444-4444-4444-4444-444444444444.png"), mtime)

	writeHistory(t, input, map[string][]snapMessage{
		"friend@example.com": {
			{From: "me", MediaType: "MEDIA", Created: "2020-01-01 00:00:00 UTC", MediaIDs: "x|y"},
		},
	})

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.AmbiguousCases != 1 {
		t.Fatalf("expected 1 ambiguous case, got %d", result.Stats.AmbiguousCases)
	}

	needsMatching := filepath.Join(output, "needs_matching", "2020-01-01_00-00-00_UTC")
	mediaEntries, err := os.ReadDir(filepath.Join(needsMatching, "media"))
	if err != nil {
		t.Fatal(err)
	}
	if len(mediaEntries) != 2 {
		t.Fatalf("expected 2 triaged videos, got %d", len(mediaEntries))
	}
	overlayEntries, err := os.ReadDir(filepath.Join(needsMatching, "overlays"))
	if err != nil {
		t.Fatal(err)
	}
	if len(overlayEntries) != 2 {
		t.Fatalf("expected 2 triaged overlays, got %d", len(overlayEntries))
	}
	if _, err := os.Stat(filepath.Join(needsMatching, "match_info.json")); err != nil {
		t.Fatalf("expected match_info.json: %v", err)
	}
}

func TestPreprocessOrphansUnreferencedMedia(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	touch(t, filepath.Join(input, chatMediaDirName, "2023-11-14_0123456789abcdef0123456789abcdef.jpg"), time.Unix(1700000000, 0))
	writeHistory(t, input, map[string][]snapMessage{
		"friend@example.com": {
			{From: "me", MediaType: "TEXT", Created: "2023-11-14 22:13:20 UTC", Content: "hi"},
		},
	})

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.OrphanedMedia != 1 {
		t.Fatalf("expected 1 orphan, got %d", result.Stats.OrphanedMedia)
	}
}

func TestClassifyConversationDetectsGroupByUUID(t *testing.T) {
	convType, title := classifyConversation("11111111-1111-1111-1111-111111111111", []snapMessage{{From: "a"}})
	if convType != "group" || title != "" {
		t.Fatalf("expected group with no title, got %q %q", convType, title)
	}
	convType, _ = classifyConversation("friend@example.com", []snapMessage{{From: "a"}})
	if convType != "dm" {
		t.Fatalf("expected dm, got %q", convType)
	}
	convType, title = classifyConversation("anything", []snapMessage{{From: "a", ConversationTitle: "Road Trip"}})
	if convType != "group" || title != "Road Trip" {
		t.Fatalf("expected group %q, got %q %q", "Road Trip", convType, title)
	}
}
