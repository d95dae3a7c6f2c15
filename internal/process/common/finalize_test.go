package common

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTimestampAcceptsKnownLayouts(t *testing.T) {
	cases := []string{
		"2021-06-05T10:00:00Z",
		"2021-06-05 10:00:00",
		"2021-06-05 10:00:00 UTC",
		"2021-06-05",
	}
	for _, c := range cases {
		if _, ok := ParseTimestamp(c); !ok {
			t.Errorf("expected %q to parse", c)
		}
	}
	if _, ok := ParseTimestamp(""); ok {
		t.Error("expected empty string to reject")
	}
	if _, ok := ParseTimestamp("not a date"); ok {
		t.Error("expected garbage string to reject")
	}
}

func TestRenameTemplateIsIdempotent(t *testing.T) {
	ts := time.Date(2021, 6, 5, 10, 0, 0, 0, time.UTC)
	first := renameTemplate(ts, "IMG_0001.jpg")
	if first != "20210605_100000_IMG_0001.jpg" {
		t.Fatalf("unexpected name: %s", first)
	}
	second := renameTemplate(ts, first)
	if second != first {
		t.Fatalf("expected re-applying the template to be a no-op, got %s", second)
	}
}

func TestFinalizeRenamesTagsAndAppliesTimes(t *testing.T) {
	dir := t.TempDir()
	mediaPath := filepath.Join(dir, "IMG_0001.jpg")
	if err := os.WriteFile(mediaPath, []byte("jpg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2021, 6, 5, 10, 0, 0, 0, time.UTC)
	items := []*Item{
		{Filename: "IMG_0001.jpg", Timestamp: ts, Description: "a day out"},
	}

	stats, err := Finalize(context.Background(), dir, "/nonexistent/exiftool", items, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesRenamed != 1 {
		t.Fatalf("expected 1 rename, got %d", stats.FilesRenamed)
	}
	if stats.TagFailures == 0 {
		t.Fatalf("expected the nonexistent exiftool binary to fail, got 0 failures")
	}

	renamedPath := filepath.Join(dir, "20210605_100000_IMG_0001.jpg")
	info, err := os.Stat(renamedPath)
	if err != nil {
		t.Fatalf("expected renamed file to exist: %v", err)
	}
	if !info.ModTime().Equal(ts) {
		t.Fatalf("expected mtime %v, got %v", ts, info.ModTime())
	}
}

func TestFinalizeSkipsRenameWithoutTimestamp(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("mp4-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	items := []*Item{{Filename: "clip.mp4"}}

	stats, err := Finalize(context.Background(), dir, "/nonexistent/exiftool", items, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesRenamed != 0 {
		t.Fatalf("expected no rename without a timestamp, got %d", stats.FilesRenamed)
	}
	if _, err := os.Stat(filepath.Join(dir, "clip.mp4")); err != nil {
		t.Fatalf("expected original file to remain: %v", err)
	}
}
