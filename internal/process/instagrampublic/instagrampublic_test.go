package instagrampublic

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"memoria/internal/metadatajson"
)

func TestFinalizeAppliesGPSAndCaption(t *testing.T) {
	output := t.TempDir()
	mediaDir := filepath.Join(output, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "post1.jpg"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	type postRecord struct {
		MediaType  string   `json:"media_type"`
		Caption    string   `json:"caption,omitempty"`
		Timestamp  string   `json:"timestamp,omitempty"`
		Latitude   *float64 `json:"latitude,omitempty"`
		Longitude  *float64 `json:"longitude,omitempty"`
		MediaFiles []string `json:"media_files,omitempty"`
	}
	lat, lon := 40.7128, -74.0060
	post := postRecord{
		MediaType:  "image",
		Caption:    "a day in the city",
		Timestamp:  "2021-06-05 10:00:00",
		Latitude:   &lat,
		Longitude:  &lon,
		MediaFiles: []string{"post1.jpg"},
	}

	env := metadatajson.Envelope{
		BodyKey: bodyKey,
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    "/in",
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
		},
		Body: []postRecord{post},
	}
	metadataPath := filepath.Join(output, "metadata.json")
	if err := metadatajson.Write(metadataPath, env); err != nil {
		t.Fatal(err)
	}

	result, err := Finalize(context.Background(), Options{OutputDir: output, ExifToolPath: "/nonexistent/exiftool", Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.FilesRenamed != 1 {
		t.Fatalf("expected 1 rename, got %+v", result.Stats)
	}
	if result.Stats.TagFailures == 0 {
		t.Fatalf("expected GPS+caption tag attempt to fail against the nonexistent exiftool binary")
	}

	raw, err := os.ReadFile(metadataPath)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	posts := out["posts"].([]any)
	rec := posts[0].(map[string]any)
	files := rec["media_files"].([]any)
	if files[0] != "20210605_100000_post1.jpg" {
		t.Fatalf("expected renamed media file, got %v", files[0])
	}
}
