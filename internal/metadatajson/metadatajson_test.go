package metadatajson

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

type album struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")

	env := Envelope{
		BodyKey: "albums",
		ExportInfo: ExportInfo{
			ExportPath:    "/export/takeout",
			ProcessedDate: "2026-07-31T00:00:00Z",
			Extra:         map[string]any{"album_count": 2},
		},
		Body: []album{
			{Name: "Café", Files: []string{"IMG_0001.JPG"}},
		},
		OrphanedMedia: []any{map[string]any{"file_path": "IMG_0002.JPG"}},
	}

	if err := Write(path, env); err != nil {
		t.Fatal(err)
	}

	raw, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.ExportInfo.ExportPath != "/export/takeout" {
		t.Fatalf("unexpected export path: %q", raw.ExportInfo.ExportPath)
	}
	if raw.ExportInfo.Extra["album_count"] != float64(2) {
		t.Fatalf("unexpected album_count: %v", raw.ExportInfo.Extra["album_count"])
	}
	if len(raw.OrphanedMedia) != 1 {
		t.Fatalf("expected one orphaned media entry, got %d", len(raw.OrphanedMedia))
	}

	body, err := raw.Body()
	if err != nil {
		t.Fatal(err)
	}
	var albums []album
	if err := json.Unmarshal(body, &albums); err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].Name != "Café" {
		t.Fatalf("unexpected albums: %+v", albums)
	}
}

func TestWriteDoesNotEscapeNonASCII(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	env := Envelope{
		BodyKey:    "media",
		ExportInfo: ExportInfo{ExportPath: "/export", ProcessedDate: "2026-07-31T00:00:00Z"},
		Body:       []string{"naïve café.jpg"},
	}
	if err := Write(path, env); err != nil {
		t.Fatal(err)
	}
	raw, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	body, err := raw.Body()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), `\u00`) {
		t.Fatalf("expected unescaped non-ASCII, got %s", body)
	}
}
