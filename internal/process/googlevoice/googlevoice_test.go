package googlevoice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"memoria/internal/metadatajson"
)

func TestFinalizeRenamesTranscriptMedia(t *testing.T) {
	output := t.TempDir()
	mediaDir := filepath.Join(output, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "voicemail.amr"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	type messageRecord struct {
		Sender     string   `json:"sender,omitempty"`
		Timestamp  string   `json:"timestamp,omitempty"`
		Text       string   `json:"text,omitempty"`
		MediaFiles []string `json:"media_files,omitempty"`
	}
	type transcriptRecord struct {
		Contact  string          `json:"contact"`
		Messages []messageRecord `json:"messages"`
	}
	record := transcriptRecord{
		Contact:  "+15551234567",
		Messages: []messageRecord{{Sender: "+15551234567", Timestamp: "2021-06-05T10:00:00Z", MediaFiles: []string{"voicemail.amr"}}},
	}

	env := metadatajson.Envelope{
		BodyKey:    bodyKey,
		ExportInfo: metadatajson.ExportInfo{ExportPath: "/in", ProcessedDate: time.Now().UTC().Format(time.RFC3339)},
		Body:       []transcriptRecord{record},
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
}
