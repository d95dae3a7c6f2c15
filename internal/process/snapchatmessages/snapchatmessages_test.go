package snapchatmessages

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"memoria/internal/metadatajson"
)

func TestFinalizeRenamesFlatMessageMedia(t *testing.T) {
	output := t.TempDir()
	mediaDir := filepath.Join(output, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "snap1.jpg"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	type messageRecord struct {
		ConversationID string   `json:"conversation_id"`
		Sender         string   `json:"sender"`
		Created        string   `json:"created,omitempty"`
		Content        string   `json:"content,omitempty"`
		MediaFiles     []string `json:"media_files,omitempty"`
	}
	msg := messageRecord{ConversationID: "friend1", Sender: "friend1", Created: "2021-06-05T10:00:00Z", MediaFiles: []string{"snap1.jpg"}}

	env := metadatajson.Envelope{
		BodyKey:    bodyKey,
		ExportInfo: metadatajson.ExportInfo{ExportPath: "/in", ProcessedDate: time.Now().UTC().Format(time.RFC3339)},
		Body:       []messageRecord{msg},
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
