package instagrammessages

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"memoria/internal/metadatajson"
)

func TestFinalizeRenamesConversationMedia(t *testing.T) {
	output := t.TempDir()
	mediaDir := filepath.Join(output, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "dm1.jpg"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	type messageRecord struct {
		Sender     string   `json:"sender"`
		Timestamp  string   `json:"timestamp,omitempty"`
		MediaFiles []string `json:"media_files,omitempty"`
	}
	type conversationRecord struct {
		ConversationID    string          `json:"conversation_id"`
		ConversationTitle string          `json:"conversation_title"`
		Messages          []messageRecord `json:"messages"`
	}
	conv := conversationRecord{
		ConversationID:    "user1",
		ConversationTitle: "user1",
		Messages:          []messageRecord{{Sender: "user1", Timestamp: "2021-06-05T10:00:00Z", MediaFiles: []string{"dm1.jpg"}}},
	}

	env := metadatajson.Envelope{
		BodyKey:    bodyKey,
		ExportInfo: metadatajson.ExportInfo{ExportPath: "/in", ProcessedDate: time.Now().UTC().Format(time.RFC3339)},
		Body:       []conversationRecord{conv},
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
