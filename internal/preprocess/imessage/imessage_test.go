package imessage

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

func findConversation(t *testing.T, meta map[string]any, id string) map[string]any {
	t.Helper()
	for _, raw := range meta["conversations"].([]any) {
		conv := raw.(map[string]any)
		if conv["conversation_id"] == id {
			return conv
		}
	}
	t.Fatalf("conversation %q not found in %v", id, meta["conversations"])
	return nil
}

func TestDetectRequiresNamingPatternAndMediaExtension(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected reject on empty dir")
	}
	writeFile(t, filepath.Join(dir, "notes.txt"), "irrelevant")
	if Detect(dir) {
		t.Fatal("expected reject for a file with no media extension")
	}
	writeFile(t, filepath.Join(dir, "2021-01-01 10 00 00 - John Smith - IMG_0001.jpg"), "jpg-bytes")
	if !Detect(dir) {
		t.Fatal("expected accept with a matching media filename")
	}
}

func TestPreprocessBuildsSingleMessageWithoutCSV(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeFile(t, filepath.Join(input, "2021-01-01 10 00 00 - John Smith - IMG_0001.jpg"), "jpg-bytes-1")

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.MediaFilesFound != 1 || result.Stats.UniqueFiles != 1 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}

	meta := readMetadata(t, output)
	conv := findConversation(t, meta, "John Smith")
	if conv["type"] != "dm" {
		t.Fatalf("expected dm conversation, got %v", conv["type"])
	}
	messages := conv["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0].(map[string]any)
	if msg["sender"] != "John Smith" {
		t.Fatalf("expected conversation-name sender fallback, got %v", msg["sender"])
	}
	if msg["media_type"] != "IMAGE" {
		t.Fatalf("expected IMAGE media type, got %v", msg["media_type"])
	}
}

func TestPreprocessGroupConversationDetectedByAmpersand(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeFile(t, filepath.Join(input, "2021-01-01 10 00 00 - John Smith & Jane Doe - IMG_0001.jpg"), "jpg-bytes-group")

	_, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	meta := readMetadata(t, output)
	conv := findConversation(t, meta, "John Smith & Jane Doe")
	if conv["type"] != "group" {
		t.Fatalf("expected group conversation, got %v", conv["type"])
	}
}

func TestPreprocessCSVEnrichesOutgoingMessage(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeFile(t, filepath.Join(input, "2021-01-01 10 00 00 - John Smith - IMG_0001.jpg"), "jpg-bytes-csv")
	csv := "Chat Session,Message Date,Delivered Date,Read Date,Service,Type,Sender ID,Sender Name,Status,Replying to,Subject,Text,Attachment,Attachment type\n" +
		"John Smith,2021-01-01 10:00:00,,,iMessage,Outgoing,me,me,Sent,,,Check this out,IMG_0001.jpg,image\n"
	writeFile(t, filepath.Join(input, "Messages - John Smith.csv"), csv)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.CSVMessagesLoaded != 1 {
		t.Fatalf("expected 1 csv message loaded, got %d", result.Stats.CSVMessagesLoaded)
	}

	meta := readMetadata(t, output)
	conv := findConversation(t, meta, "John Smith")
	msg := conv["messages"].([]any)[0].(map[string]any)
	if msg["sender"] != "me" {
		t.Fatalf("expected outgoing sender 'me', got %v", msg["sender"])
	}
	if msg["is_sender"] != true {
		t.Fatalf("expected is_sender true, got %v", msg["is_sender"])
	}
	if msg["content"] != "Check this out" {
		t.Fatalf("expected csv text content, got %v", msg["content"])
	}
}

func TestPreprocessDuplicateContentMergesUnderEarliestInstance(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	// Same bytes under two different filenames/conversations/timestamps;
	// the earlier one (Jan 1) must become the kept physical copy and
	// the merged message's conversation.
	writeFile(t, filepath.Join(input, "2021-01-02 10 00 00 - Jane Doe - IMG_0002.jpg"), "shared-bytes")
	writeFile(t, filepath.Join(input, "2021-01-01 09 00 00 - John Smith - IMG_0001.jpg"), "shared-bytes")

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.UniqueFiles != 1 || result.Stats.DuplicateFiles != 1 {
		t.Fatalf("expected 1 unique + 1 duplicate, got unique=%d duplicate=%d", result.Stats.UniqueFiles, result.Stats.DuplicateFiles)
	}

	meta := readMetadata(t, output)
	conv := findConversation(t, meta, "John Smith")
	messages := conv["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected merged message under the earlier instance's conversation, got %d messages", len(messages))
	}
	merged := messages[0].(map[string]any)
	if merged["is_duplicate"] != true {
		t.Fatalf("expected is_duplicate true, got %v", merged["is_duplicate"])
	}
	subs := merged["messages"].([]any)
	if len(subs) != 2 {
		t.Fatalf("expected 2 merged sub-messages, got %d", len(subs))
	}
}

func TestPreprocessNoMediaFilesWritesEmptyMetadata(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeFile(t, filepath.Join(input, "notes.txt"), "irrelevant")

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.MediaFilesFound != 0 {
		t.Fatalf("expected 0 media files found, got %d", result.Stats.MediaFilesFound)
	}
	meta := readMetadata(t, output)
	if len(meta["conversations"].([]any)) != 0 {
		t.Fatalf("expected empty conversations, got %v", meta["conversations"])
	}
}
