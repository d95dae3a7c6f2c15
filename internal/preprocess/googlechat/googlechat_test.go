package googlechat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectRequiresPopulatedGroupsDirectory(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected Detect to reject a directory with no Google Chat subdir")
	}
	// Users-only export: Groups absent entirely.
	if err := os.MkdirAll(filepath.Join(dir, "Google Chat", "Users", "u1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if Detect(dir) {
		t.Fatal("expected Detect to reject a Users-only export")
	}
	if err := os.MkdirAll(filepath.Join(dir, "Google Chat", "Groups", "g1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !Detect(dir) {
		t.Fatal("expected Detect to accept an export with a populated Groups directory")
	}
}

func TestConversationTitleForDM(t *testing.T) {
	info := groupInfo{
		Members: []member{
			{Name: "Alice Owner", Email: "owner@example.com"},
			{Name: "Bob Friend", Email: "bob@example.com"},
		},
	}
	got := conversationTitle(info, "owner@example.com")
	if got != "Bob Friend" {
		t.Fatalf("expected Bob Friend, got %q", got)
	}
}

func TestConversationTitleForSpaceFallsBackToMemberNames(t *testing.T) {
	info := groupInfo{
		Members: []member{
			{Name: "Alice Owner", Email: "owner@example.com"},
			{Name: "Bob Friend", Email: "bob@example.com"},
			{Name: "Carol Pal", Email: "carol@example.com"},
		},
	}
	got := conversationTitle(info, "owner@example.com")
	if got != "Bob, Carol" {
		t.Fatalf("expected comma-joined first names, got %q", got)
	}
}

func TestPreprocessMatchesAttachmentAndCountsConversation(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeJSON(t, filepath.Join(input, "Google Chat", "Users", "u1", "user_info.json"), userInfo{
		User: member{Name: "Alice Owner", Email: "owner@example.com"},
	})

	convDir := filepath.Join(input, "Google Chat", "Groups", "g1")
	writeJSON(t, filepath.Join(convDir, "group_info.json"), groupInfo{
		Members: []member{
			{Name: "Alice Owner", Email: "owner@example.com"},
			{Name: "Bob Friend", Email: "bob@example.com"},
		},
	})
	writeJSON(t, filepath.Join(convDir, "messages.json"), messagesFile{
		Messages: []chatMessage{
			{
				Creator:     member{Name: "Bob Friend", Email: "bob@example.com"},
				CreatedDate: "Wednesday, May 4, 2016 at 4:20:19 AM UTC",
				Text:        "check this out",
				AttachedFiles: []attachedFile{
					{ExportName: "photo.jpg"},
				},
			},
		},
	})
	if err := os.WriteFile(filepath.Join(convDir, "photo.jpg"), []byte("jpg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.MatchedFiles != 1 {
		t.Fatalf("expected 1 matched file, got %d", result.Stats.MatchedFiles)
	}
	if result.Stats.ConversationCount != 1 {
		t.Fatalf("expected 1 conversation, got %d", result.Stats.ConversationCount)
	}
}
