package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
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

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, string(raw))
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

func noSleep(time.Duration) {}

func setupChannel(t *testing.T, inputDir, channelDirName string, channelJSONBody, messagesJSONBody string) {
	t.Helper()
	channelDir := filepath.Join(inputDir, messagesDirName, channelDirName)
	writeFile(t, filepath.Join(channelDir, channelFileName), channelJSONBody)
	writeFile(t, filepath.Join(channelDir, messagesFileName), messagesJSONBody)
}

func TestDetectRequiresMessagesIndexAndChannelDir(t *testing.T) {
	dir := t.TempDir()
	if Detect(dir) {
		t.Fatal("expected reject on empty dir")
	}
	writeJSON(t, filepath.Join(dir, messagesDirName, indexFileName), map[string]string{})
	if Detect(dir) {
		t.Fatal("expected reject without any channel directory")
	}
	setupChannel(t, dir, "c123", `{"id":"123","type":"DM"}`, `[]`)
	if !Detect(dir) {
		t.Fatal("expected accept with index.json and a channel directory")
	}
}

func TestPreprocessDownloadsAttachmentAndBuildsMetadata(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("attachment-bytes"))
	}))
	defer server.Close()

	writeJSON(t, filepath.Join(input, messagesDirName, indexFileName), map[string]string{"123": "General"})
	setupChannel(t, input, "c123",
		`{"id":"123","type":"GUILD_TEXT","name":"general","guild":{"name":"My Server"}}`,
		`[{"ID":1,"Timestamp":"2021-01-01 00:00:00","Contents":"look at this","Attachments":"`+server.URL+`/photo.jpg"}]`,
	)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output, Sleeper: noSleep})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.TotalChannels != 1 {
		t.Fatalf("expected 1 channel, got %d", result.Stats.TotalChannels)
	}
	if result.Stats.DownloadsSuccessful != 1 {
		t.Fatalf("expected 1 successful download, got %d", result.Stats.DownloadsSuccessful)
	}
	if result.Stats.UniqueFiles != 1 {
		t.Fatalf("expected 1 unique file, got %d", result.Stats.UniqueFiles)
	}

	meta := readMetadata(t, output)
	conversations := meta["conversations"].(map[string]any)
	conv := conversations["123"].(map[string]any)
	if conv["title"] != "general in My Server" {
		t.Fatalf("expected guild-qualified title, got %v", conv["title"])
	}
	messages := conv["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0].(map[string]any)
	files := msg["media_files"].([]any)
	if len(files) != 1 {
		t.Fatalf("expected 1 media file, got %d", len(files))
	}
}

func TestPreprocess404IsTerminalWithNoRetry(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	writeJSON(t, filepath.Join(input, messagesDirName, indexFileName), map[string]string{})
	setupChannel(t, input, "c123",
		`{"id":"123","type":"DM"}`,
		`[{"ID":1,"Timestamp":"2021-01-01 00:00:00","Contents":"","Attachments":"`+server.URL+`/photo.jpg"}]`,
	)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output, Sleeper: noSleep})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.DownloadsFailed != 1 {
		t.Fatalf("expected 1 failed download, got %d", result.Stats.DownloadsFailed)
	}
	if requestCount != 1 {
		t.Fatalf("expected exactly 1 request (no retry on 404), got %d", requestCount)
	}
}

func TestPreprocessRetriesTransientFailureThenSucceeds(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("attachment-bytes"))
	}))
	defer server.Close()

	writeJSON(t, filepath.Join(input, messagesDirName, indexFileName), map[string]string{})
	setupChannel(t, input, "c123",
		`{"id":"123","type":"DM"}`,
		`[{"ID":1,"Timestamp":"2021-01-01 00:00:00","Contents":"","Attachments":"`+server.URL+`/photo.jpg"}]`,
	)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output, Sleeper: noSleep})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.DownloadsSuccessful != 1 {
		t.Fatalf("expected eventual success, got %d successful, %d failed", result.Stats.DownloadsSuccessful, result.Stats.DownloadsFailed)
	}
	if requestCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", requestCount)
	}
}

func TestPreprocessDedupesDuplicateURLAcrossChannels(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("same-bytes"))
	}))
	defer server.Close()

	writeJSON(t, filepath.Join(input, messagesDirName, indexFileName), map[string]string{})
	setupChannel(t, input, "c111",
		`{"id":"111","type":"DM"}`,
		`[{"ID":1,"Timestamp":"2021-01-01 00:00:00","Contents":"","Attachments":"`+server.URL+`/photo.jpg"}]`,
	)
	setupChannel(t, input, "c222",
		`{"id":"222","type":"DM"}`,
		`[{"ID":2,"Timestamp":"2021-01-01 00:00:00","Contents":"","Attachments":"`+server.URL+`/photo.jpg"}]`,
	)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output, Sleeper: noSleep})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.DownloadsSuccessful != 2 {
		t.Fatalf("expected 2 successful downloads, got %d", result.Stats.DownloadsSuccessful)
	}
	if result.Stats.UniqueFiles != 1 || result.Stats.DuplicateFiles != 1 {
		t.Fatalf("expected 1 unique + 1 duplicate, got unique=%d duplicate=%d", result.Stats.UniqueFiles, result.Stats.DuplicateFiles)
	}
}

func TestPreprocessSkipsNonMediaAttachment(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()

	writeJSON(t, filepath.Join(input, messagesDirName, indexFileName), map[string]string{})
	setupChannel(t, input, "c123",
		`{"id":"123","type":"DM"}`,
		`[{"ID":1,"Timestamp":"2021-01-01 00:00:00","Contents":"","Attachments":"https://cdn.example.com/doc.pdf"}]`,
	)

	result, err := Preprocess(context.Background(), Options{InputDir: input, OutputDir: output, Sleeper: noSleep})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.DownloadsSkipped != 1 {
		t.Fatalf("expected 1 skipped non-media attachment, got %d", result.Stats.DownloadsSkipped)
	}
}
