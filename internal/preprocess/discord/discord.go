// Package discord implements the Discord export preprocessor: a
// Messages/index.json channel map plus one c{channel_id}/ directory per
// channel (channel.json + messages.json), whose attachment URLs are
// downloaded from Discord's CDN over a bounded worker pool, deduplicated
// by content hash, and rewritten into normalized media references.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/discord"
	"memoria/internal/registry"
	"memoria/internal/worker"
)

const (
	messagesDirName   = "Messages"
	indexFileName     = "index.json"
	channelFileName   = "channel.json"
	messagesFileName  = "messages.json"
	processorPriority = 40

	downloadTimeout      = 30 * time.Second
	maxRetries           = 3
	retryBackoffBase     = 2.0
	maxAttachmentBaseLen = 150
)

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".webm": true, ".mov": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true,
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// HTTPDoer is the HTTP client used to fetch CDN attachments; satisfied by
// *http.Client (http.DefaultClient in production, a recording fake in
// tests).
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	InputDir  string
	OutputDir string
	Workers   int
	Client    HTTPDoer

	// Sleeper overrides how retry backoff delays are performed; tests
	// substitute a no-op to avoid real elapsed time.
	Sleeper func(time.Duration)
}

type Stats struct {
	TotalChannels           int
	TotalMessages           int
	MessagesWithAttachments int
	TotalAttachments        int
	DownloadsSuccessful     int
	DownloadsFailed         int
	DownloadsSkipped        int
	BannedFilesSkipped      int
	UniqueFiles             int
	DuplicateFiles          int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

type messageRecord struct {
	ID           int64    `json:"id"`
	Timestamp    string   `json:"timestamp,omitempty"`
	Content      string   `json:"content,omitempty"`
	OriginalURLs []string `json:"original_urls,omitempty"`
	MediaFiles   []string `json:"media_files,omitempty"`
}

type conversationRecord struct {
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	GuildName    string          `json:"guild_name,omitempty"`
	MessageCount int             `json:"message_count"`
	Messages     []messageRecord `json:"messages"`
}

func Detect(inputDir string) bool {
	messagesDir := filepath.Join(inputDir, messagesDirName)
	if info, err := os.Stat(messagesDir); err != nil || !info.IsDir() {
		return false
	}
	if _, err := os.Stat(filepath.Join(messagesDir, indexFileName)); err != nil {
		return false
	}
	entries, err := os.ReadDir(messagesDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "c") {
			return true
		}
	}
	return false
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	messagesDir := filepath.Join(opts.InputDir, messagesDirName)
	if !Detect(opts.InputDir) {
		return Result{}, fmt.Errorf("discord: %s is not a Discord export", opts.InputDir)
	}

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = time.Sleep
	}

	channelIndex := loadIndex(filepath.Join(messagesDir, indexFileName))
	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("discord", opts.InputDir)
	mediaDestDir := common.MediaDir(opts.OutputDir)
	if err := os.MkdirAll(mediaDestDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("discord: create media dir: %w", err)
	}

	channelDirs, err := scanChannels(messagesDir)
	if err != nil {
		return Result{}, err
	}

	conversations := map[string]*conversationRecord{}
	var tasks []downloadTask
	var stats Stats

	for _, channelDirName := range channelDirs {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		channelDir := filepath.Join(messagesDir, channelDirName)
		stats.TotalChannels++

		info := parseChannelJSON(channelDir, channelDirName, channelIndex)
		messages, err := parseMessagesJSON(channelDir)
		if err != nil {
			tracker.AddProcessingFailure(channelDir, nil, "unparsable messages.json", err.Error(), map[string]any{"channel_id": info.ID})
			continue
		}
		stats.TotalMessages += len(messages)

		var channelMessages []messageRecord
		for _, m := range messages {
			if strings.TrimSpace(m.Attachments) == "" {
				continue
			}
			stats.MessagesWithAttachments++

			urls := splitAttachmentURLs(m.Attachments)
			stats.TotalAttachments += len(urls)
			for _, u := range urls {
				tasks = append(tasks, downloadTask{
					URL:       u,
					ChannelID: info.ID,
					MessageID: m.ID,
					Timestamp: m.Timestamp,
					Content:   m.Contents,
				})
			}

			timestamp := m.Timestamp
			if timestamp != "" {
				timestamp += " UTC"
			}
			channelMessages = append(channelMessages, messageRecord{
				ID:           m.ID,
				Timestamp:    timestamp,
				Content:      m.Contents,
				OriginalURLs: urls,
			})
		}

		if len(channelMessages) > 0 {
			conversations[info.ID] = &conversationRecord{
				Type:         info.Type,
				Title:        info.Title,
				GuildName:    info.GuildName,
				MessageCount: len(channelMessages),
				Messages:     channelMessages,
			}
		}
	}

	messageFiles := downloadAll(ctx, tasks, downloaderConfig{
		client:     client,
		mediaDir:   mediaDestDir,
		banned:     banned,
		reg:        reg,
		collisions: collisions,
		tracker:    tracker,
		workers:    opts.Workers,
		sleeper:    sleeper,
	}, &stats)

	for channelID, conv := range conversations {
		var kept []messageRecord
		for _, msg := range conv.Messages {
			if files, ok := messageFiles[messageKey{channelID, msg.ID}]; ok {
				msg.MediaFiles = files
				kept = append(kept, msg)
			}
		}
		conv.Messages = kept
		conv.MessageCount = len(kept)
		if len(kept) == 0 {
			delete(conversations, channelID)
		}
	}

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "conversations",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"total_channels":       stats.TotalChannels,
				"total_attachments":    stats.TotalAttachments,
				"downloads_successful": stats.DownloadsSuccessful,
				"downloads_failed":     stats.DownloadsFailed,
				"unique_files":         stats.UniqueFiles,
				"duplicate_files":      stats.DuplicateFiles,
			},
		},
		Body: conversations,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("discord: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func loadIndex(path string) map[string]string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]string{}
	}
	var idx map[string]string
	if err := json.Unmarshal(raw, &idx); err != nil {
		return map[string]string{}
	}
	return idx
}

func scanChannels(messagesDir string) ([]string, error) {
	entries, err := os.ReadDir(messagesDir)
	if err != nil {
		return nil, fmt.Errorf("discord: read %s: %w", messagesDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "c") {
			continue
		}
		if _, err := os.Stat(filepath.Join(messagesDir, e.Name(), messagesFileName)); err != nil {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	sort.Strings(dirs)
	return dirs, nil
}

type channelJSON struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Guild struct {
		Name string `json:"name"`
	} `json:"guild"`
}

type channelInfo struct {
	ID        string
	Type      string
	Title     string
	GuildName string
}

// parseChannelJSON classifies a channel directory into the conversation
// type and display title recorded in metadata.json, falling back to the
// directory name and index.json's description when channel.json is
// missing or unreadable.
func parseChannelJSON(channelDir, channelDirName string, channelIndex map[string]string) channelInfo {
	fallbackID := strings.TrimPrefix(channelDirName, "c")
	raw, err := os.ReadFile(filepath.Join(channelDir, channelFileName))
	if err != nil {
		return channelInfo{ID: fallbackID, Type: "unknown", Title: indexTitle(channelIndex, fallbackID, "Unknown Channel")}
	}
	var cj channelJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return channelInfo{ID: fallbackID, Type: "unknown", Title: indexTitle(channelIndex, fallbackID, "Unknown Channel")}
	}
	id := cj.ID
	if id == "" {
		id = fallbackID
	}

	switch cj.Type {
	case "DM":
		return channelInfo{ID: id, Type: "dm", Title: indexTitle(channelIndex, id, "Direct Message")}
	case "GROUP_DM":
		return channelInfo{ID: id, Type: "group_dm", Title: indexTitle(channelIndex, id, "Group DM")}
	case "GUILD_TEXT", "PUBLIC_THREAD", "PRIVATE_THREAD":
		name := cj.Name
		if name == "" {
			name = "unknown"
		}
		title := name
		if cj.Guild.Name != "" {
			title = fmt.Sprintf("%s in %s", name, cj.Guild.Name)
		}
		return channelInfo{ID: id, Type: "server", Title: title, GuildName: cj.Guild.Name}
	default:
		return channelInfo{ID: id, Type: "unknown", Title: indexTitle(channelIndex, id, "Unknown Channel")}
	}
}

func indexTitle(channelIndex map[string]string, id, fallback string) string {
	if title, ok := channelIndex[id]; ok && title != "" {
		return title
	}
	return fallback
}

type rawMessage struct {
	ID          int64  `json:"ID"`
	Timestamp   string `json:"Timestamp"`
	Contents    string `json:"Contents"`
	Attachments string `json:"Attachments"`
}

func parseMessagesJSON(channelDir string) ([]rawMessage, error) {
	raw, err := os.ReadFile(filepath.Join(channelDir, messagesFileName))
	if err != nil {
		return nil, err
	}
	var messages []rawMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func splitAttachmentURLs(attachments string) []string {
	var urls []string
	for _, u := range strings.Split(attachments, " ") {
		u = strings.TrimSpace(u)
		if u != "" && strings.HasPrefix(u, "http") {
			urls = append(urls, u)
		}
	}
	return urls
}

type downloadTask struct {
	URL       string
	ChannelID string
	MessageID int64
	Timestamp string
	Content   string
}

type messageKey struct {
	ChannelID string
	MessageID int64
}

type downloaderConfig struct {
	client     HTTPDoer
	mediaDir   string
	banned     *bannedpath.Filter
	reg        *hashregistry.Registry
	collisions *common.Collisions
	tracker    *failuretracker.Tracker
	workers    int
	sleeper    func(time.Duration)
}

// downloadAll fetches every attachment through a bounded worker pool,
// deduplicating successful downloads by content hash via the same
// CopyDeduped primitive every other preprocessor uses, and returns the
// resolved filenames keyed by the message that referenced them.
func downloadAll(ctx context.Context, tasks []downloadTask, cfg downloaderConfig, stats *Stats) map[messageKey][]string {
	results := map[messageKey][]string{}
	if len(tasks) == 0 {
		return results
	}

	var mu sync.Mutex
	pool := worker.New(cfg.workers)

	poolTasks := make([]worker.Task, len(tasks))
	for i, t := range tasks {
		t := t
		poolTasks[i] = func(ctx context.Context) error {
			filename, kind := processAttachment(ctx, t, cfg)
			mu.Lock()
			defer mu.Unlock()
			switch kind {
			case outcomeSkippedNonMedia:
				stats.DownloadsSkipped++
			case outcomeSkippedBanned:
				stats.BannedFilesSkipped++
			case outcomeFailed:
				stats.DownloadsFailed++
			case outcomeNew:
				stats.DownloadsSuccessful++
				stats.UniqueFiles++
				key := messageKey{t.ChannelID, t.MessageID}
				results[key] = append(results[key], filename)
			case outcomeDuplicate:
				stats.DownloadsSuccessful++
				stats.DuplicateFiles++
				key := messageKey{t.ChannelID, t.MessageID}
				results[key] = append(results[key], filename)
			}
			return nil
		}
	}
	pool.Run(ctx, poolTasks)
	return results
}

type attachmentOutcome int

const (
	outcomeFailed attachmentOutcome = iota
	outcomeSkippedNonMedia
	outcomeSkippedBanned
	outcomeNew
	outcomeDuplicate
)

func processAttachment(ctx context.Context, t downloadTask, cfg downloaderConfig) (string, attachmentOutcome) {
	originalFilename := extractFilenameFromURL(t.URL)
	if !isMediaFile(originalFilename) {
		return "", outcomeSkippedNonMedia
	}
	if cfg.banned.IsBanned(originalFilename) {
		return "", outcomeSkippedBanned
	}

	tmp, err := os.CreateTemp(cfg.mediaDir, "discord-dl-*.tmp")
	if err != nil {
		cfg.tracker.AddOrphanedMetadata(map[string]any{
			"channel_id": t.ChannelID, "message_id": t.MessageID, "url": t.URL, "filename": originalFilename,
		}, fmt.Sprintf("download failed: %v", err), map[string]any{"timestamp": t.Timestamp})
		return "", outcomeFailed
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := downloadWithRetry(ctx, cfg.client, cfg.sleeper, t.URL, tmpPath); err != nil {
		cfg.tracker.AddOrphanedMetadata(map[string]any{
			"channel_id": t.ChannelID, "message_id": t.MessageID, "url": t.URL, "filename": originalFilename,
		}, fmt.Sprintf("download failed: %v", err), map[string]any{
			"timestamp": t.Timestamp,
			"content":   truncate(t.Content, 100),
		})
		return "", outcomeFailed
	}

	declaredName := attachmentFilename(originalFilename, t.MessageID)
	result, err := common.CopyDeduped(tmpPath, declaredName, cfg.mediaDir, cfg.reg, cfg.collisions, false, map[string]any{
		"channel_id": t.ChannelID, "message_id": t.MessageID,
	})
	if err != nil {
		cfg.tracker.AddOrphanedMetadata(map[string]any{
			"channel_id": t.ChannelID, "message_id": t.MessageID, "url": t.URL, "filename": originalFilename,
		}, fmt.Sprintf("dedup copy failed: %v", err), map[string]any{"timestamp": t.Timestamp})
		return "", outcomeFailed
	}
	if result.IsNew {
		return result.Filename, outcomeNew
	}
	return result.Filename, outcomeDuplicate
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// terminalDownloadError marks a response that will never succeed on
// retry (the CDN URL has expired), per a 404 or 403 status.
type terminalDownloadError struct{ status int }

func (e *terminalDownloadError) Error() string {
	reason := "expired"
	return fmt.Sprintf("HTTP %d (%s) - URL may have expired", e.status, reason)
}

func downloadWithRetry(ctx context.Context, client HTTPDoer, sleeper func(time.Duration), url, destPath string) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := attemptDownload(ctx, client, url, destPath)
		if err == nil {
			return nil
		}
		if _, terminal := err.(*terminalDownloadError); terminal {
			return err
		}
		lastErr = err
		if attempt < maxRetries-1 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := time.Duration(pow(retryBackoffBase, attempt)*1000) * time.Millisecond
			sleeper(delay)
		}
	}
	return lastErr
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func attemptDownload(ctx context.Context, client HTTPDoer, rawURL, destPath string) error {
	reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MemoriaDiscordIngest/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return &terminalDownloadError{status: resp.StatusCode}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return nil
}

func extractFilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	base := path.Base(u.Path)
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	if base == "" || base == "/" || base == "." {
		return "unknown"
	}
	return base
}

func isMediaFile(filename string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(filename))]
}

// attachmentFilename builds the "{message_id}_{sanitized_base}{ext}"
// candidate name; actual collision resolution (two attachments in the
// same message sharing a base name) happens inside CopyDeduped, which
// only reserves a name for genuinely new content.
func attachmentFilename(originalFilename string, messageID int64) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	base := strings.TrimSuffix(originalFilename, filepath.Ext(originalFilename))
	base = invalidFilenameChars.ReplaceAllString(base, "_")
	if len(base) > maxAttachmentBaseLen {
		base = base[:maxAttachmentBaseLen]
	}
	return fmt.Sprintf("%d_%s%s", messageID, base, ext)
}

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string                { return "discord" }
func (Processor) Priority() int               { return processorPriority }
func (Processor) Detect(inputDir string) bool { return Detect(inputDir) }
func (Processor) SupportsConsolidation() bool { return false }

func (Processor) Process(ctx context.Context, inputDir, outputDir string, opts registry.Options) error {
	if _, err := Preprocess(ctx, Options{InputDir: inputDir, OutputDir: outputDir, Workers: opts.Workers}); err != nil {
		return err
	}
	_, err := process.Finalize(ctx, process.Options{
		OutputDir:    outputDir,
		ExifToolPath: common.ExifToolPath(opts.ExifToolPath),
		Workers:      opts.Workers,
	})
	return err
}
