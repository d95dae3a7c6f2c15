// Package instagrammessages implements the Instagram Messages
// preprocessor: per-conversation "message_N.html" transcripts under
// either the new (2025+) or legacy (2022) export layout, each message's
// media references resolved against a filename catalog built from every
// conversation's "photos/" subdirectory.
package instagrammessages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/instagrammessages"
	"memoria/internal/registry"
)

const (
	newFormatInbox    = "your_instagram_activity/messages/inbox"
	legacyFormatInbox = "messages/inbox"
	htmlFilename      = "message_1.html"
	processorPriority = 45
)

type Options struct {
	InputDir  string
	OutputDir string
}

type Stats struct {
	ConversationCount int
	MessagesWithMedia int
	MatchedFiles      int
	MissingFiles      int
	OrphanedMedia     int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

type messageRecord struct {
	Sender       string   `json:"sender"`
	Timestamp    string   `json:"timestamp,omitempty"`
	TimestampRaw string   `json:"timestamp_raw,omitempty"`
	MediaFiles   []string `json:"media_files,omitempty"`
}

type conversationRecord struct {
	ConversationID    string          `json:"conversation_id"`
	ConversationTitle string          `json:"conversation_title"`
	Messages          []messageRecord `json:"messages"`
}

var deletedUserPrefix = "instagramuser_"

// messageContainerClass and its child selectors are the Facebook-export
// markup's fixed class names; both the new and legacy layouts share them.
const (
	messageContainerClass = ".pam._3-95._2ph-._a6-g.uiBoxWhite.noborder"
	senderNewClass        = "h2._3-95._2pim._a6-h._a6-i"
	senderLegacyClass     = "div._3-95._2pim._a6-h._a6-i"
	timestampClass        = "div._3-94._a6-o"
)

// timestampFormats: new export format omits the comma after the year and
// lowercases am/pm ("Sep 22, 2017 6:33 am"); legacy keeps the comma and
// uppercases it ("Sep 22, 2017, 6:33 AM").
var timestampFormats = []string{
	"Jan 2, 2006 3:04 pm",
	"Jan 2, 2006, 3:04 PM",
}

func inboxDir(inputDir string) (string, bool) {
	if info, err := os.Stat(filepath.Join(inputDir, filepath.FromSlash(newFormatInbox))); err == nil && info.IsDir() {
		return filepath.Join(inputDir, filepath.FromSlash(newFormatInbox)), true
	}
	if info, err := os.Stat(filepath.Join(inputDir, filepath.FromSlash(legacyFormatInbox))); err == nil && info.IsDir() {
		return filepath.Join(inputDir, filepath.FromSlash(legacyFormatInbox)), true
	}
	return "", false
}

func Detect(inputDir string) bool {
	dir, ok := inboxDir(inputDir)
	if !ok {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			return true
		}
	}
	return false
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	messagesDir, ok := inboxDir(opts.InputDir)
	if !ok {
		return Result{}, fmt.Errorf("instagrammessages: no inbox directory found under %s", opts.InputDir)
	}

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("instagrammessages", opts.InputDir)
	mediaDir := common.MediaDir(opts.OutputDir)

	entries, err := os.ReadDir(messagesDir)
	if err != nil {
		return Result{}, fmt.Errorf("instagrammessages: read %s: %w", messagesDir, err)
	}

	catalog := map[string]string{} // filename -> source path
	deletedUserNames := map[string]string{}
	var deletedUserCounter int

	matchedFilenames := map[string]bool{}
	var conversations []conversationRecord
	var stats Stats

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		if !e.IsDir() || banned.IsBanned(e.Name()) {
			continue
		}
		convDir := filepath.Join(messagesDir, e.Name())

		photosDir := filepath.Join(convDir, "photos")
		if infos, err := os.ReadDir(photosDir); err == nil {
			for _, f := range infos {
				if f.IsDir() || banned.IsBanned(f.Name()) {
					continue
				}
				catalog[f.Name()] = filepath.Join(photosDir, f.Name())
			}
		}

		htmlPath := filepath.Join(convDir, htmlFilename)
		if _, err := os.Stat(htmlPath); err != nil {
			continue
		}

		conversationID := e.Name()
		title := conversationTitle(htmlPath, conversationID, deletedUserNames, &deletedUserCounter)
		messages, err := parseConversationHTML(htmlPath)
		if err != nil {
			tracker.AddProcessingFailure(htmlPath, nil, "unparsable transcript html", err.Error(), map[string]any{"conversation_id": conversationID})
			continue
		}
		if len(messages) == 0 {
			continue
		}
		stats.ConversationCount++

		rec := conversationRecord{ConversationID: conversationID, ConversationTitle: title}
		for _, msg := range messages {
			stats.MessagesWithMedia++
			var matched []string
			for _, mediaPath := range msg.MediaFiles {
				filename := filepath.Base(mediaPath)
				srcPath, ok := catalog[filename]
				if !ok {
					tracker.AddOrphanedMetadata(map[string]any{
						"conversation_id":    conversationID,
						"conversation_title": title,
						"media_path":         mediaPath,
						"message_timestamp":  msg.Timestamp,
						"sender":             msg.Sender,
					}, "media file not found in filesystem", map[string]any{"expected_filename": filename})
					stats.MissingFiles++
					continue
				}
				result, err := common.CopyDeduped(srcPath, filename, mediaDir, reg, collisions, false, map[string]any{"conversation_id": conversationID})
				if err != nil {
					tracker.AddProcessingFailure(srcPath, nil, "copy failed", err.Error(), map[string]any{"conversation_id": conversationID})
					continue
				}
				matched = append(matched, result.Filename)
				matchedFilenames[filename] = true
				stats.MatchedFiles++
			}
			msg.MediaFiles = matched
			rec.Messages = append(rec.Messages, msg)
		}
		conversations = append(conversations, rec)
	}

	for filename, srcPath := range catalog {
		if matchedFilenames[filename] {
			continue
		}
		tracker.AddOrphanedMedia(srcPath, "no matching metadata found", map[string]any{"original_location": srcPath})
		stats.OrphanedMedia++
	}

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "conversations",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"conversation_count": stats.ConversationCount,
			},
		},
		Body: conversations,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("instagrammessages: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func conversationTitle(htmlPath, conversationID string, deletedUserNames map[string]string, counter *int) string {
	if strings.HasPrefix(conversationID, deletedUserPrefix) {
		if name, ok := deletedUserNames[conversationID]; ok {
			return name
		}
		*counter++
		name := fmt.Sprintf("deleted_%d", *counter)
		deletedUserNames[conversationID] = name
		return name
	}
	f, err := os.Open(htmlPath)
	if err != nil {
		return conversationID
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return conversationID
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return conversationID
}

var photosHrefPattern = regexp.MustCompile(`/photos/`)

func parseConversationHTML(path string) ([]messageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}

	var messages []messageRecord
	doc.Find(classSelector(messageContainerClass)).Each(func(_ int, container *goquery.Selection) {
		sender := "Unknown"
		if s := container.Find(classSelector(senderNewClass)).First(); s.Length() > 0 {
			sender = strings.TrimSpace(s.Text())
		} else if s := container.Find(classSelector(senderLegacyClass)).First(); s.Length() > 0 {
			sender = strings.TrimSpace(s.Text())
		}

		var timestamp, timestampRaw string
		if ts := container.Find(classSelector(timestampClass)).First(); ts.Length() > 0 {
			timestampRaw = strings.TrimSpace(ts.Text())
			timestamp = parseTimestamp(timestampRaw)
		}

		var mediaPaths []string
		seen := map[string]bool{}
		container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok && photosHrefPattern.MatchString(href) && !seen[href] {
				mediaPaths = append(mediaPaths, href)
				seen[href] = true
			}
		})
		container.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok && photosHrefPattern.MatchString(src) && !seen[src] {
				mediaPaths = append(mediaPaths, src)
				seen[src] = true
			}
		})

		if len(mediaPaths) == 0 {
			return
		}
		messages = append(messages, messageRecord{
			Sender:       sender,
			Timestamp:    timestamp,
			TimestampRaw: timestampRaw,
			MediaFiles:   mediaPaths,
		})
	})
	return messages, nil
}

// classSelector turns a dotted shorthand like "h2._3-95" (an element name,
// or nothing before the first dot, followed by class names) into a
// goquery-compatible CSS selector; Instagram's export class names
// contain characters (leading digits, hyphens) that must be escaped for
// a literal dot-joined selector to parse correctly, so each class becomes
// its own [class~=...] attribute selector and the selectors are
// concatenated instead.
func classSelector(classes string) string {
	parts := strings.Split(classes, ".")
	b := strings.Builder{}
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("[class~=%q]", p))
	}
	return b.String()
}

func parseTimestamp(raw string) string {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	return ""
}

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string                { return "instagrammessages" }
func (Processor) Priority() int               { return processorPriority }
func (Processor) Detect(inputDir string) bool { return Detect(inputDir) }
func (Processor) SupportsConsolidation() bool { return false }

func (Processor) Process(ctx context.Context, inputDir, outputDir string, opts registry.Options) error {
	if _, err := Preprocess(ctx, Options{InputDir: inputDir, OutputDir: outputDir}); err != nil {
		return err
	}
	_, err := process.Finalize(ctx, process.Options{
		OutputDir:    outputDir,
		ExifToolPath: common.ExifToolPath(opts.ExifToolPath),
		Workers:      opts.Workers,
	})
	return err
}
