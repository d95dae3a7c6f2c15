// Package snapchatmessages implements the Snapchat Messages preprocessor:
// a conversation-keyed "json/chat_history.json" plus a flat "chat_media/"
// directory whose filenames carry one of several ID schemes, resolved to
// messages in three phases (explicit media ID, timestamp-matched UUID
// media, unambiguous mtime-paired overlay), with genuinely ambiguous
// overlay groups routed to a per-timestamp triage tree instead of guessed.
package snapchatmessages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/snapchatmessages"
	"memoria/internal/registry"
)

const (
	jsonDirName       = "json"
	chatMediaDirName  = "chat_media"
	chatHistoryName   = "chat_history.json"
	processorPriority = 55
)

var groupConversationID = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

type Options struct {
	InputDir  string
	OutputDir string
}

type Stats struct {
	ConversationCount int
	MessageCount      int
	MediaMessages     int
	MatchedFiles      int
	AmbiguousCases    int
	OrphanedMedia     int
	UniqueFiles       int
	DuplicateFiles    int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

func Detect(inputDir string) bool {
	if _, err := os.Stat(filepath.Join(inputDir, chatMediaDirName)); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(inputDir, jsonDirName, chatHistoryName))
	return err == nil
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	chatMediaDir := filepath.Join(opts.InputDir, chatMediaDirName)
	raw, err := os.ReadFile(filepath.Join(opts.InputDir, jsonDirName, chatHistoryName))
	if err != nil {
		return Result{}, fmt.Errorf("snapchatmessages: read chat_history.json: %w", err)
	}
	var chatHistory map[string][]snapMessage
	if err := json.Unmarshal(raw, &chatHistory); err != nil {
		return Result{}, fmt.Errorf("snapchatmessages: parse chat_history.json: %w", err)
	}

	catalog, err := buildCatalog(chatMediaDir)
	if err != nil {
		return Result{}, err
	}

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("snapchatmessages", opts.InputDir)
	mediaDestDir := common.MediaDir(opts.OutputDir)
	overlaysDestDir := filepath.Join(opts.OutputDir, "overlays")

	var stats Stats

	// Organize wholesale: every cataloged file is copied (deduped) to its
	// kind's destination directory before any message-matching happens,
	// mirroring the source preprocessor's copy-then-reconcile ordering.
	destName := make(map[string]string, len(catalog))
	for name, fi := range catalog {
		if banned.IsBanned(name) {
			continue
		}
		destDir := mediaDestDir
		if fi.Kind == kindOverlay {
			destDir = overlaysDestDir
		}
		result, err := common.CopyDeduped(filepath.Join(chatMediaDir, name), name, destDir, reg, collisions, false, nil)
		if err != nil {
			tracker.AddProcessingFailure(filepath.Join(chatMediaDir, name), nil, "copy failed", err.Error(), nil)
			continue
		}
		destName[name] = result.Filename
	}

	mediaIDToFilename, mtimeToFiles := buildLookups(catalog)
	matchedMedia := map[string]bool{}
	matchedOverlays := map[string]bool{}

	var messages []messageRecord
	var ambiguous []ambiguousCase

	for convID, msgs := range chatHistory {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		stats.ConversationCount++
		convType, convTitle := classifyConversation(convID, msgs)

		for _, m := range msgs {
			stats.MessageCount++
			if m.MediaType == "TEXT" {
				continue
			}
			stats.MediaMessages++

			rec := messageRecord{
				ConversationID:    convID,
				ConversationType:  convType,
				ConversationTitle: convTitle,
				Sender:            m.From,
				Created:           m.Created,
				Content:           m.Content,
				IsSender:          m.IsSender,
			}

			ids := splitMediaIDs(m.MediaIDs)
			var mediaFiles []string

			// Phase 1: explicit media ID.
			for _, id := range ids {
				if fname, ok := mediaIDToFilename[id]; ok && !matchedMedia[fname] {
					mediaFiles = append(mediaFiles, fname)
					matchedMedia[fname] = true
				}
			}

			// Phase 2: timestamp-matched UUID media, only for ids still unresolved.
			msgTime, hasTime := parseCreated(m.Created)
			if hasTime {
				if needed := len(ids) - len(mediaFiles); needed > 0 {
					for _, f := range mtimeToFiles[msgTime] {
						if f.Kind != kindMedia || matchedMedia[f.Filename] {
							continue
						}
						mediaFiles = append(mediaFiles, f.Filename)
						matchedMedia[f.Filename] = true
						needed--
						if needed == 0 {
							break
						}
					}
				}
			}

			if len(mediaFiles) == 0 {
				messages = append(messages, rec)
				continue
			}

			// Phase 3: overlay pairing, only when unambiguous (exactly one
			// video among the matched media and exactly one overlay sharing
			// the message timestamp).
			var overlaysAtTime []string
			if hasTime {
				for _, f := range mtimeToFiles[msgTime] {
					if f.Kind == kindOverlay && !matchedOverlays[f.Filename] {
						overlaysAtTime = append(overlaysAtTime, f.Filename)
					}
				}
			}
			videoCount, imageCount := 0, 0
			for _, f := range mediaFiles {
				if mediaType(f) == "video" {
					videoCount++
				} else {
					imageCount++
				}
			}

			var pairedOverlay string
			switch {
			case videoCount == 1 && len(overlaysAtTime) == 1:
				pairedOverlay = overlaysAtTime[0]
				matchedOverlays[pairedOverlay] = true
			case len(overlaysAtTime) > 0 && (videoCount > 1 || len(overlaysAtTime) > 1):
				ac := buildAmbiguousCase(rec, m.Created, mediaFiles, overlaysAtTime, catalog, videoCount, imageCount)
				ambiguous = append(ambiguous, ac)
				stats.AmbiguousCases++
			}

			for _, fname := range mediaFiles {
				if dest, ok := destName[fname]; ok {
					rec.MediaFiles = append(rec.MediaFiles, dest)
					stats.MatchedFiles++
				}
			}
			_ = pairedOverlay // used only above, for matchedOverlays bookkeeping
			messages = append(messages, rec)
		}
	}

	for name, fi := range catalog {
		if fi.Kind == kindMedia && !matchedMedia[name] {
			tracker.AddOrphanedMedia(filepath.Join(chatMediaDir, name), "no message referenced this media file", nil)
			stats.OrphanedMedia++
		}
	}

	if err := organizeAmbiguous(ambiguous, mediaDestDir, overlaysDestDir, filepath.Join(opts.OutputDir, "needs_matching"), destName); err != nil {
		return Result{}, err
	}

	stats.UniqueFiles = reg.Len()
	stats.DuplicateFiles = reg.DuplicateCount()

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "messages",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"conversation_count": stats.ConversationCount,
				"ambiguous_cases":    stats.AmbiguousCases,
			},
		},
		Body: messages,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("snapchatmessages: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func buildAmbiguousCase(rec messageRecord, createdRaw string, mediaFiles, overlays []string, catalog map[string]fileInfo, videoCount, imageCount int) ambiguousCase {
	ac := ambiguousCase{Timestamp: createdRaw, MessageMetadata: rec}
	for _, f := range mediaFiles {
		if mediaType(f) != "video" {
			continue
		}
		info := catalog[f]
		ac.MediaFiles = append(ac.MediaFiles, ambiguousMedia{
			Filename:  f,
			MediaID:   info.MediaID,
			UUID:      info.UUID,
			Type:      "video",
			Extension: filepath.Ext(f),
		})
	}
	for _, o := range overlays {
		ac.Overlays = append(ac.Overlays, ambiguousOverlay{Filename: o, UUID: catalog[o].UUID})
	}
	hint := fmt.Sprintf("%d images + %d videos, but only %d overlays.", imageCount, videoCount, len(overlays))
	switch {
	case videoCount == len(overlays) && imageCount > 0:
		hint += " Images don't need overlays and are processed normally."
	case len(overlays) == 0:
		hint += " Videos can exist without overlays."
	}
	ac.Analysis = ambiguousAnalysis{
		MediaCount:   len(mediaFiles),
		OverlayCount: len(overlays),
		Images:       imageCount,
		Videos:       videoCount,
		Hint:         hint,
	}
	return ac
}

// organizeAmbiguous copies each ambiguous case's already-organized files
// (by their post-dedup destination names) into a per-timestamp triage
// tree alongside a match_info.json describing the candidates.
func organizeAmbiguous(cases []ambiguousCase, mediaSrcDir, overlaySrcDir, needsMatchingDir string, destName map[string]string) error {
	for _, c := range cases {
		stamp := strings.NewReplacer(" ", "_", ":", "-").Replace(c.Timestamp)
		caseDir := filepath.Join(needsMatchingDir, stamp)
		mediaDir := filepath.Join(caseDir, "media")
		overlayDir := filepath.Join(caseDir, "overlays")
		if err := os.MkdirAll(mediaDir, 0o755); err != nil {
			return err
		}
		if err := os.MkdirAll(overlayDir, 0o755); err != nil {
			return err
		}
		for _, m := range c.MediaFiles {
			name := destName[m.Filename]
			if name == "" {
				name = m.Filename
			}
			common.CopyFileBestEffort(filepath.Join(mediaSrcDir, name), filepath.Join(mediaDir, m.Filename))
		}
		for _, o := range c.Overlays {
			name := destName[o.Filename]
			if name == "" {
				name = o.Filename
			}
			common.CopyFileBestEffort(filepath.Join(overlaySrcDir, name), filepath.Join(overlayDir, o.Filename))
		}
		raw, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(caseDir, "match_info.json"), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func buildCatalog(chatMediaDir string) (map[string]fileInfo, error) {
	entries, err := os.ReadDir(chatMediaDir)
	if err != nil {
		return nil, fmt.Errorf("snapchatmessages: read %s: %w", chatMediaDir, err)
	}
	banned := bannedpath.New()
	catalog := make(map[string]fileInfo, len(entries))
	for _, e := range entries {
		if e.IsDir() || banned.IsBanned(e.Name()) {
			continue
		}
		kind := classifyFile(e.Name())
		if kind == kindUnknown || kind == kindSystem || kind == kindThumbnail {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fi := fileInfo{Filename: e.Name(), Kind: kind, MTime: info.ModTime().Unix()}
		if kind == kindMedia {
			if id := extractMediaID(e.Name()); id != "" {
				fi.MediaID = id
			} else if u := extractUUID(e.Name()); u != "" {
				fi.UUID = u
			} else if h := extractHash(e.Name()); h != "" {
				fi.Hash = h
			}
		} else if kind == kindOverlay {
			fi.UUID = extractUUID(e.Name())
		}
		catalog[e.Name()] = fi
	}
	return catalog, nil
}

func buildLookups(catalog map[string]fileInfo) (map[string]string, map[int64][]fileInfo) {
	mediaIDToFilename := map[string]string{}
	mtimeToFiles := map[int64][]fileInfo{}
	for _, fi := range catalog {
		if fi.Kind == kindMedia && fi.MediaID != "" {
			mediaIDToFilename[fi.MediaID] = fi.Filename
		}
		mtimeToFiles[fi.MTime] = append(mtimeToFiles[fi.MTime], fi)
	}
	return mediaIDToFilename, mtimeToFiles
}

func splitMediaIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseCreated(raw string) (int64, bool) {
	trimmed := strings.TrimSuffix(raw, " UTC")
	if trimmed == raw {
		return 0, false
	}
	t, err := time.Parse("2006-01-02 15:04:05", trimmed)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

func classifyConversation(conversationID string, msgs []snapMessage) (convType, title string) {
	for _, m := range msgs {
		if m.ConversationTitle != "" {
			return "group", m.ConversationTitle
		}
	}
	if groupConversationID.MatchString(conversationID) {
		return "group", ""
	}
	return "dm", ""
}

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string                { return "snapchatmessages" }
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
