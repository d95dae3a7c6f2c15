// Package imessage implements the iMessage (iMazing export)
// preprocessor: a flat directory of media files named
// "YYYY-MM-DD HH MM SS - {conversation} - {original filename}",
// optionally accompanied by "Messages - *.csv" text-message exports
// and a companion SQLite cache, consolidated across however many
// export runs a user took of the same conversation history.
package imessage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"memoria/internal/bannedpath"
	"memoria/internal/contenthash"
	"memoria/internal/failuretracker"
	"memoria/internal/fileops"
	"memoria/internal/filetype"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/imessage"
	"memoria/internal/registry"
	"memoria/internal/worker"
)

const (
	deviceInfoFileName = "Device-Info.txt"
	exportFormat       = "imazing"
	processorPriority  = 42
)

var filenamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2} \d{2} \d{2}) - (.+?) - (.+)$`)
var ownerNamePattern = regexp.MustCompile(`(?m)^Name:\s*(.+)$`)
var directoryOwnerPattern = regexp.MustCompile(`(iph\w+)-messages-\d{8}`)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".heic": true, ".heif": true, ".tiff": true, ".tif": true, ".dng": true, ".avif": true,
}
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".webm": true, ".mkv": true, ".m4v": true,
}
var audioExtensions = map[string]bool{
	".m4a": true, ".mp3": true, ".wav": true, ".aac": true, ".caf": true,
}

func mediaTypeForExt(ext string) (string, bool) {
	switch {
	case imageExtensions[ext]:
		return "IMAGE", true
	case videoExtensions[ext]:
		return "VIDEO", true
	case audioExtensions[ext]:
		return "AUDIO", true
	default:
		return "", false
	}
}

type Options struct {
	InputDir  string
	OutputDir string
	OwnerName string
}

type Stats struct {
	MediaFilesFound     int
	UniqueFiles         int
	DuplicateFiles      int
	FilesCopied         int
	ExtensionsCorrected int
	CSVMessagesLoaded   int
	Conversations       int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

// Detect requires at least one file directly under inputDir (no
// recursion: iMazing's export is a flat directory) matching the
// "date - conversation - filename" naming convention with a known
// media extension.
func Detect(inputDir string) bool {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := mediaTypeForExt(strings.ToLower(filepath.Ext(e.Name()))); !ok {
			continue
		}
		if _, ok := parseImazingFilename(e.Name()); ok {
			return true
		}
	}
	return false
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	ownerName := opts.OwnerName
	if ownerName == "" {
		ownerName = extractOwnerName(opts.InputDir)
	}

	banned := bannedpath.New()
	tracker := failuretracker.New("imessage", opts.InputDir)

	csvCache, csvLoaded, err := loadCSVMessages(opts.InputDir)
	if err != nil {
		return Result{}, err
	}
	sqliteCache, _, err := loadSQLiteCache(opts.InputDir)
	if err != nil {
		return Result{}, err
	}
	mergeCSVCache(csvCache, sqliteCache)

	scanned, err := scanMediaFiles(opts.InputDir, banned)
	if err != nil {
		return Result{}, err
	}

	var stats Stats
	stats.MediaFilesFound = len(scanned)
	stats.CSVMessagesLoaded = csvLoaded

	if len(scanned) == 0 {
		return writeEmptyResult(opts, ownerName, stats, tracker)
	}

	hashed, err := hashAll(ctx, scanned, tracker)
	if err != nil {
		return Result{}, err
	}

	// Ascending timestamp order guarantees that, within a hash group,
	// index 0 is the chronologically earliest export instance — the
	// file kept as the group's one physical copy.
	sort.SliceStable(hashed, func(i, j int) bool {
		return hashed[i].Parsed.Timestamp.Before(hashed[j].Parsed.Timestamp)
	})

	groups := map[string][]hashedFile{}
	var groupOrder []string
	for _, hf := range hashed {
		if _, ok := groups[hf.Hash]; !ok {
			groupOrder = append(groupOrder, hf.Hash)
		}
		groups[hf.Hash] = append(groups[hf.Hash], hf)
	}

	mediaDestDir := common.MediaDir(opts.OutputDir)
	if err := os.MkdirAll(mediaDestDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("imessage: create media dir: %w", err)
	}
	collisions := common.NewCollisions()

	convOrder := []string{}
	convByID := map[string]*conversationRecord{}

	for _, hash := range groupOrder {
		group := groups[hash]
		primary := group[0]

		outputFilename, corrected, err := copyPrimary(primary, mediaDestDir, collisions)
		if err != nil {
			tracker.AddProcessingFailure(primary.Path, nil, "copy failed", err.Error(), map[string]any{"conversation": primary.Parsed.Conversation})
			continue
		}
		stats.UniqueFiles++
		stats.FilesCopied++
		if corrected {
			stats.ExtensionsCorrected++
		}
		if len(group) > 1 {
			stats.DuplicateFiles += len(group) - 1
		}

		if len(group) > 1 {
			sub := make([]mergedSubMessage, 0, len(group))
			for _, member := range group {
				_, isSender, sender, content := resolveMessage(csvCache, member.Parsed, ownerName)
				convType := conversationType(member.Parsed.Conversation)
				sub = append(sub, mergedSubMessage{
					SourceExport:      opts.InputDir,
					ConversationID:    member.Parsed.Conversation,
					ConversationType:  convType,
					ConversationTitle: member.Parsed.Conversation,
					Sender:            sender,
					Created:           member.Parsed.TimestampStr,
					Content:           content,
					IsSender:          isSender,
				})
			}
			primaryConv := ensureConversation(convByID, &convOrder, primary.Parsed.Conversation, conversationType(primary.Parsed.Conversation))
			primaryConv.Messages = append(primaryConv.Messages, mergedMessageRecord{
				MediaFile:      outputFilename,
				PrimaryCreated: primary.Parsed.TimestampStr,
				IsDuplicate:    true,
				Messages:       sub,
				MediaType:      primary.MediaType,
			})
			continue
		}

		_, isSender, sender, content := resolveMessage(csvCache, primary.Parsed, ownerName)
		convType := conversationType(primary.Parsed.Conversation)
		conv := ensureConversation(convByID, &convOrder, primary.Parsed.Conversation, convType)
		conv.Messages = append(conv.Messages, messageRecord{
			SourceExport:      opts.InputDir,
			ConversationID:    primary.Parsed.Conversation,
			ConversationType:  convType,
			ConversationTitle: primary.Parsed.Conversation,
			Sender:            sender,
			Created:           primary.Parsed.TimestampStr,
			Content:           content,
			IsSender:          isSender,
			MediaFile:         outputFilename,
			MediaType:         primary.MediaType,
		})
	}

	conversations := make([]conversationRecord, 0, len(convOrder))
	for _, id := range convOrder {
		conv := convByID[id]
		conv.MessageCount = len(conv.Messages)
		conversations = append(conversations, *conv)
	}
	stats.Conversations = len(conversations)

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "conversations",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ExportUser:    ownerName,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"export_paths":        []string{opts.InputDir},
				"export_format":       exportFormat,
				"csv_messages_loaded": stats.CSVMessagesLoaded,
			},
		},
		Body: conversations,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("imessage: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func writeEmptyResult(opts Options, ownerName string, stats Stats, tracker *failuretracker.Tracker) (Result, error) {
	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "conversations",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ExportUser:    ownerName,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"export_paths":        []string{opts.InputDir},
				"export_format":       exportFormat,
				"csv_messages_loaded": stats.CSVMessagesLoaded,
			},
		},
		Body: []conversationRecord{},
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("imessage: %w", err)
	}
	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func ensureConversation(byID map[string]*conversationRecord, order *[]string, id, convType string) *conversationRecord {
	if conv, ok := byID[id]; ok {
		return conv
	}
	conv := &conversationRecord{ConversationID: id, Type: convType, Title: id}
	byID[id] = conv
	*order = append(*order, id)
	return conv
}

// resolveMessage looks up a media instance's own CSV row (falling back
// to the minute-precision match) and derives sender/content the way
// the original export's conversation builder does: an Outgoing row
// means the export owner sent it, otherwise the row's own sender name
// (or the conversation name itself, absent a CSV match) is used.
func resolveMessage(cache map[csvKey]csvInfo, parsed parsedFilename, ownerName string) (info csvInfo, isSender bool, sender, content string) {
	info, ok := lookupCSV(cache, parsed.Timestamp.Format("2006-01-02 15:04:05"), parsed.OriginalFilename)
	if !ok {
		return csvInfo{}, false, parsed.Conversation, ""
	}
	isSender = info.Type == "Outgoing"
	if isSender {
		sender = "me"
	} else if info.SenderName != "" {
		sender = info.SenderName
	} else {
		sender = parsed.Conversation
	}
	return info, isSender, sender, info.Text
}

// conversationType reports "group" for any conversation name joining
// multiple contacts with " & ", the iMazing export's own convention
// for naming group threads, and "dm" otherwise.
func conversationType(conversation string) string {
	if strings.Contains(conversation, " & ") {
		return "group"
	}
	return "dm"
}

func scanMediaFiles(inputDir string, banned *bannedpath.Filter) ([]scannedFile, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("imessage: read %s: %w", inputDir, err)
	}
	var out []scannedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(inputDir, e.Name())
		if banned.IsBanned(path) {
			continue
		}
		mediaType, ok := mediaTypeForExt(strings.ToLower(filepath.Ext(e.Name())))
		if !ok {
			continue
		}
		parsed, ok := parseImazingFilename(e.Name())
		if !ok {
			continue
		}
		out = append(out, scannedFile{Path: path, Parsed: parsed, MediaType: mediaType})
	}
	return out, nil
}

// hashAll computes every scanned file's content hash over the bounded
// worker pool; a file that fails to hash is recorded as a processing
// failure and dropped rather than aborting the run.
func hashAll(ctx context.Context, files []scannedFile, tracker *failuretracker.Tracker) ([]hashedFile, error) {
	results := make([]*hashedFile, len(files))
	pool := worker.New(0)
	tasks := make([]worker.Task, len(files))
	for i, f := range files {
		i, f := i, f
		tasks[i] = func(ctx context.Context) error {
			hash, err := contenthash.Hash(f.Path)
			if err != nil {
				return err
			}
			results[i] = &hashedFile{scannedFile: f, Hash: hash}
			return nil
		}
	}
	errs := pool.Run(ctx, tasks)
	out := make([]hashedFile, 0, len(files))
	for i, err := range errs {
		if err != nil {
			tracker.AddProcessingFailure(files[i].Path, nil, "failed to hash file", err.Error(), nil)
			continue
		}
		out = append(out, *results[i])
	}
	return out, nil
}

// copyPrimary reconciles the declared extension against the file's
// magic bytes, reserves a collision-free output name, and copies the
// group's chosen primary into destDir.
func copyPrimary(primary hashedFile, destDir string, collisions *common.Collisions) (filename string, corrected bool, err error) {
	declaredName := primary.Parsed.OriginalFilename
	inferred, err := filetype.Infer(primary.Path, declaredName, false)
	if err != nil {
		return "", false, fmt.Errorf("infer type: %w", err)
	}
	name := declaredName
	if inferred.Corrected {
		stem := strings.TrimSuffix(declaredName, filepath.Ext(declaredName))
		name = stem + "." + inferred.Extension
	}
	name = collisions.Reserve(name)

	dest := filepath.Join(destDir, name)
	if err := fileops.CopyFileVerified(primary.Path, dest); err != nil {
		return "", false, fmt.Errorf("copy: %w", err)
	}
	return name, inferred.Corrected, nil
}

func parseImazingFilename(filename string) (parsedFilename, bool) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return parsedFilename{}, false
	}
	t, err := time.ParseInLocation("2006-01-02 15 04 05", m[1], time.UTC)
	if err != nil {
		return parsedFilename{}, false
	}
	return parsedFilename{
		Timestamp:        t,
		TimestampStr:     t.Format("2006-01-02 15:04:05") + " UTC",
		Conversation:     strings.TrimSpace(m[2]),
		OriginalFilename: m[3],
	}, true
}

func extractOwnerName(inputDir string) string {
	if raw, err := os.ReadFile(filepath.Join(inputDir, deviceInfoFileName)); err == nil {
		if m := ownerNamePattern.FindStringSubmatch(string(raw)); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if m := directoryOwnerPattern.FindStringSubmatch(filepath.Base(inputDir)); m != nil {
		return m[1]
	}
	return "unknown"
}

// Processor adapts Preprocess to the registry.Processor contract.
// Like Google Photos, iMessage supports consolidation: a
// user may take several iMazing exports of the same conversation
// history over time, and every archive should merge into one run.
type Processor struct{}

func (Processor) Name() string                { return "imessage" }
func (Processor) Priority() int               { return processorPriority }
func (Processor) Detect(inputDir string) bool { return Detect(inputDir) }
func (Processor) SupportsConsolidation() bool { return true }

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
