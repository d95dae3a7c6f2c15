// Package googlechat implements the Google Chat preprocessor: a
// conversation-structured Takeout export under "Google Chat/Groups/{id}"
// and "Google Chat/Users/{id}", where each conversation directory carries
// its own messages.json and attached media files named by an export_name
// that may diverge from the actual on-disk filename.
package googlechat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/googlechat"
	"memoria/internal/registry"
)

const (
	rootDirName   = "Google Chat"
	groupsDirName = "Groups"
	usersDirName  = "Users"

	// processorPriority sits below Google Photos: Google Chat's root
	// directory name alone is ambiguous with an empty Users-only
	// export, so detection additionally requires a populated Groups
	// directory (see DESIGN.md's Open Questions section).
	processorPriority = 40
)

type Options struct {
	InputDir  string
	OutputDir string
}

type Stats struct {
	ConversationCount int
	MessageCount      int
	MatchedFiles      int
	OrphanedMedia     int
	UniqueFiles       int
	DuplicateFiles    int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

// Detect requires a non-empty Groups directory. A Users-only export (no
// Groups subdirectories at all) fails detection — an undocumented quirk
// of the source preprocessor, mirrored here for compatibility.
func Detect(inputDir string) bool {
	groupsDir := filepath.Join(inputDir, rootDirName, groupsDirName)
	entries, err := os.ReadDir(groupsDir)
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
	root := filepath.Join(opts.InputDir, rootDirName)
	ownerEmail := ownerEmailFromUsers(filepath.Join(root, usersDirName))

	groupsDir := filepath.Join(root, groupsDirName)
	groupIDs, err := os.ReadDir(groupsDir)
	if err != nil {
		return Result{}, fmt.Errorf("googlechat: read %s: %w", groupsDir, err)
	}

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("googlechat", opts.InputDir)
	mediaDir := common.MediaDir(opts.OutputDir)

	var conversations []conversationRecord
	var stats Stats

	for _, g := range groupIDs {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		if !g.IsDir() {
			continue
		}
		convID := g.Name()
		convDir := filepath.Join(groupsDir, convID)
		conv, convStats, err := processConversation(convDir, convID, ownerEmail, mediaDir, banned, reg, collisions, tracker)
		if err != nil {
			return Result{}, err
		}
		conversations = append(conversations, conv)
		stats.ConversationCount++
		stats.MessageCount += convStats.MessageCount
		stats.MatchedFiles += convStats.MatchedFiles
		stats.OrphanedMedia += convStats.OrphanedMedia
	}

	stats.UniqueFiles = reg.Len()
	stats.DuplicateFiles = reg.DuplicateCount()

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
		return Result{}, fmt.Errorf("googlechat: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func processConversation(convDir, convID, ownerEmail, mediaDir string, banned *bannedpath.Filter, reg *hashregistry.Registry, collisions *common.Collisions, tracker *failuretracker.Tracker) (conversationRecord, Stats, error) {
	var stats Stats
	var info groupInfo
	if raw, err := os.ReadFile(filepath.Join(convDir, "group_info.json")); err == nil {
		_ = json.Unmarshal(raw, &info)
	}

	var msgs messagesFile
	raw, err := os.ReadFile(filepath.Join(convDir, "messages.json"))
	if err != nil {
		return conversationRecord{}, stats, fmt.Errorf("googlechat: read messages.json in %s: %w", convDir, err)
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return conversationRecord{}, stats, fmt.Errorf("googlechat: parse messages.json in %s: %w", convDir, err)
	}

	claimed := map[string]bool{}
	conv := conversationRecord{
		ConversationID: convID,
		Title:          conversationTitle(info, ownerEmail),
	}

	for _, m := range msgs.Messages {
		stats.MessageCount++
		rec := messageRecord{Sender: m.Creator.Name, Text: m.Text}
		if ts, ok := parseTimestamp(m.CreatedDate); ok {
			rec.Timestamp = ts.Format(time.RFC3339)
		}
		for _, af := range m.AttachedFiles {
			name, ok := resolveAttachment(convDir, af.ExportName, claimed)
			if !ok || banned.IsBanned(name) {
				tracker.AddProcessingFailure(filepath.Join(convDir, af.ExportName), m, "attachment not found in conversation directory", "", map[string]any{"conversation_id": convID})
				stats.OrphanedMedia++
				continue
			}
			srcPath := filepath.Join(convDir, name)
			result, err := common.CopyDeduped(srcPath, name, mediaDir, reg, collisions, false, map[string]any{"conversation_id": convID})
			if err != nil {
				tracker.AddProcessingFailure(srcPath, m, "copy failed", err.Error(), map[string]any{"conversation_id": convID})
				continue
			}
			rec.MediaFiles = append(rec.MediaFiles, result.Filename)
			stats.MatchedFiles++
		}
		conv.Messages = append(conv.Messages, rec)
	}
	return conv, stats, nil
}

func ownerEmailFromUsers(usersDir string) string {
	entries, err := os.ReadDir(usersDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(usersDir, e.Name(), "user_info.json"))
		if err != nil {
			continue
		}
		var info userInfo
		if json.Unmarshal(raw, &info) == nil && info.User.Email != "" {
			return info.User.Email
		}
	}
	return ""
}

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string                { return "googlechat" }
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
