// Package snapchatmemories implements the Snapchat Memories preprocessor:
// a pre-flattened "media/" + "overlays/" export with an array-shaped
// metadata.json describing each (media, overlay?) pair, fed through the
// shared overlay compositor with the memories-style single-line
// description.
package snapchatmemories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/metadatajson"
	"memoria/internal/overlay"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/snapchatmemories"
	"memoria/internal/registry"
	"memoria/internal/videoencoder"
)

const (
	mediaDirName       = "media"
	overlaysDirName    = "overlays"
	sourceMetadataName = "metadata.json"
	processorPriority  = 60
)

type Options struct {
	InputDir      string
	OutputDir     string
	User          string
	FFmpegPath    string
	FFprobePath   string
}

// sourceEntry is one element of the export's array-shaped metadata.json.
type sourceEntry struct {
	Date            string `json:"date"`
	MediaType       string `json:"media_type"`
	MediaFilename   string `json:"media_filename"`
	OverlayFilename string `json:"overlay_filename,omitempty"`
}

type outputRecord struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	Date        string `json:"date,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
	HadOverlay  bool   `json:"had_overlay"`
}

type Stats struct {
	EntryCount       int
	Composited       int
	Copied           int
	OrphanedMedia    int
	CompositeFailed  int
	UniqueFiles      int
	DuplicateFiles   int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

func Detect(inputDir string) bool {
	mediaInfo, mErr := os.Stat(filepath.Join(inputDir, mediaDirName))
	if mErr != nil || !mediaInfo.IsDir() {
		return false
	}
	_, err := os.Stat(filepath.Join(inputDir, sourceMetadataName))
	return err == nil
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	raw, err := os.ReadFile(filepath.Join(opts.InputDir, sourceMetadataName))
	if err != nil {
		return Result{}, fmt.Errorf("snapchatmemories: read metadata.json: %w", err)
	}
	var entries []sourceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Result{}, fmt.Errorf("snapchatmemories: parse metadata.json: %w", err)
	}

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("snapchatmemories", opts.InputDir)
	mediaDir := common.MediaDir(opts.OutputDir)
	mediaSrcDir := filepath.Join(opts.InputDir, mediaDirName)
	overlaysSrcDir := filepath.Join(opts.InputDir, overlaysDirName)

	compositor := overlay.NewCompositor(
		overlay.NewExecTool(opts.FFmpegPath, opts.FFprobePath),
		videoencoder.NewSelector(videoencoder.NewExecRunner(opts.FFmpegPath)),
		"",
	)

	var records []outputRecord
	var stats Stats

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		stats.EntryCount++
		mediaPath := filepath.Join(mediaSrcDir, entry.MediaFilename)
		if banned.IsBanned(entry.MediaFilename) {
			continue
		}
		if _, err := os.Stat(mediaPath); err != nil {
			tracker.AddOrphanedMedia(mediaPath, "referenced media file not found", map[string]any{"date": entry.Date})
			stats.OrphanedMedia++
			continue
		}

		var created time.Time
		if t, err := time.Parse(time.RFC3339, entry.Date); err == nil {
			created = t
		} else if t, err := time.Parse("2006-01-02 15:04:05 MST", entry.Date); err == nil {
			created = t
		}

		finalSrc := mediaPath
		hadOverlay := false
		var tmpComposited string

		if entry.OverlayFilename != "" {
			overlayPath := filepath.Join(overlaysSrcDir, entry.OverlayFilename)
			if _, err := os.Stat(overlayPath); err == nil {
				hadOverlay = true
				meta := overlay.EmbedMetadata{
					CreatedAt:   created,
					Description: overlay.DescriptionForMemory(opts.User),
				}
				if isVideo(entry.MediaFilename) {
					tmpComposited = filepath.Join(os.TempDir(), "memoria-memories-"+entry.MediaFilename)
					if compositor.CreateVideoWithOverlay(ctx, mediaPath, overlayPath, tmpComposited, meta) {
						finalSrc = tmpComposited
					} else {
						tracker.AddProcessingFailure(mediaPath, entry, "video overlay composite failed", "", map[string]any{"date": entry.Date})
						stats.CompositeFailed++
						hadOverlay = false
					}
				} else {
					tmpComposited = filepath.Join(os.TempDir(), "memoria-memories-"+entry.MediaFilename)
					if err := overlay.CompositeImage(mediaPath, overlayPath, tmpComposited, 92); err == nil {
						finalSrc = tmpComposited
					} else {
						tracker.AddProcessingFailure(mediaPath, entry, "image overlay composite failed", err.Error(), map[string]any{"date": entry.Date})
						stats.CompositeFailed++
						hadOverlay = false
					}
				}
			}
		}

		result, err := common.CopyDeduped(finalSrc, entry.MediaFilename, mediaDir, reg, collisions, false, map[string]any{"date": entry.Date})
		if tmpComposited != "" {
			os.Remove(tmpComposited)
		}
		if err != nil {
			tracker.AddProcessingFailure(finalSrc, entry, "copy failed", err.Error(), map[string]any{"date": entry.Date})
			continue
		}
		if hadOverlay {
			stats.Composited++
		} else {
			stats.Copied++
		}
		records = append(records, outputRecord{
			Filename:    result.Filename,
			ContentHash: result.Hash,
			Date:        entry.Date,
			MediaType:   entry.MediaType,
			HadOverlay:  hadOverlay,
		})
	}

	stats.UniqueFiles = reg.Len()
	stats.DuplicateFiles = reg.DuplicateCount()

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "media_files",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"entry_count": stats.EntryCount,
			},
		},
		Body: records,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("snapchatmemories: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func isVideo(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".mkv", ".webm":
		return true
	default:
		return false
	}
}

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string                { return "snapchatmemories" }
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
