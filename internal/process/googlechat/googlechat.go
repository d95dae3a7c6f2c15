// Package googlechat implements the Google Chat finalization pass
// (component §4.I): reads the conversation-structured metadata.json the
// preprocess/googlechat stage produced, renames each attached media
// file under a date-prefixed template, and batches exiftool writes
// (one session per 500-file chunk) to embed capture time, finally aligning each
// file's mtime with its message timestamp.
package googlechat

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"memoria/internal/failuretracker"
	"memoria/internal/metadatajson"
	"memoria/internal/process/common"
)

const bodyKey = "conversations"

var fieldMap = common.FieldMap{
	MediaFields:       []string{"media_files"},
	TimestampFields:   []string{"timestamp"},
	DescriptionFields: []string{"text"},
}

// Options carries the per-run knobs the finalize pass needs.
type Options struct {
	OutputDir    string
	ExifToolPath string
	Workers      int
}

// Result summarizes one finalize run.
type Result struct {
	Stats common.Stats
}

// Finalize runs the rename → batch-tag → utime pass over an already
// preprocessed Google Chat export at opts.OutputDir.
func Finalize(ctx context.Context, opts Options) (Result, error) {
	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env, err := metadatajson.Read(metadataPath)
	if err != nil {
		return Result{}, fmt.Errorf("googlechat: %w", err)
	}
	rawBody, err := env.Body()
	if err != nil {
		return Result{}, fmt.Errorf("googlechat: %w", err)
	}
	var body any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return Result{}, fmt.Errorf("googlechat: parse metadata.json body: %w", err)
	}

	extracted := common.ExtractItems(body, fieldMap)
	items := make([]*common.Item, len(extracted))
	for i, e := range extracted {
		items[i] = e.Item
	}

	mediaDir := filepath.Join(opts.OutputDir, "media")
	tracker := failuretracker.New("googlechat-finalize", opts.OutputDir)
	stats, err := common.Finalize(ctx, mediaDir, opts.ExifToolPath, items, opts.Workers, tracker)
	if err != nil {
		return Result{}, fmt.Errorf("googlechat: %w", err)
	}
	for _, e := range extracted {
		e.Apply()
	}

	if err := metadatajson.Write(metadataPath, metadatajson.Envelope{
		BodyKey:       bodyKey,
		ExportInfo:    env.ExportInfo,
		Body:          body,
		OrphanedMedia: env.OrphanedMedia,
	}); err != nil {
		return Result{}, fmt.Errorf("googlechat: write metadata.json: %w", err)
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("googlechat: %w", err)
	}

	return Result{Stats: stats}, nil
}
