// Package instagrampublic implements the Instagram Public Media
// finalization pass (component §4.I): reads the post-structured
// metadata.json the preprocess/instagrampublic stage produced, renames
// each attached media file under a date-prefixed template, and batches
// exiftool writes (one session per 500-file chunk) to embed capture
// time, caption,
// and (when present) GPS tags, finally aligning each file's mtime with
// its post timestamp.
package instagrampublic

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"memoria/internal/failuretracker"
	"memoria/internal/metadatajson"
	"memoria/internal/process/common"
)

const bodyKey = "posts"

var fieldMap = common.FieldMap{
	MediaFields:       []string{"media_files"},
	TimestampFields:   []string{"timestamp"},
	DescriptionFields: []string{"caption"},
	LatitudeField:     "latitude",
	LongitudeField:    "longitude",
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
// preprocessed Instagram Public Media export at opts.OutputDir.
func Finalize(ctx context.Context, opts Options) (Result, error) {
	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env, err := metadatajson.Read(metadataPath)
	if err != nil {
		return Result{}, fmt.Errorf("instagrampublic: %w", err)
	}
	rawBody, err := env.Body()
	if err != nil {
		return Result{}, fmt.Errorf("instagrampublic: %w", err)
	}
	var body any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return Result{}, fmt.Errorf("instagrampublic: parse metadata.json body: %w", err)
	}

	extracted := common.ExtractItems(body, fieldMap)
	items := make([]*common.Item, len(extracted))
	for i, e := range extracted {
		items[i] = e.Item
	}

	mediaDir := filepath.Join(opts.OutputDir, "media")
	tracker := failuretracker.New("instagrampublic-finalize", opts.OutputDir)
	stats, err := common.Finalize(ctx, mediaDir, opts.ExifToolPath, items, opts.Workers, tracker)
	if err != nil {
		return Result{}, fmt.Errorf("instagrampublic: %w", err)
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
		return Result{}, fmt.Errorf("instagrampublic: write metadata.json: %w", err)
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("instagrampublic: %w", err)
	}

	return Result{Stats: stats}, nil
}
