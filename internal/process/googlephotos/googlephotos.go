// Package googlephotos implements the Google Photos finalization pass
// (component §4.I): reads the file-centric metadata.json the
// preprocess/googlephotos stage produced, renames each media file under
// a date-prefixed template, and batches exiftool writes (one
// session per 500-file chunk) to embed capture time, GPS, description, and tagged people,
// finally aligning each file's mtime with its capture time.
package googlephotos

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"memoria/internal/failuretracker"
	"memoria/internal/metadatajson"
	"memoria/internal/process/common"
)

const bodyKey = "media_files"

var fieldMap = common.FieldMap{
	MediaFields:       []string{"filename"},
	TimestampFields:   []string{"photo_taken_time"},
	DescriptionFields: []string{"description", "title"},
	LatitudeField:     "latitude",
	LongitudeField:    "longitude",
	AltitudeField:     "altitude",
	PeopleField:       "people",
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
// preprocessed Google Photos export at opts.OutputDir.
func Finalize(ctx context.Context, opts Options) (Result, error) {
	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env, err := metadatajson.Read(metadataPath)
	if err != nil {
		return Result{}, fmt.Errorf("googlephotos: %w", err)
	}
	rawBody, err := env.Body()
	if err != nil {
		return Result{}, fmt.Errorf("googlephotos: %w", err)
	}
	var body any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return Result{}, fmt.Errorf("googlephotos: parse metadata.json body: %w", err)
	}

	extracted := common.ExtractItems(body, fieldMap)
	items := make([]*common.Item, len(extracted))
	for i, e := range extracted {
		items[i] = e.Item
	}

	mediaDir := filepath.Join(opts.OutputDir, "media")
	tracker := failuretracker.New("googlephotos-finalize", opts.OutputDir)
	stats, err := common.Finalize(ctx, mediaDir, opts.ExifToolPath, items, opts.Workers, tracker)
	if err != nil {
		return Result{}, fmt.Errorf("googlephotos: %w", err)
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
		return Result{}, fmt.Errorf("googlephotos: write metadata.json: %w", err)
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("googlephotos: %w", err)
	}

	return Result{Stats: stats}, nil
}
