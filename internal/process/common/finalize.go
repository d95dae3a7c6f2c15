// Package common implements the per-source processor's shared
// finalization pass (component §4.I): rename every media file by a
// date-prefixed template, submit the run's metadata writes as batched
// exiftool invocations (one -stay_open session per chunk of 500 files),
// and align filesystem mtimes with
// the captured capture time. Each internal/process/<source> package
// adapts its own metadata.json body into a slice of Item and hands it to
// Finalize; this package knows nothing about any one source's schema.
package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"memoria/internal/exiftool"
	"memoria/internal/failuretracker"
	"memoria/internal/services"
	"memoria/internal/worker"
)

// Item is one media file due for renaming and/or metadata embedding.
// Filename is the file's current name inside mediaDir; RenamedTo is
// filled in by Finalize so callers can rewrite their own records.
type Item struct {
	Filename    string
	Timestamp   time.Time
	HasGPS      bool
	Latitude    float64
	Longitude   float64
	HasAltitude bool
	Altitude    float64
	Description string
	People      []string

	RenamedTo string
}

// Stats summarizes one finalize pass for the caller's report/--verbose
// output.
type Stats struct {
	FilesSeen      int
	FilesRenamed   int
	FilesTagged    int
	TagFailures    int
	TimesApplied   int
	TimeApplyFails int
}

// batchChunkSize bounds how many files are submitted to a single
// exiftool -stay_open session, matching the "5 min per chunk of 500
// files" batch timeout the chunking is sized against.
const batchChunkSize = 500

// Finalize renames every item (skipping those with a zero Timestamp,
// which keep their current name), writes all GPS/description/people
// tags in batched exiftool invocations, and calls os.Chtimes on every
// renamed file using its captured timestamp. Rename, tag, and time
// failures are recorded on tracker (when non-nil) rather than aborting
// the run; the returned error is always nil, and an unreadable mediaDir
// shows up as per-item failures on tracker.
func Finalize(ctx context.Context, mediaDir, exiftoolPath string, items []*Item, workers int, tracker *failuretracker.Tracker) (Stats, error) {
	stats := Stats{FilesSeen: len(items)}
	if len(items) == 0 {
		return stats, nil
	}

	stats.FilesRenamed = renameAll(mediaDir, items, tracker)

	writes := buildWrites(mediaDir, items)
	if len(writes) > 0 {
		tagStats := runBatches(ctx, exiftoolPath, writes, workers, tracker)
		stats.FilesTagged = tagStats.ok
		stats.TagFailures = tagStats.fail
	}

	applied, applyFails := applyTimes(mediaDir, items, tracker)
	stats.TimesApplied = applied
	stats.TimeApplyFails = applyFails

	return stats, nil
}

// renameAll applies the date-prefixed rename template to every item with
// a non-zero Timestamp, resolving collisions against everything already
// present (or already renamed) in mediaDir, and populates RenamedTo on
// each item in place (including items left unchanged).
func renameAll(mediaDir string, items []*Item, tracker *failuretracker.Tracker) int {
	taken := map[string]bool{}
	entries, _ := os.ReadDir(mediaDir)
	for _, e := range entries {
		taken[e.Name()] = true
	}

	renamedCount := 0
	for _, item := range items {
		if item.Timestamp.IsZero() {
			item.RenamedTo = item.Filename
			taken[item.Filename] = true
			continue
		}

		candidate := renameTemplate(item.Timestamp, item.Filename)
		if candidate == item.Filename {
			item.RenamedTo = item.Filename
			taken[item.Filename] = true
			continue
		}
		candidate = reserveName(candidate, taken)

		oldPath := filepath.Join(mediaDir, item.Filename)
		newPath := filepath.Join(mediaDir, candidate)
		if err := os.Rename(oldPath, newPath); err != nil {
			if tracker != nil {
				tracker.AddProcessingFailure(oldPath, nil, "rename failed", err.Error(), nil)
			}
			item.RenamedTo = item.Filename
			taken[item.Filename] = true
			continue
		}
		item.RenamedTo = candidate
		taken[candidate] = true
		renamedCount++
	}
	return renamedCount
}

// renameTemplate is the common date-prefixed filename template: the
// capture time formatted as "YYYYMMDD_HHMMSS" followed by the original
// filename, unchanged when the file already carries that exact prefix
// (re-running finalize on an already-renamed file is then a no-op).
func renameTemplate(ts time.Time, original string) string {
	prefix := ts.UTC().Format("20060102_150405")
	if strings.HasPrefix(original, prefix+"_") {
		return original
	}
	return prefix + "_" + original
}

func reserveName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

// buildWrites constructs one exiftool.Write per item that carries GPS
// coordinates, a description, people tags, or a timestamp (written as
// DateTimeOriginal); items with none of these are skipped.
func buildWrites(mediaDir string, items []*Item) []exiftool.Write {
	var writes []exiftool.Write
	for _, item := range items {
		var args []string
		if item.HasGPS {
			args = append(args, exiftool.GPSArgs(item.Latitude, item.Longitude, item.HasAltitude, item.Altitude)...)
		}
		if strings.TrimSpace(item.Description) != "" {
			args = append(args,
				"-overwrite_original",
				"-XMP-dc:Description="+item.Description,
				"-ImageDescription="+item.Description,
			)
		}
		if len(item.People) > 0 {
			for _, person := range item.People {
				args = append(args, "-XMP-dc:Subject+="+person)
			}
		}
		if !item.Timestamp.IsZero() {
			args = append(args, "-DateTimeOriginal="+item.Timestamp.UTC().Format("2006:01:02 15:04:05"))
		}
		if len(args) == 0 {
			continue
		}
		args = append([]string{"-overwrite_original"}, args...)
		writes = append(writes, exiftool.Write{Path: filepath.Join(mediaDir, item.RenamedTo), Args: args})
	}
	return writes
}

type batchOutcome struct {
	ok   int
	fail int
}

// runBatches submits writes in chunks of batchChunkSize, one exiftool
// -stay_open session per chunk, running up to workers chunks
// concurrently through the shared bounded pool.
func runBatches(ctx context.Context, exiftoolPath string, writes []exiftool.Write, workers int, tracker *failuretracker.Tracker) batchOutcome {
	var chunks [][]exiftool.Write
	for start := 0; start < len(writes); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(writes) {
			end = len(writes)
		}
		chunks = append(chunks, writes[start:end])
	}

	var mu sync.Mutex
	outcome := batchOutcome{}

	pool := worker.New(workers)
	tasks := make([]worker.Task, len(chunks))
	for i, chunk := range chunks {
		chunk := chunk
		tasks[i] = func(taskCtx context.Context) error {
			batchCtx, cancel := context.WithTimeout(taskCtx, 5*time.Minute)
			defer cancel()
			results, err := exiftool.RunBatch(batchCtx, exiftoolPath, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.fail += len(chunk)
				if tracker != nil {
					tracker.AddProcessingFailure("", nil, "exiftool batch failed", err.Error(), nil)
				}
				return nil
			}
			for i, res := range results {
				if !res.Ok {
					outcome.fail++
					if tracker != nil {
						tracker.AddProcessingFailure(chunk[i].Path, nil, "exiftool write failed", res.Output, nil)
					}
					continue
				}
				outcome.ok++
			}
			return nil
		}
	}
	_ = pool.Run(ctx, tasks)
	return outcome
}

// applyTimes calls os.Chtimes on every item that carries a timestamp,
// the filesystem-metadata equivalent of utime(), applied after the
// exiftool pass regardless of whether it succeeded.
func applyTimes(mediaDir string, items []*Item, tracker *failuretracker.Tracker) (int, int) {
	applied, failed := 0, 0
	for _, item := range items {
		if item.Timestamp.IsZero() || item.RenamedTo == "" {
			continue
		}
		path := filepath.Join(mediaDir, item.RenamedTo)
		if err := os.Chtimes(path, item.Timestamp, item.Timestamp); err != nil {
			failed++
			if tracker != nil {
				tracker.AddProcessingFailure(path, nil, "chtimes failed", err.Error(), nil)
			}
			continue
		}
		applied++
	}
	return applied, failed
}

// WrapErr adapts a finalize-stage failure into the shared service error
// taxonomy, for callers that need to surface a hard error rather than a
// tracked failure.
func WrapErr(operation, message string, err error) error {
	return services.Wrap(services.ErrExternalTool, "finalize", operation, message, err)
}
