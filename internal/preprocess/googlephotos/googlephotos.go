// Package googlephotos implements the Google Photos preprocessor: an
// album-structured Takeout export where each media file carries a JSON
// sidecar under one of several "supplemental metadata" naming schemes,
// reconciled into one file-centric metadata.json listing every album a
// given content hash appeared in.
package googlephotos

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/matching"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/googlephotos"
	"memoria/internal/registry"
)

// processorPriority places Google Photos ahead of generic/fallback
// processors since its directory signature ("Google Photos/<album>/")
// is unambiguous.
const processorPriority = 50

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string  { return "googlephotos" }
func (Processor) Priority() int { return processorPriority }

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

// Options carries the per-run knobs this preprocessor needs.
type Options struct {
	InputDir              string
	OutputDir             string
	AllowCrossCategoryExt bool
}

// Stats summarizes one run for the caller's verbose/CLI reporting.
type Stats struct {
	AlbumCount     int
	MediaSeen      int
	Matched        int
	OrphanedMedia  int
	OrphanedMeta   int
	UniqueFiles    int
	DuplicateFiles int
}

// Result is the outcome of a completed preprocessing run.
type Result struct {
	MetadataPath string
	Stats        Stats
}

// rootDirName is the conventional top-level directory name Google
// Takeout exports use for this source.
const rootDirName = "Google Photos"

// Detect reports whether inputDir looks like a Google Photos export.
func Detect(inputDir string) bool {
	info, err := os.Stat(filepath.Join(inputDir, rootDirName))
	return err == nil && info.IsDir()
}

// Preprocess runs validate → scan → match → copy → emit over every
// album directory beneath "Google Photos", producing one file-centric
// metadata.json at opts.OutputDir.
func Preprocess(ctx context.Context, opts Options) (Result, error) {
	root := filepath.Join(opts.InputDir, rootDirName)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("googlephotos: %s is not a directory", root)
	}

	albumDirs, err := albumDirectories(root)
	if err != nil {
		return Result{}, err
	}

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("googlephotos", opts.InputDir)
	mediaDir := common.MediaDir(opts.OutputDir)

	records := map[string]*mediaRecord{}
	var stats Stats
	stats.AlbumCount = len(albumDirs)

	for _, album := range albumDirs {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		if err := processAlbum(album, mediaDir, banned, reg, collisions, tracker, records, &stats, opts.AllowCrossCategoryExt); err != nil {
			return Result{}, err
		}
	}

	stats.UniqueFiles = reg.Len()
	stats.DuplicateFiles = reg.DuplicateCount()

	body := make([]mediaRecord, 0, len(records))
	for _, rec := range records {
		body = append(body, *rec)
	}

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "media_files",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"album_count": stats.AlbumCount,
			},
		},
		Body: body,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("googlephotos: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func albumDirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("googlephotos: read %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

func processAlbum(albumDir, mediaDir string, banned *bannedpath.Filter, reg *hashregistry.Registry, collisions *common.Collisions, tracker *failuretracker.Tracker, records map[string]*mediaRecord, stats *Stats, allowCrossCategory bool) error {
	entries, err := os.ReadDir(albumDir)
	if err != nil {
		return fmt.Errorf("googlephotos: read album %s: %w", albumDir, err)
	}
	albumName := filepath.Base(albumDir)

	var mediaFiles []mediaFile
	var metaFiles []metadataFile
	for _, e := range entries {
		if e.IsDir() || banned.IsBanned(e.Name()) {
			continue
		}
		full := filepath.Join(albumDir, e.Name())
		if strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			raw, err := os.ReadFile(full)
			if err != nil {
				tracker.AddProcessingFailure(full, nil, "unreadable sidecar", err.Error(), nil)
				continue
			}
			var sidecar sidecarJSON
			if err := json.Unmarshal(raw, &sidecar); err != nil {
				tracker.AddProcessingFailure(full, nil, "malformed sidecar json", err.Error(), nil)
				continue
			}
			metaFiles = append(metaFiles, metadataFile{path: full, sidecar: sidecar})
			continue
		}
		mediaFiles = append(mediaFiles, mediaFile{path: full, name: e.Name()})
	}
	stats.MediaSeen += len(mediaFiles)

	resolver := matching.NewResolver(matchersForAlbum()...)
	pool := make([]matching.Candidate, len(metaFiles))
	for i, m := range metaFiles {
		name, idx := sidecarMediaName(filepath.Base(m.path))
		pool[i] = candidateFromMetadata(m, name, idx)
	}

	for _, mf := range mediaFiles {
		mediaCand := candidateFromMedia(mf)
		matched, _, ok := resolver.Match(mediaCand, pool)
		if !ok {
			tracker.AddOrphanedMedia(mf.path, "no matching sidecar metadata", map[string]any{"album": albumName})
			stats.OrphanedMedia++
			continue
		}
		meta := matched.Item.(metadataFile).sidecar

		result, err := common.CopyDeduped(mf.path, mf.name, mediaDir, reg, collisions, allowCrossCategory, map[string]any{"album": albumName})
		if err != nil {
			tracker.AddProcessingFailure(mf.path, meta, "copy failed", err.Error(), map[string]any{"album": albumName})
			continue
		}
		stats.Matched++
		mergeRecord(records, result.Filename, result.Hash, albumName, meta)
	}

	for _, unclaimed := range resolver.Unclaimed(pool) {
		meta := unclaimed.Item.(metadataFile)
		tracker.AddOrphanedMetadata(meta.sidecar, "no matching media file", map[string]any{"album": albumName, "sidecar_path": meta.path})
		stats.OrphanedMeta++
	}
	return nil
}

func mergeRecord(records map[string]*mediaRecord, filename, hash, album string, meta sidecarJSON) {
	rec, ok := records[hash]
	if !ok {
		rec = &mediaRecord{Filename: filename, ContentHash: hash}
		records[hash] = rec
		rec.Title = meta.Title
		rec.Description = meta.Description
		if meta.PhotoTakenTime.Timestamp != "" {
			if sec, err := strconv.ParseInt(meta.PhotoTakenTime.Timestamp, 10, 64); err == nil {
				rec.PhotoTakenTime = time.Unix(sec, 0).UTC().Format(time.RFC3339)
			}
		}
		geo := meta.GeoData
		if !geo.hasFix() {
			geo = meta.GeoDataExif
		}
		if geo.hasFix() {
			lat, lon, alt := geo.Latitude, geo.Longitude, geo.Altitude
			rec.Latitude, rec.Longitude, rec.Altitude = &lat, &lon, &alt
		}
		for _, p := range meta.People {
			rec.People = append(rec.People, p.Name)
		}
		rec.Archived, rec.Favorited, rec.Trashed = meta.Archived, meta.Favorited, meta.Trashed
	}
	for _, a := range rec.Albums {
		if a == album {
			return
		}
	}
	rec.Albums = append(rec.Albums, album)
}
