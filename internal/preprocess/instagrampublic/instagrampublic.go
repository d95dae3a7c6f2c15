// Package instagrampublic implements the Instagram Public Media
// preprocessor: a set of fixed HTML files (posts, archived posts, reels,
// stories, profile photos, other content) each describing posts that
// reference files under a flat "media/" tree, parsed for caption,
// timestamp, GPS, and ad-hoc metadata table rows.
package instagrampublic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/instagrampublic"
	"memoria/internal/registry"
)

const (
	newFormatHTMLDir    = "your_instagram_activity/media"
	legacyFormatHTMLDir = "content"
	mediaSourceDirName  = "media"
	processorPriority   = 44
)

// htmlFileMediaType maps each fixed export HTML filename (sans
// extension) to the media_type recorded for its posts. igtv_videos.html
// is the legacy (pre-2023) name for what "reels.html" now covers.
var htmlFileMediaType = map[string]string{
	"posts_1":        "posts",
	"archived_posts": "archived_posts",
	"reels":          "reels",
	"igtv_videos":    "reels",
	"stories":        "stories",
	"profile_photos": "profile",
	"other_content":  "other",
}

const (
	postContainerClass = ".pam._3-95._2ph-._a6-g.uiBoxWhite.noborder"
	captionNewClass    = "h2._3-95._2pim._a6-h._a6-i"
	captionLegacyClass = "div._3-95._2pim._a6-h._a6-i"
	timestampClass     = "div._3-94._a6-o"
	fieldLabelClass    = "div._a6-q"
)

var timestampFormats = []string{
	"Jan 2, 2006 3:04 pm",
	"Jan 2, 2006, 3:04 PM",
}

type Options struct {
	InputDir  string
	OutputDir string
}

type Stats struct {
	PostCount     int
	MatchedFiles  int
	MissingFiles  int
	OrphanedMedia int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

type postRecord struct {
	MediaType          string            `json:"media_type"`
	Caption            string            `json:"caption,omitempty"`
	Timestamp          string            `json:"timestamp,omitempty"`
	TimestampRaw       string            `json:"timestamp_raw,omitempty"`
	Latitude           *float64          `json:"latitude,omitempty"`
	Longitude          *float64          `json:"longitude,omitempty"`
	AdditionalMetadata map[string]string `json:"additional_metadata,omitempty"`
	MediaFiles         []string          `json:"media_files,omitempty"`
}

func htmlDir(inputDir string) (string, bool) {
	if info, err := os.Stat(filepath.Join(inputDir, filepath.FromSlash(newFormatHTMLDir))); err == nil && info.IsDir() {
		return filepath.Join(inputDir, filepath.FromSlash(newFormatHTMLDir)), true
	}
	if info, err := os.Stat(filepath.Join(inputDir, legacyFormatHTMLDir)); err == nil && info.IsDir() {
		return filepath.Join(inputDir, legacyFormatHTMLDir), true
	}
	return "", false
}

func Detect(inputDir string) bool {
	if info, err := os.Stat(filepath.Join(inputDir, mediaSourceDirName)); err != nil || !info.IsDir() {
		return false
	}
	dir, ok := htmlDir(inputDir)
	if !ok {
		return false
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.html"))
	return len(matches) > 0
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	dir, ok := htmlDir(opts.InputDir)
	if !ok {
		return Result{}, fmt.Errorf("instagrampublic: no HTML metadata directory found under %s", opts.InputDir)
	}
	mediaSourceDir := filepath.Join(opts.InputDir, mediaSourceDirName)

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("instagrampublic", opts.InputDir)
	mediaDestDir := common.MediaDir(opts.OutputDir)

	catalog, err := buildCatalog(mediaSourceDir, banned)
	if err != nil {
		return Result{}, err
	}

	var posts []postRecord
	var stats Stats
	matchedFilenames := map[string]bool{}

	htmlFiles, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return Result{}, fmt.Errorf("instagrampublic: glob %s: %w", dir, err)
	}
	for _, htmlPath := range htmlFiles {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		stem := strings.TrimSuffix(filepath.Base(htmlPath), ".html")
		mediaType, ok := htmlFileMediaType[stem]
		if !ok {
			continue
		}
		parsed, err := parseHTML(htmlPath, mediaType)
		if err != nil {
			tracker.AddProcessingFailure(htmlPath, nil, "unparsable post html", err.Error(), map[string]any{"media_type": mediaType})
			continue
		}
		for _, post := range parsed {
			stats.PostCount++
			var matched []string
			for _, mediaPath := range post.mediaPaths {
				filename := filepath.Base(mediaPath)
				srcPath, ok := catalog[filename]
				if !ok {
					tracker.AddOrphanedMetadata(map[string]any{
						"media_type": post.rec.MediaType,
						"media_path": mediaPath,
						"caption":    post.rec.Caption,
						"timestamp":  post.rec.Timestamp,
					}, "media file not found in filesystem", map[string]any{"expected_filename": filename})
					stats.MissingFiles++
					continue
				}
				result, err := common.CopyDeduped(srcPath, filename, mediaDestDir, reg, collisions, false, map[string]any{"media_type": post.rec.MediaType})
				if err != nil {
					tracker.AddProcessingFailure(srcPath, nil, "copy failed", err.Error(), map[string]any{"media_type": post.rec.MediaType})
					continue
				}
				matched = append(matched, result.Filename)
				matchedFilenames[filename] = true
				stats.MatchedFiles++
			}
			post.rec.MediaFiles = matched
			posts = append(posts, post.rec)
		}
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
		BodyKey: "posts",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"post_count": stats.PostCount,
			},
		},
		Body: posts,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("instagrampublic: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func buildCatalog(mediaSourceDir string, banned *bannedpath.Filter) (map[string]string, error) {
	catalog := map[string]string{}
	if _, err := os.Stat(mediaSourceDir); err != nil {
		return catalog, nil
	}
	paths, err := common.Walk(mediaSourceDir, banned)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		catalog[filepath.Base(p)] = p
	}
	return catalog, nil
}

type parsedPost struct {
	rec        postRecord
	mediaPaths []string
}

func parseHTML(path, mediaType string) ([]parsedPost, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}

	var posts []parsedPost
	doc.Find(classSelector(postContainerClass)).Each(func(_ int, container *goquery.Selection) {
		rec := postRecord{MediaType: mediaType}

		if c := container.Find(classSelector(captionNewClass)).First(); c.Length() > 0 {
			rec.Caption = strings.TrimSpace(c.Text())
		} else if c := container.Find(classSelector(captionLegacyClass)).First(); c.Length() > 0 {
			rec.Caption = strings.TrimSpace(c.Text())
		}

		if ts := container.Find(classSelector(timestampClass)).First(); ts.Length() > 0 {
			rec.TimestampRaw = strings.TrimSpace(ts.Text())
			rec.Timestamp = parseTimestamp(rec.TimestampRaw)
		}

		lat, lon, extra := extractTableFields(container)
		rec.Latitude = lat
		rec.Longitude = lon
		if len(extra) > 0 {
			rec.AdditionalMetadata = extra
		}

		var mediaPaths []string
		container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok && strings.HasPrefix(href, "media/") {
				mediaPaths = append(mediaPaths, href)
			}
		})
		container.Find("video[src]").Each(func(_ int, v *goquery.Selection) {
			if src, ok := v.Attr("src"); ok && strings.HasPrefix(src, "media/") {
				mediaPaths = append(mediaPaths, src)
			}
		})

		posts = append(posts, parsedPost{rec: rec, mediaPaths: mediaPaths})
	})
	return posts, nil
}

// extractTableFields walks every metadata table row looking for the
// label/value div pair Instagram's export emits (both carrying class
// "_a6-q", label first, value second), pulling GPS into typed floats and
// everything else into a snake_case-keyed map.
func extractTableFields(container *goquery.Selection) (lat, lon *float64, extra map[string]string) {
	extra = map[string]string{}
	container.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		fields := row.Find(classSelector(fieldLabelClass))
		if fields.Length() < 2 {
			return
		}
		label := strings.TrimSpace(fields.Eq(0).Text())
		value := strings.TrimSpace(fields.Eq(1).Text())
		if label == "" || value == "" {
			return
		}
		switch label {
		case "Latitude":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				lat = &f
			}
		case "Longitude":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				lon = &f
			}
		case "Has Camera Metadata":
			// skipped per the original extractor
		default:
			key := strings.ToLower(strings.ReplaceAll(label, " ", "_"))
			extra[key] = value
		}
	})
	if len(extra) == 0 {
		extra = nil
	}
	return lat, lon, extra
}

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

func (Processor) Name() string                { return "instagrampublic" }
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
