// Package googlevoice implements the Google Voice preprocessor: a flat
// "Voice/Calls/" directory of per-conversation HTML transcripts plus their
// referenced media siblings, matched by filename heuristics since the
// HTML's embedded src/href attributes are not always the literal on-disk
// name.
package googlevoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"memoria/internal/bannedpath"
	"memoria/internal/failuretracker"
	"memoria/internal/hashregistry"
	"memoria/internal/matching"
	"memoria/internal/metadatajson"
	"memoria/internal/preprocess/common"
	process "memoria/internal/process/googlevoice"
	"memoria/internal/registry"
)

const (
	rootDirName       = "Voice"
	callsDirName      = "Calls"
	processorPriority = 35
)

type Options struct {
	InputDir  string
	OutputDir string
}

type Stats struct {
	TranscriptCount int
	MessageCount    int
	MatchedFiles    int
	OrphanedMedia   int
	UniqueFiles     int
	DuplicateFiles  int
}

type Result struct {
	MetadataPath string
	Stats        Stats
}

type messageRecord struct {
	Sender     string   `json:"sender,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Text       string   `json:"text,omitempty"`
	MediaFiles []string `json:"media_files,omitempty"`
}

type transcriptRecord struct {
	Contact  string          `json:"contact"`
	Messages []messageRecord `json:"messages"`
}

// htmlFilenamePattern captures "{contact} - Text - {timestamp}.html".
var htmlFilenamePattern = regexp.MustCompile(`^(.*) - (?:Text|Voicemail|Recorded|Missed) - (\d{4}-\d{2}-\d{2}T\d{2}_\d{2}_\d{2}Z)\.html$`)

func Detect(inputDir string) bool {
	info, err := os.Stat(filepath.Join(inputDir, rootDirName, callsDirName))
	return err == nil && info.IsDir()
}

func Preprocess(ctx context.Context, opts Options) (Result, error) {
	callsDir := filepath.Join(opts.InputDir, rootDirName, callsDirName)
	entries, err := os.ReadDir(callsDir)
	if err != nil {
		return Result{}, fmt.Errorf("googlevoice: read %s: %w", callsDir, err)
	}

	banned := bannedpath.New()
	reg := hashregistry.New()
	collisions := common.NewCollisions()
	tracker := failuretracker.New("googlevoice", opts.InputDir)
	mediaDir := common.MediaDir(opts.OutputDir)

	mediaNames := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || banned.IsBanned(e.Name()) || strings.HasSuffix(strings.ToLower(e.Name()), ".html") {
			continue
		}
		mediaNames = append(mediaNames, e.Name())
	}
	claimed := map[string]bool{}

	var transcripts []transcriptRecord
	var stats Stats

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".html") {
			continue
		}
		m := htmlFilenamePattern.FindStringSubmatch(e.Name())
		contact := strings.TrimSuffix(e.Name(), ".html")
		if m != nil {
			contact = m[1]
		}
		htmlPath := filepath.Join(callsDir, e.Name())
		rec, err := parseTranscript(htmlPath, contact)
		if err != nil {
			tracker.AddProcessingFailure(htmlPath, nil, "unparsable transcript html", err.Error(), nil)
			continue
		}
		stats.TranscriptCount++

		for i := range rec.Messages {
			stats.MessageCount++
			msg := &rec.Messages[i]
			var matchedNames []string
			for _, ref := range msg.MediaFiles {
				name, ok := resolveMedia(ref, mediaNames, claimed)
				if !ok {
					tracker.AddOrphanedMedia(filepath.Join(callsDir, ref), "no on-disk file matched transcript reference", map[string]any{"contact": contact})
					stats.OrphanedMedia++
					continue
				}
				srcPath := filepath.Join(callsDir, name)
				result, err := common.CopyDeduped(srcPath, name, mediaDir, reg, collisions, false, map[string]any{"contact": contact})
				if err != nil {
					tracker.AddProcessingFailure(srcPath, nil, "copy failed", err.Error(), map[string]any{"contact": contact})
					continue
				}
				matchedNames = append(matchedNames, result.Filename)
				stats.MatchedFiles++
			}
			msg.MediaFiles = matchedNames
		}
		transcripts = append(transcripts, rec)
	}

	stats.UniqueFiles = reg.Len()
	stats.DuplicateFiles = reg.DuplicateCount()

	metadataPath := filepath.Join(opts.OutputDir, "metadata.json")
	env := metadatajson.Envelope{
		BodyKey: "transcripts",
		ExportInfo: metadatajson.ExportInfo{
			ExportPath:    opts.InputDir,
			ProcessedDate: time.Now().UTC().Format(time.RFC3339),
			Extra: map[string]any{
				"transcript_count": stats.TranscriptCount,
			},
		},
		Body: transcripts,
	}
	if err := metadatajson.Write(metadataPath, env); err != nil {
		return Result{}, err
	}
	if err := tracker.HandleFailures(opts.OutputDir); err != nil {
		return Result{}, fmt.Errorf("googlevoice: %w", err)
	}

	return Result{MetadataPath: metadataPath, Stats: stats}, nil
}

func parseTranscript(path, contact string) (transcriptRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return transcriptRecord{}, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return transcriptRecord{}, err
	}

	rec := transcriptRecord{Contact: contact}
	doc.Find(".message, .hChatLogAggregation .haudio").Each(func(_ int, sel *goquery.Selection) {
		msg := messageRecord{}
		if sender := sel.Find("cite.sender").First(); sender.Length() > 0 {
			msg.Sender = strings.TrimSpace(sender.Text())
		}
		if ts := sel.Find("abbr.dt").First(); ts.Length() > 0 {
			if title, ok := ts.Attr("title"); ok {
				msg.Timestamp = title
			}
		}
		if text := sel.Find("q").First(); text.Length() > 0 {
			msg.Text = strings.TrimSpace(text.Text())
		}
		sel.Find("img[src], a[href]").Each(func(_ int, media *goquery.Selection) {
			if src, ok := media.Attr("src"); ok && src != "" {
				msg.MediaFiles = append(msg.MediaFiles, src)
				return
			}
			if href, ok := media.Attr("href"); ok && href != "" {
				msg.MediaFiles = append(msg.MediaFiles, href)
			}
		})
		if msg.Sender != "" || msg.Timestamp != "" || msg.Text != "" || len(msg.MediaFiles) > 0 {
			rec.Messages = append(rec.Messages, msg)
		}
	})
	return rec, nil
}

// resolveMedia matches an HTML-referenced media name against the flat
// media set, in order: exact, extension-appended (the HTML src may omit
// the extension entirely), strip-trailing-"-1" (an attachment index
// sometimes present in HTML but absent on disk), prefix match.
func resolveMedia(ref string, mediaNames []string, claimed map[string]bool) (string, bool) {
	ref = filepath.Base(ref)
	if name, ok := firstUnclaimedMatch(mediaNames, claimed, func(n string) bool { return n == ref }); ok {
		return name, true
	}
	if name, ok := firstUnclaimedMatch(mediaNames, claimed, func(n string) bool {
		return strings.HasPrefix(n, ref) && matching.Stem(n) == ref
	}); ok {
		return name, true
	}
	stripped := strings.TrimSuffix(ref, "-1")
	if stripped != ref {
		if name, ok := firstUnclaimedMatch(mediaNames, claimed, func(n string) bool { return matching.Stem(n) == stripped }); ok {
			return name, true
		}
	}
	refStem := matching.Stem(ref)
	if name, ok := firstUnclaimedMatch(mediaNames, claimed, func(n string) bool {
		return matching.IsPrefix(refStem, matching.Stem(n), 10) || matching.IsPrefix(matching.Stem(n), refStem, 10)
	}); ok {
		return name, true
	}
	return "", false
}

func firstUnclaimedMatch(names []string, claimed map[string]bool, pred func(string) bool) (string, bool) {
	for _, n := range names {
		if claimed[n] || !pred(n) {
			continue
		}
		claimed[n] = true
		return n, true
	}
	return "", false
}

// Processor adapts Preprocess to the registry.Processor contract.
type Processor struct{}

func (Processor) Name() string                { return "googlevoice" }
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
