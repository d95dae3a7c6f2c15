// Package failuretracker accumulates the three classes of preprocessing
// failure (orphaned media, orphaned metadata, processing errors) and
// emits them as a triage tree plus a machine-readable report.
package failuretracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"memoria/internal/fileops"
)

// OrphanedMedia is a media file with no matching metadata record.
type OrphanedMedia struct {
	FilePath string         `json:"file_path"`
	Reason   string         `json:"reason"`
	Context  map[string]any `json:"context"`
}

// OrphanedMetadata is a metadata record with no matching media file.
type OrphanedMetadata struct {
	MetadataEntry any            `json:"metadata_entry"`
	Reason        string         `json:"reason"`
	Context       map[string]any `json:"context"`
}

// ProcessingFailure is a media file that failed during copy/processing.
type ProcessingFailure struct {
	FilePath     string         `json:"file_path"`
	Metadata     any            `json:"metadata"`
	Reason       string         `json:"reason"`
	ErrorDetails string         `json:"error_details"`
	Context      map[string]any `json:"context"`
}

// Summary reports counts of each failure category.
type Summary struct {
	TotalFailures    int `json:"total_failures"`
	FailedMatching   int `json:"failed_matching"`
	FailedProcessing int `json:"failed_processing"`
}

// Report is the JSON shape written to issues/failure-report.json.
type Report struct {
	ProcessorName    string    `json:"processor_name"`
	ExportDirectory  string    `json:"export_directory"`
	Timestamp        string    `json:"timestamp"`
	Summary          Summary   `json:"summary"`
	FailedMatching   matching  `json:"failed_matching"`
	FailedProcessing []ProcessingFailure `json:"failed_processing"`
}

type matching struct {
	OrphanedMedia    []OrphanedMedia    `json:"orphaned_media"`
	OrphanedMetadata []OrphanedMetadata `json:"orphaned_metadata"`
}

// Tracker accumulates failures with thread-safe append semantics. The
// core's use pattern never interleaves reads with writes: all appends
// happen during scan+match, a single read happens at emission.
type Tracker struct {
	processorName   string
	exportDirectory string
	timestamp       time.Time

	mu                sync.Mutex
	orphanedMedia     []OrphanedMedia
	orphanedMetadata  []OrphanedMetadata
	processingFailure []ProcessingFailure
}

// New constructs a Tracker for one preprocessor run.
func New(processorName, exportDirectory string) *Tracker {
	return &Tracker{
		processorName:   processorName,
		exportDirectory: exportDirectory,
		timestamp:       time.Now().UTC(),
	}
}

// AddOrphanedMedia records a media file with no matching metadata.
func (t *Tracker) AddOrphanedMedia(path, reason string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	if _, ok := context["file_size"]; !ok {
		if info, err := os.Stat(path); err == nil {
			context["file_size"] = info.Size()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orphanedMedia = append(t.orphanedMedia, OrphanedMedia{FilePath: path, Reason: reason, Context: context})
}

// AddOrphanedMetadata records a metadata record with no matching media.
func (t *Tracker) AddOrphanedMetadata(entry any, reason string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orphanedMetadata = append(t.orphanedMetadata, OrphanedMetadata{MetadataEntry: entry, Reason: reason, Context: context})
}

// AddProcessingFailure records a media file that failed after matching.
func (t *Tracker) AddProcessingFailure(path string, metadata any, reason, errDetails string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processingFailure = append(t.processingFailure, ProcessingFailure{
		FilePath: path, Metadata: metadata, Reason: reason, ErrorDetails: errDetails, Context: context,
	})
}

// HasFailures reports whether any failure has been tracked.
func (t *Tracker) HasFailures() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orphanedMedia) > 0 || len(t.orphanedMetadata) > 0 || len(t.processingFailure) > 0
}

func (t *Tracker) summaryLocked() Summary {
	matched := len(t.orphanedMedia) + len(t.orphanedMetadata)
	return Summary{
		TotalFailures:    matched + len(t.processingFailure),
		FailedMatching:   matched,
		FailedProcessing: len(t.processingFailure),
	}
}

// Summary returns current failure counts.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked()
}

func (t *Tracker) report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Report{
		ProcessorName:   t.processorName,
		ExportDirectory: t.exportDirectory,
		Timestamp:       t.timestamp.Format(time.RFC3339),
		Summary:         t.summaryLocked(),
		FailedMatching: matching{
			OrphanedMedia:    append([]OrphanedMedia{}, t.orphanedMedia...),
			OrphanedMetadata: append([]OrphanedMetadata{}, t.orphanedMetadata...),
		},
		FailedProcessing: append([]ProcessingFailure{}, t.processingFailure...),
	}
}

// HandleFailures performs the three emission actions described in §4.D,
// in order: copy orphaned media, save orphaned metadata, write the
// combined failure report. Per-entry errors are recorded into the
// entry's context and never abort emission.
func (t *Tracker) HandleFailures(outputDir string) error {
	if !t.HasFailures() {
		return nil
	}
	t.copyOrphanedMedia(outputDir)
	t.saveOrphanedMetadata(outputDir)
	return t.saveReport(outputDir)
}

func (t *Tracker) copyOrphanedMedia(outputDir string) {
	t.mu.Lock()
	entries := t.orphanedMedia
	t.mu.Unlock()
	if len(entries) == 0 {
		return
	}
	destDir := filepath.Join(outputDir, "issues", "failed-matching", "media")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return
	}
	for i := range entries {
		entry := &entries[i]
		src := entry.FilePath
		if _, err := os.Stat(src); err != nil {
			entry.Context["copy_error"] = "source file not found"
			continue
		}
		dest := uniquePath(destDir, filepath.Base(src))
		if err := fileops.CopyFile(src, dest); err != nil {
			entry.Context["copy_error"] = err.Error()
			continue
		}
		rel, _ := filepath.Rel(outputDir, dest)
		entry.Context["copied_to"] = rel
	}
}

func (t *Tracker) saveOrphanedMetadata(outputDir string) {
	t.mu.Lock()
	entries := t.orphanedMetadata
	t.mu.Unlock()
	if len(entries) == 0 {
		return
	}
	destDir := filepath.Join(outputDir, "issues", "failed-matching", "metadata")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return
	}
	for idx := range entries {
		entry := &entries[idx]
		name := titleLikeName(entry.MetadataEntry)
		if name == "" {
			name = fmt.Sprintf("orphaned_metadata_%04d", idx)
		}
		name = fileops.SafeFilename(name)
		dest := uniquePath(destDir, name+".json")
		raw, err := json.MarshalIndent(entry.MetadataEntry, "", "  ")
		if err != nil {
			entry.Context["save_error"] = err.Error()
			continue
		}
		if err := os.WriteFile(dest, raw, 0o644); err != nil {
			entry.Context["save_error"] = err.Error()
			continue
		}
		rel, _ := filepath.Rel(outputDir, dest)
		entry.Context["metadata_saved_to"] = rel
	}
}

func (t *Tracker) saveReport(outputDir string) error {
	issuesDir := filepath.Join(outputDir, "issues")
	if err := os.MkdirAll(issuesDir, 0o755); err != nil {
		return fmt.Errorf("failuretracker: create issues dir: %w", err)
	}
	report := t.report()
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failuretracker: marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(issuesDir, "failure-report.json"), raw, 0o644); err != nil {
		return fmt.Errorf("failuretracker: write report: %w", err)
	}
	return nil
}

// titleLikeName extracts a filename-ish field from a metadata entry
// shaped as map[string]any, trying common field names in order.
func titleLikeName(entry any) string {
	m, ok := entry.(map[string]any)
	if !ok {
		return ""
	}
	for _, field := range []string{"title", "name", "filename", "media_filename", "file_name"} {
		if v, ok := m[field]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSuffix(s, filepath.Ext(s))
			}
		}
	}
	return ""
}

func uniquePath(dir, name string) string {
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err != nil {
		return dest
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
