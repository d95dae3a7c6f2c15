package failuretracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestHandleFailuresWritesTriageTreeAndReport(t *testing.T) {
	exportDir := t.TempDir()
	outDir := t.TempDir()

	mediaPath := filepath.Join(exportDir, "IMG_0001.JPG")
	if err := os.WriteFile(mediaPath, []byte("fake jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := New("googlephotos", exportDir)
	tr.AddOrphanedMedia(mediaPath, "no matching json metadata found", nil)
	tr.AddOrphanedMetadata(map[string]any{"title": "IMG_0002.JPG"}, "no matching media file found", nil)
	tr.AddProcessingFailure(mediaPath, map[string]any{"title": "IMG_0001.JPG"}, "copy failed", "disk full", nil)

	if !tr.HasFailures() {
		t.Fatal("expected tracker to report failures")
	}
	summary := tr.Summary()
	if summary.TotalFailures != 3 || summary.FailedMatching != 2 || summary.FailedProcessing != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if err := tr.HandleFailures(outDir); err != nil {
		t.Fatal(err)
	}

	copiedMedia := filepath.Join(outDir, "issues", "failed-matching", "media", "IMG_0001.JPG")
	if _, err := os.Stat(copiedMedia); err != nil {
		t.Fatalf("expected orphaned media copied: %v", err)
	}

	metadataDir := filepath.Join(outDir, "issues", "failed-matching", "metadata")
	entries, err := os.ReadDir(metadataDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one orphaned metadata file, got %v err=%v", entries, err)
	}

	reportPath := filepath.Join(outDir, "issues", "failure-report.json")
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("expected failure report written: %v", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatal(err)
	}
	if report.ProcessorName != "googlephotos" {
		t.Fatalf("unexpected processor name: %q", report.ProcessorName)
	}
	if report.Summary.TotalFailures != 3 {
		t.Fatalf("unexpected report summary: %+v", report.Summary)
	}
	if len(report.FailedMatching.OrphanedMedia) != 1 || len(report.FailedMatching.OrphanedMetadata) != 1 {
		t.Fatalf("unexpected failed matching contents: %+v", report.FailedMatching)
	}
	if len(report.FailedProcessing) != 1 {
		t.Fatalf("unexpected failed processing contents: %+v", report.FailedProcessing)
	}
}

func TestHandleFailuresNoopWhenEmpty(t *testing.T) {
	tr := New("discord", t.TempDir())
	outDir := t.TempDir()
	if tr.HasFailures() {
		t.Fatal("expected no failures on a fresh tracker")
	}
	if err := tr.HandleFailures(outDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "issues")); err == nil {
		t.Fatal("expected no issues directory when there are no failures")
	}
}

func TestOrphanedMediaMissingSourceRecordsCopyError(t *testing.T) {
	outDir := t.TempDir()
	tr := New("imessage", t.TempDir())
	tr.AddOrphanedMedia(filepath.Join(outDir, "does-not-exist.jpg"), "orphaned", nil)

	if err := tr.HandleFailures(outDir); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(outDir, "issues", "failure-report.json"))
	if err != nil {
		t.Fatal(err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatal(err)
	}
	if len(report.FailedMatching.OrphanedMedia) != 1 {
		t.Fatalf("expected one orphaned media entry, got %d", len(report.FailedMatching.OrphanedMedia))
	}
	if report.FailedMatching.OrphanedMedia[0].Context["copy_error"] == nil {
		t.Fatal("expected copy_error recorded in context")
	}
}
