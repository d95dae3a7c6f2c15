package filetype

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInferJPEGSignature(t *testing.T) {
	dir := t.TempDir()
	// JPEG magic bytes (FF D8 FF) with only a few bytes of padding are
	// enough for the signature to be recognised.
	path := writeFile(t, dir, "a.jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0})
	res, err := Infer(path, "a.jpg", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Extension != "jpg" || res.Category != CategoryImage {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestInferRetainsDeclaredOnCrossCategorySuppression(t *testing.T) {
	dir := t.TempDir()
	// PNG bytes but declared as a video extension with cross-category
	// correction disabled: the declared extension must survive.
	path := writeFile(t, dir, "a.mp4", []byte{0x89, 'P', 'N', 'G', 0, 0, 0, 0})
	res, err := Infer(path, "a.mp4", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Corrected {
		t.Fatalf("expected correction to be suppressed, got %+v", res)
	}
	if res.Extension != "mp4" {
		t.Fatalf("expected declared extension retained, got %q", res.Extension)
	}
}

func TestInferMissingFileRetainsDeclared(t *testing.T) {
	res, err := Infer(filepath.Join(t.TempDir(), "missing.png"), "missing.png", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Extension != "png" {
		t.Fatalf("expected declared extension retained on open failure, got %+v", res)
	}
}

func TestSniffEBMLDistinguishesWebM(t *testing.T) {
	dir := t.TempDir()
	content := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, []byte("padding webm doctype marker here")...)
	path := writeFile(t, dir, "a.webm", content)
	res, err := Infer(path, "a.webm", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Extension != "webm" {
		t.Fatalf("expected webm, got %q", res.Extension)
	}
}
