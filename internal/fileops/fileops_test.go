package fileops

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"IMG 0001(1).PNG":       "IMG_0001_1_PNG",
		"hello/world":           "hello_world",
		"../../etc/passwd":      "etc_passwd",
		"":                      "unnamed",
		"café été":              "caf_t",
	}
	for input, want := range cases {
		if got := SafeFilename(input); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
