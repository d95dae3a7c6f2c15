package bannedpath

import "testing"

func TestIsBannedDefaults(t *testing.T) {
	f := New()
	cases := map[string]bool{
		"/export/@eaDir":                   true,
		"/export/photos/SYNOFILE_THUMB_0.jpg": true,
		"/export/photos/._IMG_0001.JPG":    true,
		"/export/photos/.DS_Store":         true,
		"/export/photos/IMG_0001.JPG":      false,
		"/export/photos/thumbnails":        true,
	}
	for path, want := range cases {
		if got := f.IsBanned(path); got != want {
			t.Errorf("IsBanned(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestAddPattern(t *testing.T) {
	f := New("CustomSidecar")
	if !f.IsBanned("/export/CustomSidecar") {
		t.Fatal("expected additional pattern to be banned")
	}
	f.AddPattern("CustomSidecar")
	if len(f.Patterns()) != len(defaultPatterns)+1 {
		t.Fatalf("duplicate pattern should not be appended twice, got %d patterns", len(f.Patterns()))
	}
}
