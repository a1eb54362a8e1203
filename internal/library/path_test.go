package library

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeReplacesUnsafeChars(t *testing.T) {
	got := Sanitize(`AC/DC: "Back" <In> Black?`)
	if got == `AC/DC: "Back" <In> Black?` {
		t.Fatal("expected sanitization to change input")
	}
	for _, c := range []string{"/", "\\", ":", "\"", "<", ">", "?", "*", "|"} {
		if containsRune(got, c) {
			t.Fatalf("sanitized output %q still contains %q", got, c)
		}
	}
}

func containsRune(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestSanitizeTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := Sanitize(string(long))
	if len(got) != maxSegmentLen {
		t.Fatalf("expected length %d, got %d", maxSegmentLen, len(got))
	}
}

func TestBuildPathDeterministic(t *testing.T) {
	root := t.TempDir()
	p1 := BuildPath(root, "Artist", "Album", "Title", 3, "flac")
	p2 := BuildPath(root, "Artist", "Album", "Title", 3, "flac")
	if p1 != p2 {
		t.Fatalf("BuildPath not pure: %q != %q", p1, p2)
	}
	want := filepath.Join(root, "Artist", "Album", "03 - Title.flac")
	if p1 != want {
		t.Fatalf("got %q, want %q", p1, want)
	}
}

func TestBuildPathNoTrackNumber(t *testing.T) {
	root := t.TempDir()
	p := BuildPath(root, "Artist", "Album", "Title", 0, "mp3")
	want := filepath.Join(root, "Artist", "Album", "Title.mp3")
	if p != want {
		t.Fatalf("got %q, want %q", p, want)
	}
}

func TestBuildPathCollisionSuffix(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Artist", "Album")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	base := filepath.Join(dir, "01 - Title.flac")
	if err := os.WriteFile(base, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := BuildPath(root, "Artist", "Album", "Title", 1, "flac")
	want := filepath.Join(dir, "01 - Title (1).flac")
	if p != want {
		t.Fatalf("got %q, want %q", p, want)
	}

	if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p2 := BuildPath(root, "Artist", "Album", "Title", 1, "flac")
	want2 := filepath.Join(dir, "01 - Title (2).flac")
	if p2 != want2 {
		t.Fatalf("got %q, want %q", p2, want2)
	}
}
