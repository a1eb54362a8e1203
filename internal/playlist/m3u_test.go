package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendCreatesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	if err := w.Append("My Playlist", "Artist One", "Song One", 180, "Artist One/Album/01 - Song One.mp3"); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := w.Append("My Playlist", "Artist Two", "Song Two", 200, "Artist Two/Album/02 - Song Two.flac"); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "My Playlist.m3u"))
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	content := string(data)

	if strings.Count(content, "#EXTM3U") != 1 {
		t.Errorf("expected exactly one header, got content: %s", content)
	}
	if !strings.Contains(content, "#EXTINF:180,Artist One - Song One") {
		t.Errorf("missing first entry: %s", content)
	}
	if !strings.Contains(content, "#EXTINF:200,Artist Two - Song Two") {
		t.Errorf("missing second entry: %s", content)
	}
	if !strings.Contains(content, "Artist One/Album/01 - Song One.mp3") {
		t.Errorf("missing first path: %s", content)
	}
}

func TestAppendSanitizesPlaylistName(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	if err := w.Append("Weird: Name/Test", "A", "T", 100, "a/b.mp3"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Weird_ Name_Test.m3u")); err != nil {
		t.Errorf("expected sanitized filename, got error: %v", err)
	}
}
