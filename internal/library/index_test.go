package library

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mediabridge/internal/domain"
)

func testSong(provider, externalID string) domain.Song {
	return domain.Song{
		Title:            "Title",
		Artist:           "Artist",
		Album:            "Album",
		ExternalProvider: provider,
		ExternalID:       externalID,
	}
}

func TestIndexLookupMissReturnsEmpty(t *testing.T) {
	idx := NewIndex(t.TempDir())
	got, err := idx.Lookup("tidal", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestIndexRegisterAndLookup(t *testing.T) {
	root := t.TempDir()
	idx := NewIndex(root)
	file := filepath.Join(root, "track.flac")
	if err := os.WriteFile(file, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Register(testSong("tidal", "1"), file); err != nil {
		t.Fatal(err)
	}
	got, err := idx.Lookup("tidal", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got != file {
		t.Fatalf("got %q, want %q", got, file)
	}
}

func TestIndexStaleMappingInvisible(t *testing.T) {
	root := t.TempDir()
	idx := NewIndex(root)
	file := filepath.Join(root, "track.flac")
	if err := os.WriteFile(file, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Register(testSong("tidal", "1"), file); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	got, err := idx.Lookup("tidal", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("expected stale mapping to be invisible, got %q", got)
	}
}

func TestIndexRegisterNoopWithoutExternalFields(t *testing.T) {
	idx := NewIndex(t.TempDir())
	local := domain.Song{IsLocal: true, LocalPath: "/x"}
	if err := idx.Register(local, "/x"); err != nil {
		t.Fatal(err)
	}
	all, err := idx.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no mapping registered, got %v", all)
	}
}

func TestIndexForget(t *testing.T) {
	root := t.TempDir()
	idx := NewIndex(root)
	file := filepath.Join(root, "track.flac")
	os.WriteFile(file, []byte("data"), 0o644)
	idx.Register(testSong("tidal", "1"), file)
	if err := idx.Forget("tidal", "1"); err != nil {
		t.Fatal(err)
	}
	got, _ := idx.Lookup("tidal", "1")
	if got != "" {
		t.Fatalf("expected forgotten mapping to be gone, got %q", got)
	}
}

func TestIndexPersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	idx := NewIndex(root)
	file := filepath.Join(root, "track.flac")
	os.WriteFile(file, []byte("data"), 0o644)
	if err := idx.Register(testSong("tidal", "1"), file); err != nil {
		t.Fatal(err)
	}

	idx2 := NewIndex(root)
	got, err := idx2.Lookup("tidal", "1")
	if err != nil {
		t.Fatal(err)
	}
	if got != file {
		t.Fatalf("got %q, want %q", got, file)
	}
}

func TestIndexConcurrentWrites(t *testing.T) {
	root := t.TempDir()
	idx := NewIndex(root)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			file := filepath.Join(root, "t.flac")
			os.WriteFile(file, []byte("d"), 0o644)
			_ = idx.Register(testSong("tidal", itoa(n)), file)
		}(i)
	}
	wg.Wait()
	all, err := idx.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 20 {
		t.Fatalf("expected 20 mappings, got %d", len(all))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
