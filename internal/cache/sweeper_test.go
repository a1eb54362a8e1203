package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediabridge/internal/domain"
	"mediabridge/internal/library"
)

func TestSweepOnceEvictsStaleFiles(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)

	stalePath := filepath.Join(root, "stale.mp3")
	freshPath := filepath.Join(root, "fresh.mp3")
	if err := os.WriteFile(stalePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(freshPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stalePath, old, old); err != nil {
		t.Fatal(err)
	}

	if err := idx.Register(domain.Song{ExternalProvider: "p", ExternalID: "stale"}, stalePath); err != nil {
		t.Fatal(err)
	}
	if err := idx.Register(domain.Song{ExternalProvider: "p", ExternalID: "fresh"}, freshPath); err != nil {
		t.Fatal(err)
	}

	sw := New(idx, 24*time.Hour, time.Hour)
	removed := sw.sweepOnce()
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Error("expected stale file removed")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Error("expected fresh file to remain")
	}

	if cached, _ := idx.Lookup("p", "stale"); cached != "" {
		t.Error("expected stale mapping forgotten")
	}
	if cached, _ := idx.Lookup("p", "fresh"); cached != freshPath {
		t.Error("expected fresh mapping to remain")
	}
}

func TestSweepOnceForgetsMissingFiles(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)

	ghostPath := filepath.Join(root, "ghost.mp3")
	if err := os.WriteFile(ghostPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Register(domain.Song{ExternalProvider: "p", ExternalID: "ghost"}, ghostPath); err != nil {
		t.Fatal(err)
	}
	os.Remove(ghostPath)

	sw := New(idx, 24*time.Hour, time.Hour)
	removed := sw.sweepOnce()
	if removed != 1 {
		t.Fatalf("expected 1 forgotten mapping, got %d", removed)
	}
}
