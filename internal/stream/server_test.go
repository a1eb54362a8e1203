package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"mediabridge/internal/domain"
	"mediabridge/internal/download"
	"mediabridge/internal/library"
	"mediabridge/internal/provider"
)

type stubProvider struct {
	name string
	srv  *httptest.Server
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) SearchSongs(ctx context.Context, q provider.SearchQuery) ([]domain.Song, error) {
	return nil, nil
}
func (p *stubProvider) SearchAlbums(ctx context.Context, q provider.SearchQuery) ([]domain.Album, error) {
	return nil, nil
}
func (p *stubProvider) SearchArtists(ctx context.Context, q provider.SearchQuery) ([]domain.Artist, error) {
	return nil, nil
}
func (p *stubProvider) SearchPlaylists(ctx context.Context, q provider.SearchQuery) ([]domain.ExternalPlaylist, error) {
	return nil, nil
}
func (p *stubProvider) GetSong(ctx context.Context, externalID string) (domain.Song, error) {
	return domain.Song{ExternalProvider: p.name, ExternalID: externalID, Title: "T", Artist: "A"}, nil
}
func (p *stubProvider) GetAlbum(ctx context.Context, externalID string) (domain.Album, error) {
	return domain.Album{}, nil
}
func (p *stubProvider) GetAlbumTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	return nil, nil
}
func (p *stubProvider) GetArtist(ctx context.Context, externalID string) (domain.Artist, error) {
	return domain.Artist{}, nil
}
func (p *stubProvider) GetArtistAlbums(ctx context.Context, externalID string) ([]domain.Album, error) {
	return nil, nil
}
func (p *stubProvider) GetPlaylist(ctx context.Context, externalID string) (domain.ExternalPlaylist, error) {
	return domain.ExternalPlaylist{}, nil
}
func (p *stubProvider) GetPlaylistTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	return nil, nil
}
func (p *stubProvider) ResolveDownload(ctx context.Context, externalID string, quality domain.Quality) (domain.ResolvedDownload, error) {
	return domain.ResolvedDownload{URL: p.srv.URL, MimeType: "audio/mpeg", Cipher: domain.CipherNone}, nil
}
func (p *stubProvider) IsAvailable(ctx context.Context) bool { return true }

var _ provider.Provider = (*stubProvider)(nil)

func TestServeLocalHit(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	coord := download.New(root, idx, nil)
	srv := New(idx, coord)

	p := &stubProvider{name: "stub"}
	song := domain.Song{ExternalProvider: "stub", ExternalID: "1", Title: "Hit"}

	localPath := filepath.Join(root, "cached.mp3")
	if err := os.WriteFile(localPath, []byte("cached bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Register(song, localPath); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stream?id=1", nil)
	w := httptest.NewRecorder()
	srv.Serve(w, req, p, song, "1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "cached bytes" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestServeFallbackFetchesAndStreams(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	coord := download.New(root, idx, nil)
	str := New(idx, coord)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("live audio bytes"))
	}))
	defer upstream.Close()

	p := &stubProvider{name: "stub2", srv: upstream}
	song := domain.Song{ExternalProvider: "stub2", ExternalID: "2", Title: "Miss"}

	req := httptest.NewRequest(http.MethodGet, "/stream?id=2", nil)
	w := httptest.NewRecorder()
	str.Serve(w, req, p, song, "2")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "audio/mpeg" {
		t.Errorf("unexpected content type: %s", w.Header().Get("Content-Type"))
	}
	if w.Body.String() != "live audio bytes" {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
	if w.Header().Get("Accept-Ranges") == "bytes" {
		t.Error("expected no range support on first-play fallback")
	}
}

func TestContentTypeForPartialFile(t *testing.T) {
	if got := contentTypeFor("/lib/Artist/Album/01 - Song.flac.part"); got != "audio/flac" {
		t.Errorf("got %s, want audio/flac", got)
	}
	if got := contentTypeFor("/lib/Artist/Album/01 - Song.mp3"); got != "audio/mpeg" {
		t.Errorf("got %s, want audio/mpeg", got)
	}
}
