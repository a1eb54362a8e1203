package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediabridge/internal/domain"
	"mediabridge/internal/library"
	"mediabridge/internal/provider"
)

// stubProvider is a minimal provider.Provider backed by an httptest server
// streaming fixed bytes for every track.
type stubProvider struct {
	name       string
	srv        *httptest.Server
	resolveErr error
	calls      int32
}

func newStubProvider(t *testing.T, payload []byte) *stubProvider {
	t.Helper()
	sp := &stubProvider{name: "stub"}
	sp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sp.calls, 1)
		w.Write(payload)
	}))
	return sp
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
	return domain.Song{
		ExternalProvider: p.name,
		ExternalID:       externalID,
		Title:            "Test Track",
		Artist:           "Test Artist",
		Album:            "Test Album",
		TrackNumber:      1,
	}, nil
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
	if p.resolveErr != nil {
		return domain.ResolvedDownload{}, p.resolveErr
	}
	return domain.ResolvedDownload{URL: p.srv.URL, MimeType: "audio/mpeg", Cipher: domain.CipherNone}, nil
}
func (p *stubProvider) IsAvailable(ctx context.Context) bool { return true }

var _ provider.Provider = (*stubProvider)(nil)

func TestFetchDownloadsAndRegisters(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	c := New(root, idx, nil)

	sp := newStubProvider(t, []byte("hello world audio bytes"))
	defer sp.srv.Close()

	path, err := c.Fetch(context.Background(), sp, "track1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "hello world audio bytes" {
		t.Errorf("unexpected content: %q", data)
	}

	cached, err := idx.Lookup("stub", "track1")
	if err != nil || cached != path {
		t.Errorf("expected lookup to find %s, got %s (err=%v)", path, cached, err)
	}
}

func TestFetchSingleFlight(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	c := New(root, idx, nil)

	sp := newStubProvider(t, []byte("concurrent payload"))
	defer sp.srv.Close()

	const n = 8
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.Fetch(context.Background(), sp, "shared")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d failed: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("fetch %d returned different path: %s vs %s", i, paths[i], paths[0])
		}
	}
	if got := atomic.LoadInt32(&sp.calls); got != 1 {
		t.Errorf("expected exactly 1 upstream request, got %d", got)
	}
}

func TestFetchSecondCallHitsCache(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	c := New(root, idx, nil)

	sp := newStubProvider(t, []byte("cache me"))
	defer sp.srv.Close()

	if _, err := c.Fetch(context.Background(), sp, "track1"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.Fetch(context.Background(), sp, "track1"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := atomic.LoadInt32(&sp.calls); got != 1 {
		t.Errorf("expected second fetch to hit cache, got %d upstream calls", got)
	}
}

func TestFetchResolveFailureIsFatalAfterRetry(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	c := New(root, idx, nil)

	sp := newStubProvider(t, nil)
	defer sp.srv.Close()
	sp.resolveErr = io.ErrUnexpectedEOF

	_, err := c.Fetch(context.Background(), sp, "broken")
	if err == nil {
		t.Fatal("expected failure after resolve_download retry exhausted")
	}
}

func TestFetchStreamTailsWhileDownloading(t *testing.T) {
	root := t.TempDir()
	idx := library.NewIndex(root)
	c := New(root, idx, nil)

	slow := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first-chunk-"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-slow
		w.Write([]byte("second-chunk"))
	}))
	defer srv.Close()

	sp := &stubProvider{name: "slow"}
	sp.srv = srv

	rc, err := c.FetchStream(context.Background(), sp, "slowtrack")
	if err != nil {
		t.Fatalf("FetchStream failed: %v", err)
	}
	defer rc.Close()

	// The server is still blocked before writing "second-chunk" (it is
	// waiting on `slow`), so reading the first chunk here must not block
	// on the download's completion: it proves bytes are delivered as they
	// land rather than only after the whole file is written.
	buf := make([]byte, 64)
	total := 0
	deadline := time.After(5 * time.Second)
	for total < len("first-chunk-") {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for first chunk before download completed, got %d bytes", total)
		default:
		}
		n, rerr := rc.Read(buf[total:])
		total += n
		if rerr != nil && rerr != io.EOF {
			t.Fatalf("tail read error: %v", rerr)
		}
	}
	if got := string(buf[:total]); got != "first-chunk-" {
		t.Fatalf("unexpected pre-completion content: %q", got)
	}

	close(slow)

	deadline = time.After(5 * time.Second)
	for total < len("first-chunk-second-chunk") {
		select {
		case <-deadline:
			t.Fatalf("timed out reading tail stream, got %d bytes", total)
		default:
		}
		n, rerr := rc.Read(buf[total:])
		total += n
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			t.Fatalf("tail read error: %v", rerr)
		}
	}
	if got := string(buf[:total]); got != "first-chunk-second-chunk" {
		t.Errorf("unexpected tailed content: %q", got)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"audio/flac":    "flac",
		"AUDIO/MPEG":    "mp3",
		"audio/mp4":     "m4a",
		"audio/unknown": "mp3",
	}
	for mime, want := range cases {
		if got := extensionFor(mime); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", mime, got, want)
		}
	}
}
