package tiera

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediabridge/internal/domain"
	"mediabridge/internal/provider"
)

func newManifestServer(t *testing.T, urls []string, mime string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(manifestBody{URLs: urls, MimeType: mime})
		env := manifestEnvelope{Manifest: base64.StdEncoding.EncodeToString(body)}
		json.NewEncoder(w).Encode(env)
	}))
}

func TestResolveDownloadDecodesManifest(t *testing.T) {
	srv := newManifestServer(t, []string{"https://cdn.example.com/track.flac"}, "audio/flac")
	defer srv.Close()

	p := New("tidal", []string{srv.URL})
	got, err := p.ResolveDownload(context.Background(), "12345", domain.QualityFLAC)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://cdn.example.com/track.flac" {
		t.Fatalf("got url %q", got.URL)
	}
	if got.Cipher != domain.CipherNone {
		t.Fatalf("expected no cipher, got %q", got.Cipher)
	}
}

func TestResolveDownloadMissingURLsIsIntegrityError(t *testing.T) {
	srv := newManifestServer(t, nil, "audio/flac")
	defer srv.Close()

	p := New("tidal", []string{srv.URL})
	_, err := p.ResolveDownload(context.Background(), "12345", domain.QualityFLAC)
	if err == nil {
		t.Fatal("expected error for manifest with no urls")
	}
}

func TestResolveDownloadFallsBackToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := newManifestServer(t, []string{"https://cdn.example.com/ok.flac"}, "audio/flac")
	defer good.Close()

	p := New("tidal", []string{bad.URL, good.URL})
	got, err := p.ResolveDownload(context.Background(), "1", domain.QualityFLAC)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://cdn.example.com/ok.flac" {
		t.Fatalf("expected fallback endpoint result, got %q", got.URL)
	}
}

func TestSearchSongsRespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := searchEnvelope{Songs: []songEntry{
			{ID: "1", Title: "A"}, {ID: "2", Title: "B"}, {ID: "3", Title: "C"},
		}}
		json.NewEncoder(w).Encode(env)
	}))
	defer srv.Close()

	p := New("tidal", []string{srv.URL})
	songs, err := p.SearchSongs(context.Background(), provider.SearchQuery{Query: "x", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(songs))
	}
	if songs[0].ID != "ext-tidal-song-1" {
		t.Fatalf("unexpected id %q", songs[0].ID)
	}
}

func TestGetSongNotFoundReturnsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New("tidal", []string{srv.URL})
	song, err := p.GetSong(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if song.ID != "" {
		t.Fatalf("expected empty song, got %+v", song)
	}
}
