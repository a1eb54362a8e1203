package search

import (
	"context"
	"errors"
	"testing"

	"mediabridge/internal/domain"
	"mediabridge/internal/provider"
)

type fakeLocal struct {
	songs     []domain.Song
	albums    []domain.Album
	artists   []domain.Artist
	playlists []domain.ExternalPlaylist
	err       error
}

func (f *fakeLocal) SearchSongs(ctx context.Context, query string, limit int) ([]domain.Song, error) {
	return f.songs, f.err
}
func (f *fakeLocal) SearchAlbums(ctx context.Context, query string, limit int) ([]domain.Album, error) {
	return f.albums, f.err
}
func (f *fakeLocal) SearchArtists(ctx context.Context, query string, limit int) ([]domain.Artist, error) {
	return f.artists, f.err
}
func (f *fakeLocal) SearchPlaylists(ctx context.Context, query string, limit int) ([]domain.ExternalPlaylist, error) {
	return f.playlists, f.err
}

type fakeProvider struct {
	name    string
	songs   []domain.Song
	artists []domain.Artist
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) SearchSongs(ctx context.Context, q provider.SearchQuery) ([]domain.Song, error) {
	return p.songs, nil
}
func (p *fakeProvider) SearchAlbums(ctx context.Context, q provider.SearchQuery) ([]domain.Album, error) {
	return nil, nil
}
func (p *fakeProvider) SearchArtists(ctx context.Context, q provider.SearchQuery) ([]domain.Artist, error) {
	return p.artists, nil
}
func (p *fakeProvider) SearchPlaylists(ctx context.Context, q provider.SearchQuery) ([]domain.ExternalPlaylist, error) {
	return nil, nil
}
func (p *fakeProvider) GetSong(ctx context.Context, externalID string) (domain.Song, error) {
	return domain.Song{}, nil
}
func (p *fakeProvider) GetAlbum(ctx context.Context, externalID string) (domain.Album, error) {
	return domain.Album{}, nil
}
func (p *fakeProvider) GetAlbumTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	return nil, nil
}
func (p *fakeProvider) GetArtist(ctx context.Context, externalID string) (domain.Artist, error) {
	return domain.Artist{}, nil
}
func (p *fakeProvider) GetArtistAlbums(ctx context.Context, externalID string) ([]domain.Album, error) {
	return nil, nil
}
func (p *fakeProvider) GetPlaylist(ctx context.Context, externalID string) (domain.ExternalPlaylist, error) {
	return domain.ExternalPlaylist{}, nil
}
func (p *fakeProvider) GetPlaylistTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	return nil, nil
}
func (p *fakeProvider) ResolveDownload(ctx context.Context, externalID string, quality domain.Quality) (domain.ResolvedDownload, error) {
	return domain.ResolvedDownload{}, nil
}
func (p *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

var _ provider.Provider = (*fakeProvider)(nil)

func TestSearchEmptyQuery(t *testing.T) {
	m := New(&fakeLocal{}, nil)
	res, err := m.Search(context.Background(), "   ", Limits{SongCount: 20, AlbumCount: 20, ArtistCount: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Songs) != 0 || len(res.Albums) != 0 || len(res.Artists) != 0 {
		t.Errorf("expected empty result for empty query, got %+v", res)
	}
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	local := &fakeLocal{
		songs: []domain.Song{
			{ID: "1", Title: "Somewhat Relevant", Artist: "X"},
			{ID: "2", Title: "exact title", Artist: "Y"},
		},
	}
	m := New(local, nil)
	res, err := m.Search(context.Background(), "exact title", Limits{SongCount: 20, AlbumCount: 20, ArtistCount: 20})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(res.Songs))
	}
	if res.Songs[0].ID != "2" {
		t.Errorf("expected exact match first, got %+v", res.Songs[0])
	}
}

func TestSearchMergesProviderResults(t *testing.T) {
	local := &fakeLocal{songs: []domain.Song{{ID: "local1", Title: "shared song", Artist: "A"}}}
	p := &fakeProvider{name: "p1", songs: []domain.Song{{ID: "ext1", Title: "shared song", Artist: "A", ExternalProvider: "p1", ExternalID: "ext1"}}}
	m := New(local, []provider.Provider{p})

	res, err := m.Search(context.Background(), "shared song", Limits{SongCount: 20, AlbumCount: 20, ArtistCount: 20})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Songs) != 2 {
		t.Fatalf("expected local + provider song, got %d: %+v", len(res.Songs), res.Songs)
	}
}

func TestSearchDedupesArtistsPreferringLocal(t *testing.T) {
	local := &fakeLocal{artists: []domain.Artist{{ID: "local-artist", Name: "Same Artist"}}}
	p := &fakeProvider{name: "p1", artists: []domain.Artist{{ID: "ext-artist", Name: "same artist", ExternalProvider: "p1"}}}
	m := New(local, []provider.Provider{p})

	res, err := m.Search(context.Background(), "same artist", Limits{SongCount: 20, AlbumCount: 20, ArtistCount: 20})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Artists) != 1 {
		t.Fatalf("expected artists deduped to 1, got %d: %+v", len(res.Artists), res.Artists)
	}
	if res.Artists[0].ID != "local-artist" {
		t.Errorf("expected local artist preferred, got %+v", res.Artists[0])
	}
}

func TestSearchSurfacesLocalBackendError(t *testing.T) {
	errUnauthorized := errors.New("401 unauthorized")
	local := &fakeLocal{err: errUnauthorized}
	m := New(local, nil)

	_, err := m.Search(context.Background(), "query", Limits{SongCount: 20, AlbumCount: 20, ArtistCount: 20})
	if err == nil {
		t.Fatal("expected local backend error to propagate")
	}
}

func TestSearchNonAlphanumericQueryMatchesBySubstringOnly(t *testing.T) {
	local := &fakeLocal{songs: []domain.Song{{ID: "1", Title: "***", Artist: "A"}}}
	m := New(local, nil)
	res, err := m.Search(context.Background(), "***", Limits{SongCount: 20, AlbumCount: 20, ArtistCount: 20})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Songs) != 1 {
		t.Fatalf("expected substring match on non-alphanumeric query, got %d", len(res.Songs))
	}
}

func TestSearchPagination(t *testing.T) {
	songs := make([]domain.Song, 10)
	for i := range songs {
		songs[i] = domain.Song{ID: string(rune('a' + i)), Title: "track", Artist: "A"}
	}
	local := &fakeLocal{songs: songs}
	m := New(local, nil)

	res, err := m.Search(context.Background(), "track", Limits{SongCount: 3, SongOffset: 2, AlbumCount: 20, ArtistCount: 20})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Songs) != 3 {
		t.Fatalf("expected 3 paginated songs, got %d", len(res.Songs))
	}
}
