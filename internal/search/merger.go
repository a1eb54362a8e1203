// Package search implements the Search Merger (C10): fans local and
// provider searches out concurrently, scores every result via the fuzzy
// matcher, and merges them into one ranked, paginated result per category.
//
// Grounded on navidrome's searchAll/Router.Search3 (other_examples' pack
// entry server/subsonic/searching.go): an errgroup.WithContext fan-out of
// independent per-repository searches joined by a single Wait, generalized
// from navidrome's fixed three local repositories to local-plus-N-providers
// across four categories.
package search

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"mediabridge/internal/domain"
	"mediabridge/internal/matcher"
	"mediabridge/internal/provider"
)

// LocalBackend is the subset of the configured local backend's search
// capability the merger fans out to alongside providers.
type LocalBackend interface {
	SearchSongs(ctx context.Context, query string, limit int) ([]domain.Song, error)
	SearchAlbums(ctx context.Context, query string, limit int) ([]domain.Album, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]domain.Artist, error)
	SearchPlaylists(ctx context.Context, query string, limit int) ([]domain.ExternalPlaylist, error)
}

// Limits bounds and paginates each result category.
type Limits struct {
	SongCount, SongOffset     int
	AlbumCount, AlbumOffset   int
	ArtistCount, ArtistOffset int
}

// Result is the merged, ranked, paginated output of one Search call.
type Result struct {
	Songs     []domain.Song
	Albums    []domain.Album
	Artists   []domain.Artist
	Playlists []domain.ExternalPlaylist
}

// Merger runs the configured local backend and every registered provider's
// search concurrently and merges the results.
type Merger struct {
	local     LocalBackend
	providers []provider.Provider
}

// New builds a Merger over local (may be nil to skip the local leg) and
// providers (search is fanned out to each).
func New(local LocalBackend, providers []provider.Provider) *Merger {
	return &Merger{local: local, providers: providers}
}

type scored[T any] struct {
	item  T
	score int
	pos   int
}

// Search implements §4.10's six steps: fan out, await, score, sort,
// dedup artists, trim and paginate.
func (m *Merger) Search(ctx context.Context, query string, limits Limits) (Result, error) {
	cleaned := cleanQuery(query)
	if cleaned == "" {
		return Result{}, nil
	}

	g, ctx := errgroup.WithContext(ctx)

	var localSongs []domain.Song
	var localAlbums []domain.Album
	var localArtists []domain.Artist
	var localPlaylists []domain.ExternalPlaylist

	if m.local != nil {
		g.Go(func() error {
			songs, err := m.local.SearchSongs(ctx, cleaned, limits.SongCount+limits.SongOffset+1)
			if err != nil {
				return err
			}
			localSongs = songs
			return nil
		})
		g.Go(func() error {
			albums, err := m.local.SearchAlbums(ctx, cleaned, limits.AlbumCount+limits.AlbumOffset+1)
			if err != nil {
				return err
			}
			localAlbums = albums
			return nil
		})
		g.Go(func() error {
			artists, err := m.local.SearchArtists(ctx, cleaned, limits.ArtistCount+limits.ArtistOffset+1)
			if err != nil {
				return err
			}
			localArtists = artists
			return nil
		})
		g.Go(func() error {
			playlists, err := m.local.SearchPlaylists(ctx, cleaned, limits.SongCount+limits.SongOffset+1)
			if err != nil {
				return err
			}
			localPlaylists = playlists
			return nil
		})
	}

	providerSongs := make([][]domain.Song, len(m.providers))
	providerAlbums := make([][]domain.Album, len(m.providers))
	providerArtists := make([][]domain.Artist, len(m.providers))
	providerPlaylists := make([][]domain.ExternalPlaylist, len(m.providers))

	for i, p := range m.providers {
		i, p := i, p
		g.Go(func() error {
			songs, err := p.SearchSongs(ctx, provider.SearchQuery{Query: cleaned, Limit: limits.SongCount + limits.SongOffset + 1})
			if err == nil {
				providerSongs[i] = songs
			}
			return nil // provider failures contribute empty lists, never abort the group
		})
		g.Go(func() error {
			albums, err := p.SearchAlbums(ctx, provider.SearchQuery{Query: cleaned, Limit: limits.AlbumCount + limits.AlbumOffset + 1})
			if err == nil {
				providerAlbums[i] = albums
			}
			return nil
		})
		g.Go(func() error {
			artists, err := p.SearchArtists(ctx, provider.SearchQuery{Query: cleaned, Limit: limits.ArtistCount + limits.ArtistOffset + 1})
			if err == nil {
				providerArtists[i] = artists
			}
			return nil
		})
		g.Go(func() error {
			playlists, err := p.SearchPlaylists(ctx, provider.SearchQuery{Query: cleaned, Limit: limits.SongCount + limits.SongOffset + 1})
			if err == nil {
				providerPlaylists[i] = playlists
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	songs := rankSongs(cleaned, localSongs, providerSongs)
	albums := rankAlbums(cleaned, localAlbums, providerAlbums)
	artists := rankArtists(cleaned, localArtists, providerArtists)
	playlists := mergePlaylists(localPlaylists, providerPlaylists)

	return Result{
		Songs:     paginateSongs(songs, limits.SongOffset, limits.SongCount),
		Albums:    paginateAlbums(albums, limits.AlbumOffset, limits.AlbumCount),
		Artists:   paginateArtists(artists, limits.ArtistOffset, limits.ArtistCount),
		Playlists: playlists,
	}, nil
}

// cleanQuery trims surrounding whitespace and quotes, per §4.10 step 3.
func cleanQuery(query string) string {
	q := strings.TrimSpace(query)
	q = strings.Trim(q, `"`)
	return strings.TrimSpace(q)
}

func rankSongs(query string, local []domain.Song, providerLists [][]domain.Song) []domain.Song {
	items := make([]scored[domain.Song], 0, len(local))
	pos := 0
	for _, s := range local {
		items = append(items, scored[domain.Song]{item: s, score: matcher.ScoreRecord(query, songRecord(s, false)), pos: pos})
		pos++
	}
	for _, list := range providerLists {
		for _, s := range list {
			items = append(items, scored[domain.Song]{item: s, score: matcher.ScoreRecord(query, songRecord(s, true)), pos: pos})
			pos++
		}
	}
	sortScored(items)
	out := make([]domain.Song, len(items))
	for i, it := range items {
		out[i] = it.item
	}
	return out
}

func songRecord(s domain.Song, external bool) matcher.Record {
	return matcher.Record{Fields: []string{s.Title, s.Artist, s.Album}, External: external}
}

func rankAlbums(query string, local []domain.Album, providerLists [][]domain.Album) []domain.Album {
	items := make([]scored[domain.Album], 0, len(local))
	pos := 0
	for _, a := range local {
		items = append(items, scored[domain.Album]{item: a, score: matcher.ScoreRecord(query, albumRecord(a, false)), pos: pos})
		pos++
	}
	for _, list := range providerLists {
		for _, a := range list {
			items = append(items, scored[domain.Album]{item: a, score: matcher.ScoreRecord(query, albumRecord(a, true)), pos: pos})
			pos++
		}
	}
	sortScored(items)
	out := make([]domain.Album, len(items))
	for i, it := range items {
		out[i] = it.item
	}
	return out
}

func albumRecord(a domain.Album, external bool) matcher.Record {
	return matcher.Record{Fields: []string{a.Title, a.Artist}, External: external}
}

// rankArtists scores and sorts artists, then deduplicates case-
// insensitively by name, preferring the local entry when both exist, per
// §4.10 step 5.
func rankArtists(query string, local []domain.Artist, providerLists [][]domain.Artist) []domain.Artist {
	items := make([]scored[domain.Artist], 0, len(local))
	pos := 0
	for _, a := range local {
		items = append(items, scored[domain.Artist]{item: a, score: matcher.ScoreRecord(query, matcher.Record{Fields: []string{a.Name}}), pos: pos})
		pos++
	}
	for _, list := range providerLists {
		for _, a := range list {
			items = append(items, scored[domain.Artist]{item: a, score: matcher.ScoreRecord(query, matcher.Record{Fields: []string{a.Name}, External: true}), pos: pos})
			pos++
		}
	}
	sortScored(items)

	seen := make(map[string]bool, len(items))
	out := make([]domain.Artist, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(it.item.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it.item)
	}
	return out
}

// mergePlaylists concatenates local and provider playlists without
// scoring; playlists are never deduplicated per §4.10 step 5 (only
// artists are).
func mergePlaylists(local []domain.ExternalPlaylist, providerLists [][]domain.ExternalPlaylist) []domain.ExternalPlaylist {
	out := append([]domain.ExternalPlaylist{}, local...)
	for _, list := range providerLists {
		out = append(out, list...)
	}
	return out
}

func sortScored[T any](items []scored[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].pos < items[j].pos
	})
}

func paginateSongs(items []domain.Song, offset, count int) []domain.Song {
	return sliceWindow(items, offset, count)
}

func paginateAlbums(items []domain.Album, offset, count int) []domain.Album {
	return sliceWindow(items, offset, count)
}

func paginateArtists(items []domain.Artist, offset, count int) []domain.Artist {
	return sliceWindow(items, offset, count)
}

func sliceWindow[T any](items []T, offset, count int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + count
	if count <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
