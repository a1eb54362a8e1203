// Package provider defines the Provider Port (C5): the capability set every
// concrete streaming-provider integration implements, plus the shared
// search/lookup types the core consumes. Concrete implementations live in
// the tiera/tierb/tierc subpackages, following the convention (seen in the
// pack's ytmusic module) of declaring the interface next to its consumers
// rather than inside each implementation package.
package provider

import (
	"context"

	"mediabridge/internal/domain"
)

// SearchQuery is the normalized input to every search_* operation.
type SearchQuery struct {
	Query string
	Limit int
}

// Provider is the capability set every concrete provider must implement.
// Implementations must return empty slices (never errors) for "not found"
// and for kinds they do not support, and must populate at minimum id,
// title, artist, durationSeconds, and coverArtUrl on every returned Song.
type Provider interface {
	// Name identifies the provider for identifier encoding, e.g. "tidal".
	Name() string

	SearchSongs(ctx context.Context, q SearchQuery) ([]domain.Song, error)
	SearchAlbums(ctx context.Context, q SearchQuery) ([]domain.Album, error)
	SearchArtists(ctx context.Context, q SearchQuery) ([]domain.Artist, error)
	SearchPlaylists(ctx context.Context, q SearchQuery) ([]domain.ExternalPlaylist, error)

	GetSong(ctx context.Context, externalID string) (domain.Song, error)
	GetAlbum(ctx context.Context, externalID string) (domain.Album, error)
	GetAlbumTracks(ctx context.Context, externalID string) ([]domain.Song, error)
	GetArtist(ctx context.Context, externalID string) (domain.Artist, error)
	GetArtistAlbums(ctx context.Context, externalID string) ([]domain.Album, error)
	GetPlaylist(ctx context.Context, externalID string) (domain.ExternalPlaylist, error)
	GetPlaylistTracks(ctx context.Context, externalID string) ([]domain.Song, error)

	// ResolveDownload returns a short-lived stream descriptor for
	// externalID at the requested (best-effort) quality.
	ResolveDownload(ctx context.Context, externalID string, preferredQuality domain.Quality) (domain.ResolvedDownload, error)

	// IsAvailable reports whether the provider is currently usable
	// (credentials valid, endpoints reachable) without performing a full
	// operation.
	IsAvailable(ctx context.Context) bool
}
