package subsonic

import (
	"path/filepath"
	"strings"

	"mediabridge/internal/domain"
	"mediabridge/internal/identifier"
)

// defaultSuffix/defaultContentType are used for an external song whose real
// container format is not yet known: it is only resolved once C8 downloads
// and inspects the stream, matching the teacher's squidwtf conversions
// (squid_metadata.go, squid_search.go), which likewise assume mp3/audio/mpeg
// for every not-yet-downloaded external track.
const (
	defaultSuffix      = "mp3"
	defaultContentType = "audio/mpeg"
)

// FromSong converts a core Song into its Subsonic wire representation.
func FromSong(s domain.Song) Song {
	id := s.ID
	albumID := s.AlbumID
	artistID := s.ArtistID
	if !s.IsLocal {
		id = identifier.Encode(s.ExternalProvider, identifier.KindSong, s.ExternalID)
		if albumID == "" && s.Album != "" {
			albumID = identifier.Encode(s.ExternalProvider, identifier.KindAlbum, s.ExternalID)
		}
		if artistID == "" && s.Artist != "" {
			artistID = identifier.Encode(s.ExternalProvider, identifier.KindArtist, s.ExternalID)
		}
	}

	suffix, contentType := defaultSuffix, defaultContentType
	if s.IsLocal && s.LocalPath != "" {
		if ext := strings.TrimPrefix(filepath.Ext(s.LocalPath), "."); ext != "" {
			suffix = ext
			contentType = contentTypeForSuffix(ext)
		}
	}

	return Song{
		ID:          id,
		Title:       s.Title,
		Album:       s.Album,
		AlbumID:     albumID,
		Artist:      s.Artist,
		ArtistID:    artistID,
		CoverArt:    id,
		Duration:    s.DurationSeconds,
		Track:       s.TrackNumber,
		DiscNumber:  s.DiscNumber,
		Year:        s.Year,
		Genre:       s.Genre,
		BPM:         s.BPM,
		Suffix:      suffix,
		ContentType: contentType,
	}
}

// FromAlbum converts a core Album into its Subsonic wire representation.
func FromAlbum(a domain.Album) Album {
	id := a.ID
	artistID := a.ArtistID
	if !a.IsLocal {
		id = identifier.Encode(a.ExternalProvider, identifier.KindAlbum, a.ExternalID)
		if artistID == "" && a.Artist != "" {
			artistID = identifier.Encode(a.ExternalProvider, identifier.KindArtist, a.ExternalID)
		}
	}
	return Album{
		ID:        id,
		Title:     a.Title,
		Name:      a.Title,
		Artist:    a.Artist,
		ArtistID:  artistID,
		CoverArt:  id,
		SongCount: a.SongCount,
		Year:      a.Year,
		Genre:     a.Genre,
	}
}

// FromArtist converts a core Artist into its Subsonic wire representation.
func FromArtist(a domain.Artist) Artist {
	id := a.ID
	if !a.IsLocal {
		id = identifier.Encode(a.ExternalProvider, identifier.KindArtist, a.ExternalID)
	}
	return Artist{
		ID:         id,
		Name:       a.Name,
		CoverArt:   id,
		AlbumCount: a.AlbumCount,
	}
}

// FromPlaylist converts a core ExternalPlaylist into its Subsonic wire
// representation. Local playlists are a backend concern and never reach
// this conversion (per the data model's playlist invariant).
func FromPlaylist(p domain.ExternalPlaylist) Playlist {
	id := identifier.Encode(p.Provider, identifier.KindPlaylist, p.ExternalID)
	return Playlist{
		ID:        id,
		Name:      p.Name,
		SongCount: p.TrackCount,
		Duration:  p.DurationSeconds,
		CoverArt:  id,
		Owner:     p.CuratorName,
		Public:    true,
	}
}

func contentTypeForSuffix(ext string) string {
	switch ext {
	case "flac":
		return "audio/flac"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "ogg":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	case "aac":
		return "audio/aac"
	default:
		return defaultContentType
	}
}
