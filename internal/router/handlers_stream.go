package router

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"mediabridge/internal/identifier"
	"mediabridge/internal/provider"
	"mediabridge/pkg/subsonic"
)

// streamTrack dispatches an external song id to the stream server (C9);
// a local id is never seen here since it always belongs to the backend.
func (rt *Router) streamTrack(c *gin.Context) {
	id := c.Query("id")
	decoded := identifier.Decode(id)
	if !decoded.IsExternal {
		if d, ok := rt.resolveVirtualSongID(c.Request.Context(), id); ok {
			decoded = d
		} else {
			rt.proxyHandle(c)
			return
		}
	}

	p, ok := rt.providerFor(decoded.Provider)
	if !ok {
		rt.sendError(c, subsonic.ErrDataNotFound, "unknown provider: "+decoded.Provider)
		return
	}

	song, err := rt.fetchSong(c.Request.Context(), p, decoded.ExternalID)
	if err != nil {
		rt.sendError(c, subsonic.ErrDataNotFound, err.Error())
		return
	}

	rt.stream.Serve(c.Writer, c.Request, p, song, decoded.ExternalID)
}

// star triggers a background C8 fetch for every track of a favorited
// external playlist, per the supplemented "background playlist
// favoriting" feature; anything else (song/album/artist star) passes
// through to the local backend unchanged.
func (rt *Router) star(c *gin.Context) {
	ids := c.QueryArray("id")
	handledPlaylist := false
	for _, id := range ids {
		decoded := identifier.Decode(id)
		if !decoded.IsExternal || decoded.Kind != identifier.KindPlaylist {
			continue
		}
		handledPlaylist = true
		p, ok := rt.providerFor(decoded.Provider)
		if !ok {
			continue
		}
		rt.favoritePlaylist(p, decoded.ExternalID)
	}
	if !handledPlaylist {
		rt.proxyHandle(c)
		return
	}
	rt.sendResponse(c, subsonic.OK())
}

// favoritePlaylist fetches the playlist's tracks and queues a fire-and-
// forget download per track; failures are logged, never surfaced, since
// the star call itself already returned success to the client.
func (rt *Router) favoritePlaylist(p provider.Provider, externalID string) {
	go func() {
		ctx := context.Background()
		tracks, err := p.GetPlaylistTracks(ctx, externalID)
		if err != nil {
			slog.Warn("router: failed to list favorited playlist tracks", "provider", p.Name(), "playlistId", externalID, "error", err)
			return
		}
		for _, t := range tracks {
			path, err := rt.coordinator.Fetch(ctx, p, t.ExternalID)
			if err != nil {
				slog.Warn("router: background playlist track fetch failed", "provider", p.Name(), "trackId", t.ExternalID, "error", err)
				continue
			}
			if rt.playlistsEnabled && rt.playlists != nil {
				rel, relErr := filepath.Rel(rt.libraryRoot, path)
				if relErr != nil {
					rel = path
				}
				if err := rt.playlists.Append(playlistNameFor(p.Name(), externalID), t.Artist, t.Title, t.DurationSeconds, rel); err != nil {
					slog.Warn("router: failed to append favorited track to playlist", "error", err)
				}
			}
		}
	}()
}

func playlistNameFor(providerName, externalID string) string {
	return providerName + "-" + externalID
}
