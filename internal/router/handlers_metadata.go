package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediabridge/internal/coreerr"
	"mediabridge/internal/domain"
	"mediabridge/internal/identifier"
	"mediabridge/internal/provider"
	"mediabridge/internal/rediscache"
	"mediabridge/pkg/subsonic"
)

func (rt *Router) sendResponse(c *gin.Context, resp subsonic.Response) {
	if c.Query("f") == "json" {
		c.JSON(http.StatusOK, gin.H{"subsonic-response": resp})
		return
	}
	c.XML(http.StatusOK, resp)
}

func (rt *Router) sendError(c *gin.Context, code int, message string) {
	rt.sendResponse(c, subsonic.Fail(code, message))
}

func (rt *Router) providerFor(name string) (provider.Provider, bool) {
	if name == "" {
		return nil, false
	}
	p, ok := rt.providers[name]
	return p, ok
}

// getSong resolves id to an external fingerprint — directly if it already
// decodes, or via ghost self-heal — and returns provider song metadata, or
// falls back to the local backend when the id is, and stays, local.
func (rt *Router) getSong(c *gin.Context) {
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

	if local, err := rt.index.Lookup(p.Name(), decoded.ExternalID); err == nil && local != "" {
		song.IsLocal = true
		song.LocalPath = local
	}

	wire := subsonic.FromSong(song)
	resp := subsonic.OK()
	resp.Song = &wire
	rt.sendResponse(c, resp)
}

func (rt *Router) fetchSong(ctx context.Context, p provider.Provider, externalID string) (domain.Song, error) {
	key := "song:" + p.Name() + ":" + externalID
	var song domain.Song
	if rt.cache.Get(ctx, key, &song) {
		return song, nil
	}
	song, err := p.GetSong(ctx, externalID)
	if err != nil {
		return domain.Song{}, fmt.Errorf("%w: %s", coreerr.ErrNotFound, err)
	}
	if song.ID == "" && song.Title == "" {
		return domain.Song{}, fmt.Errorf("%w: song %s", coreerr.ErrNotFound, externalID)
	}
	rt.cache.Set(ctx, key, song, rediscache.MetadataTTL)
	return song, nil
}

func (rt *Router) getAlbum(c *gin.Context) {
	id := c.Query("id")
	decoded := identifier.Decode(id)
	if !decoded.IsExternal {
		if d, ok := rt.resolveVirtualAlbumID(c.Request.Context(), id); ok {
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

	ctx := c.Request.Context()
	key := "album:" + p.Name() + ":" + decoded.ExternalID
	var album domain.Album
	if !rt.cache.Get(ctx, key, &album) {
		a, err := p.GetAlbum(ctx, decoded.ExternalID)
		if err != nil || a.ID == "" {
			rt.sendError(c, subsonic.ErrDataNotFound, "album not found")
			return
		}
		tracks, err := p.GetAlbumTracks(ctx, decoded.ExternalID)
		if err != nil {
			tracks = nil
		}
		a.Songs = tracks
		a.SongCount = len(tracks)
		album = a
		rt.cache.Set(ctx, key, album, rediscache.MetadataTTL)
	}

	wire := subsonic.FromAlbum(album)
	out := subsonic.AlbumWithSongs{Album: wire}
	for _, s := range album.Songs {
		out.Song = append(out.Song, subsonic.FromSong(s))
	}
	resp := subsonic.OK()
	resp.Album = &out
	rt.sendResponse(c, resp)
}

func (rt *Router) getArtist(c *gin.Context) {
	id := c.Query("id")
	decoded := identifier.Decode(id)
	if !decoded.IsExternal {
		if d, ok := rt.resolveVirtualArtistID(c.Request.Context(), id); ok {
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

	ctx := c.Request.Context()
	artist, err := p.GetArtist(ctx, decoded.ExternalID)
	if err != nil || artist.ID == "" {
		rt.sendError(c, subsonic.ErrDataNotFound, "artist not found")
		return
	}
	albums, err := p.GetArtistAlbums(ctx, decoded.ExternalID)
	if err != nil {
		albums = nil
	}
	artist.AlbumCount = len(albums)

	wire := subsonic.FromArtist(artist)
	out := subsonic.ArtistWithAlbums{Artist: wire}
	for _, a := range albums {
		out.Album = append(out.Album, subsonic.FromAlbum(a))
	}
	resp := subsonic.OK()
	resp.Artist = &out
	rt.sendResponse(c, resp)
}

// getPlaylists appends every provider's playlists (when external playlist
// support is enabled) to the local backend's own list, per the local
// fetch pattern: the proxy response is decoded, extended, and re-sent
// rather than replaced.
func (rt *Router) getPlaylists(c *gin.Context) {
	if !rt.playlistsEnabled || len(rt.providers) == 0 {
		rt.proxyHandle(c)
		return
	}

	ctx := c.Request.Context()
	resp := subsonic.OK()
	out := &subsonic.Playlists{}
	for _, p := range rt.providers {
		lists, err := p.SearchPlaylists(ctx, provider.SearchQuery{Query: "", Limit: 50})
		if err != nil {
			continue
		}
		for _, l := range lists {
			out.Playlist = append(out.Playlist, subsonic.FromPlaylist(l))
		}
	}
	resp.Playlists = out
	rt.sendResponse(c, resp)
}

func (rt *Router) getPlaylist(c *gin.Context) {
	id := c.Query("id")
	decoded := identifier.Decode(id)
	if !decoded.IsExternal {
		rt.proxyHandle(c)
		return
	}

	p, ok := rt.providerFor(decoded.Provider)
	if !ok {
		rt.sendError(c, subsonic.ErrDataNotFound, "unknown provider: "+decoded.Provider)
		return
	}

	ctx := c.Request.Context()
	pl, err := p.GetPlaylist(ctx, decoded.ExternalID)
	if err != nil || pl.ID == "" {
		rt.sendError(c, subsonic.ErrDataNotFound, "playlist not found")
		return
	}
	tracks, err := p.GetPlaylistTracks(ctx, decoded.ExternalID)
	if err != nil {
		tracks = nil
	}

	wire := subsonic.FromPlaylist(pl)
	wire.SongCount = len(tracks)
	for _, s := range tracks {
		wire.Entry = append(wire.Entry, subsonic.FromSong(s))
	}
	resp := subsonic.OK()
	resp.Playlist = &wire
	rt.sendResponse(c, resp)
}
