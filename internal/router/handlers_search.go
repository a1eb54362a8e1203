package router

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"mediabridge/internal/rediscache"
	"mediabridge/internal/search"
	"mediabridge/pkg/subsonic"
)

// fetchLocalResponse re-issues the incoming request against the local
// backend, forcing XML, and decodes its subsonic-response envelope. This
// mirrors the teacher's SearchHandler goroutine exactly: the local
// backend's own search result is merged with, not replaced by, this
// bridge's provider results.
func (rt *Router) fetchLocalResponse(c *gin.Context) *subsonic.Response {
	fURL, err := url.Parse(rt.target.String() + c.Request.RequestURI)
	if err != nil {
		return nil
	}
	q := fURL.Query()
	q.Set("f", "xml")
	fURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, fURL.String(), nil)
	if err != nil {
		return nil
	}
	req.Header = c.Request.Header.Clone()
	req.Header.Del("Accept-Encoding")

	resp, err := rt.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	out := &subsonic.Response{}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil
	}
	return out
}

func intParam(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (rt *Router) searchLimits(c *gin.Context) search.Limits {
	return search.Limits{
		SongCount:   intParam(c, "songCount", 20),
		SongOffset:  intParam(c, "songOffset", 0),
		AlbumCount:  intParam(c, "albumCount", 20),
		AlbumOffset: intParam(c, "albumOffset", 0),
		ArtistCount: intParam(c, "artistCount", 20),
		ArtistOffset: intParam(c, "artistOffset", 0),
	}
}

func (rt *Router) runSearch(c *gin.Context) (*subsonic.Response, search.Result) {
	query := c.Query("query")
	limits := rt.searchLimits(c)

	var local *subsonic.Response
	var merged search.Result
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		local = rt.fetchLocalResponse(c)
	}()
	go func() {
		defer wg.Done()
		cacheKey := "search:" + query
		if rt.cache.Get(c.Request.Context(), cacheKey, &merged) {
			return
		}
		res, err := rt.merger.Search(c.Request.Context(), query, limits)
		if err == nil {
			merged = res
			rt.cache.Set(c.Request.Context(), cacheKey, merged, rediscache.SearchTTL)
		}
	}()
	wg.Wait()

	if local == nil {
		local = &subsonic.Response{Status: subsonic.StatusOk, Version: subsonic.Version}
	}
	local.Status = subsonic.StatusOk
	local.Error = nil
	return local, merged
}

func (rt *Router) search(c *gin.Context) {
	local, merged := rt.runSearch(c)
	if local.SearchResult == nil {
		local.SearchResult = &subsonic.SearchResult{}
	}
	for _, s := range merged.Songs {
		if providerOf(s.ExternalProvider) {
			local.SearchResult.Match = append(local.SearchResult.Match, subsonic.FromSong(s))
		}
	}
	rt.sendResponse(c, *local)
}

func (rt *Router) search2(c *gin.Context) {
	local, merged := rt.runSearch(c)
	if local.SearchResult2 == nil {
		local.SearchResult2 = &subsonic.SearchResult2{}
	}
	for _, s := range merged.Songs {
		if providerOf(s.ExternalProvider) {
			local.SearchResult2.Song = append(local.SearchResult2.Song, subsonic.FromSong(s))
		}
	}
	for _, a := range merged.Albums {
		if providerOf(a.ExternalProvider) {
			local.SearchResult2.Album = append(local.SearchResult2.Album, subsonic.FromAlbum(a))
		}
	}
	for _, a := range merged.Artists {
		if providerOf(a.ExternalProvider) {
			local.SearchResult2.Artist = append(local.SearchResult2.Artist, subsonic.FromArtist(a))
		}
	}
	rt.sendResponse(c, *local)
}

func (rt *Router) search3(c *gin.Context) {
	local, merged := rt.runSearch(c)
	if local.SearchResult3 == nil {
		local.SearchResult3 = &subsonic.SearchResult3{}
	}
	for _, s := range merged.Songs {
		if providerOf(s.ExternalProvider) {
			local.SearchResult3.Song = append(local.SearchResult3.Song, subsonic.FromSong(s))
		}
	}
	for _, a := range merged.Albums {
		if providerOf(a.ExternalProvider) {
			local.SearchResult3.Album = append(local.SearchResult3.Album, subsonic.FromAlbum(a))
		}
	}
	for _, a := range merged.Artists {
		if providerOf(a.ExternalProvider) {
			local.SearchResult3.Artist = append(local.SearchResult3.Artist, subsonic.FromArtist(a))
		}
	}
	for _, p := range merged.Playlists {
		local.SearchResult3.Playlist = append(local.SearchResult3.Playlist, subsonic.FromPlaylist(p))
	}
	rt.sendResponse(c, *local)
}

// providerOf reports whether a merged result came from a provider rather
// than the local backend: local results are already present in the
// decoded local response and must not be duplicated by appending them
// again from the merger's own (local+provider) output.
func providerOf(externalProvider string) bool { return externalProvider != "" }
