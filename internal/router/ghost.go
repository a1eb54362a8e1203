package router

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"

	"mediabridge/internal/identifier"
)

// externalIDFrame is the ID3 user-defined-text description this bridge
// writes into every downloaded file's tags at C8 tag time, and reads back
// here to self-heal a local backend's id to its external fingerprint.
// Grounded on the teacher's ResolveVirtualID, generalized from its
// single-provider "TIDAL_ID" description to a provider-agnostic one since
// this bridge supports more than one concrete provider.
const externalIDFrame = "EXTERNAL_ID"

var bracketID = regexp.MustCompile(`\[(ext-[^\]]+)\]`)

// ghostSizeThreshold matches the teacher's dummy-file heuristic: a
// placeholder file the local backend created to hold a spot for an
// external track is small, real audio at this bridge's lowest quality is
// not.
const ghostSizeThreshold = 1024 * 1024

type localBrief struct {
	XMLName xml.Name `xml:"subsonic-response"`
	Song    struct {
		Path   string `xml:"path,attr"`
		Artist string `xml:"artist,attr"`
		Title  string `xml:"title,attr"`
	} `xml:"song"`
	Album struct {
		Title  string `xml:"title,attr"`
		Artist string `xml:"artist,attr"`
		Song   []struct {
			Path string `xml:"path,attr"`
		} `xml:"song"`
	} `xml:"album"`
	Artist struct {
		Name string `xml:"name,attr"`
	} `xml:"artist"`
}

// fetchLocalBrief queries the local backend's own get<Kind>.view endpoint
// for the minimal metadata (path, artist, title/name) needed to attempt
// self-healing, matching the teacher's ResolveVirtualID request shape.
func (rt *Router) fetchLocalBrief(ctx context.Context, endpoint, id string) (localBrief, error) {
	u := rt.target.String() + "/rest/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return localBrief{}, err
	}
	q := req.URL.Query()
	q.Set("id", id)
	q.Set("f", "xml")
	req.URL.RawQuery = q.Encode()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return localBrief{}, err
	}
	defer resp.Body.Close()

	var brief localBrief
	if err := xml.NewDecoder(resp.Body).Decode(&brief); err != nil {
		return localBrief{}, err
	}
	return brief, nil
}

// resolveVirtualSongID attempts to find an external fingerprint for a
// local-backend song id that does not itself decode as external, per the
// sidecar ghost/ID resolution feature: path bracket first (cheapest), then
// an embedded ID3 tag, then a fuzzy search fallback.
func (rt *Router) resolveVirtualSongID(ctx context.Context, localID string) (identifier.Decoded, bool) {
	brief, err := rt.fetchLocalBrief(ctx, "getSong.view", localID)
	if err != nil || brief.Song.Path == "" {
		return identifier.Decoded{}, false
	}

	if match := bracketID.FindStringSubmatch(brief.Song.Path); len(match) > 1 {
		if d := identifier.Decode(match[1]); d.IsExternal {
			slog.Info("router: resolved ghost song from path", "localId", localID, "resolved", d.Original)
			return d, true
		}
	}

	fullPath := brief.Song.Path
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(rt.libraryRoot, brief.Song.Path)
	}
	if d, ok := resolveFromID3(fullPath); ok {
		slog.Info("router: resolved ghost song from tag", "localId", localID, "resolved", d.Original)
		return d, true
	}

	return rt.fuzzyResolveSong(ctx, brief.Song.Artist, brief.Song.Title)
}

// resolveVirtualAlbumID mirrors resolveVirtualSongID for album ids: the
// first track's path is checked for an embedded tag (Subsonic's getAlbum
// has no path of its own), then a fuzzy search fallback by artist/title.
func (rt *Router) resolveVirtualAlbumID(ctx context.Context, localID string) (identifier.Decoded, bool) {
	brief, err := rt.fetchLocalBrief(ctx, "getAlbum.view", localID)
	if err != nil || brief.Album.Title == "" {
		return identifier.Decoded{}, false
	}

	for _, s := range brief.Album.Song {
		fullPath := s.Path
		if !filepath.IsAbs(fullPath) {
			fullPath = filepath.Join(rt.libraryRoot, s.Path)
		}
		if d, ok := resolveFromID3(fullPath); ok && d.Kind == identifier.KindAlbum {
			return d, true
		}
	}

	return rt.fuzzyResolveAlbum(ctx, brief.Album.Artist, brief.Album.Title)
}

// resolveVirtualArtistID mirrors the above for artist ids; artists have no
// path to inspect, so resolution is fuzzy-search only.
func (rt *Router) resolveVirtualArtistID(ctx context.Context, localID string) (identifier.Decoded, bool) {
	brief, err := rt.fetchLocalBrief(ctx, "getArtist.view", localID)
	if err != nil || brief.Artist.Name == "" {
		return identifier.Decoded{}, false
	}
	return rt.fuzzyResolveArtist(ctx, brief.Artist.Name)
}

// resolveFromID3 reads path's EXTERNAL_ID user-text frame, if any, and
// reports a decoded external id on success. A missing or oversized file is
// not an error here: it simply means no tag-based resolution is possible.
func resolveFromID3(path string) (identifier.Decoded, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > ghostSizeThreshold {
		return identifier.Decoded{}, false
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return identifier.Decoded{}, false
	}
	defer tag.Close()

	for _, f := range tag.GetFrames(tag.CommonID("User defined text information")) {
		udtf, ok := f.(id3v2.UserDefinedTextFrame)
		if ok && udtf.Description == externalIDFrame {
			if d := identifier.Decode(udtf.Value); d.IsExternal {
				return d, true
			}
		}
	}
	return identifier.Decoded{}, false
}

func (rt *Router) fuzzyResolveSong(ctx context.Context, artist, title string) (identifier.Decoded, bool) {
	if artist == "" && title == "" {
		return identifier.Decoded{}, false
	}
	res, err := rt.merger.Search(ctx, strings.TrimSpace(fmt.Sprintf("%s %s", artist, title)), defaultLimits())
	if err != nil || len(res.Songs) == 0 {
		return identifier.Decoded{}, false
	}
	for _, s := range res.Songs {
		if !s.IsLocal {
			return identifier.Decoded{IsExternal: true, Provider: s.ExternalProvider, Kind: identifier.KindSong, ExternalID: s.ExternalID, Original: identifier.Encode(s.ExternalProvider, identifier.KindSong, s.ExternalID)}, true
		}
	}
	return identifier.Decoded{}, false
}

func (rt *Router) fuzzyResolveAlbum(ctx context.Context, artist, title string) (identifier.Decoded, bool) {
	res, err := rt.merger.Search(ctx, strings.TrimSpace(fmt.Sprintf("%s %s", artist, title)), defaultLimits())
	if err != nil || len(res.Albums) == 0 {
		return identifier.Decoded{}, false
	}
	for _, a := range res.Albums {
		if !a.IsLocal {
			return identifier.Decoded{IsExternal: true, Provider: a.ExternalProvider, Kind: identifier.KindAlbum, ExternalID: a.ExternalID, Original: identifier.Encode(a.ExternalProvider, identifier.KindAlbum, a.ExternalID)}, true
		}
	}
	return identifier.Decoded{}, false
}

func (rt *Router) fuzzyResolveArtist(ctx context.Context, name string) (identifier.Decoded, bool) {
	res, err := rt.merger.Search(ctx, name, defaultLimits())
	if err != nil || len(res.Artists) == 0 {
		return identifier.Decoded{}, false
	}
	for _, a := range res.Artists {
		if !a.IsLocal {
			return identifier.Decoded{IsExternal: true, Provider: a.ExternalProvider, Kind: identifier.KindArtist, ExternalID: a.ExternalID, Original: identifier.Encode(a.ExternalProvider, identifier.KindArtist, a.ExternalID)}, true
		}
	}
	return identifier.Decoded{}, false
}
