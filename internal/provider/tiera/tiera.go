// Package tiera implements the keyless-proxy provider shape: no
// credentials, endpoint-list rotation on failure, a base64-wrapped JSON
// manifest carrying the real CDN URL, no stream decryption. Grounded
// directly on the teacher's SquidService (squid.go): GetStreamURL's
// base64-manifest decode and tryWithFallback endpoint rotation, here
// generalized behind the Provider port instead of being the only backend.
package tiera

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"mediabridge/internal/domain"
	"mediabridge/internal/httppool"
	"mediabridge/internal/provider"
)

// qualityMap translates the core's Quality enum to this provider's own
// terminology, per §4.5's "quality tag mapping" requirement.
var qualityMap = map[domain.Quality]string{
	domain.QualityFLAC:  "LOSSLESS",
	domain.QualityHiRes: "HI_RES_LOSSLESS",
	domain.QualityHigh:  "HIGH",
	domain.QualityLow:   "LOW",
}

// Provider is the tier-A keyless-proxy provider.
type Provider struct {
	name string
	pool *httppool.Pool
}

var _ provider.Provider = (*Provider)(nil)

// New builds a tier-A provider rotating across endpoints in order.
func New(name string, endpoints []string) *Provider {
	return &Provider{name: name, pool: httppool.New(endpoints)}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pool.CurrentEndpoint()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.pool.Request(ctx, req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type manifestEnvelope struct {
	Manifest string `json:"manifest"`
}

type manifestBody struct {
	URLs     []string `json:"urls"`
	MimeType string   `json:"mimeType"`
}

// ResolveDownload fetches a track manifest and decodes its base64 payload,
// per the teacher's GetStreamURL.
func (p *Provider) ResolveDownload(ctx context.Context, externalID string, quality domain.Quality) (domain.ResolvedDownload, error) {
	qualityTag, ok := qualityMap[quality]
	if !ok {
		qualityTag = qualityMap[domain.QualityHigh]
	}

	var result domain.ResolvedDownload
	err := p.pool.WithFallback(func(base string) error {
		reqURL := fmt.Sprintf("%s/track/?id=%s&quality=%s", base, url.QueryEscape(externalID), qualityTag)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: unexpected status %d", resp.StatusCode)
		}
		var env manifestEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("tiera: decode envelope: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(env.Manifest)
		if err != nil {
			return fmt.Errorf("tiera: decode manifest base64: %w", err)
		}
		var body manifestBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("tiera: unmarshal manifest: %w", err)
		}
		if len(body.URLs) == 0 {
			return fmt.Errorf("tiera: manifest has no urls")
		}
		result = domain.ResolvedDownload{
			URL:      body.URLs[0],
			MimeType: body.MimeType,
			Quality:  qualityTag,
			Cipher:   domain.CipherNone,
		}
		return nil
	})
	if err != nil {
		return domain.ResolvedDownload{}, err
	}
	return result, nil
}

type searchEnvelope struct {
	Songs     []songEntry     `json:"songs"`
	Albums    []albumEntry    `json:"albums"`
	Artists   []artistEntry   `json:"artists"`
	Playlists []playlistEntry `json:"playlists"`
}

type songEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	AlbumID  string `json:"albumId"`
	Album    string `json:"album"`
	Duration int    `json:"duration"`
	Cover    string `json:"cover"`
}

type albumEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	ArtistID string `json:"artistId"`
	Year     int    `json:"year"`
	Cover    string `json:"cover"`
}

type artistEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type playlistEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TrackCount  int    `json:"trackCount"`
	Cover       string `json:"cover"`
}

func (p *Provider) search(ctx context.Context, q string, limit int) (searchEnvelope, error) {
	var out searchEnvelope
	err := p.pool.WithFallback(func(base string) error {
		reqURL := fmt.Sprintf("%s/search/?q=%s&limit=%d", base, url.QueryEscape(q), limit)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: search status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	return out, err
}

func (p *Provider) songID(id string) string     { return fmt.Sprintf("ext-%s-song-%s", p.name, id) }
func (p *Provider) albumID(id string) string    { return fmt.Sprintf("ext-%s-album-%s", p.name, id) }
func (p *Provider) artistID(id string) string   { return fmt.Sprintf("ext-%s-artist-%s", p.name, id) }
func (p *Provider) playlistID(id string) string { return fmt.Sprintf("ext-%s-playlist-%s", p.name, id) }

func (p *Provider) SearchSongs(ctx context.Context, q provider.SearchQuery) ([]domain.Song, error) {
	env, err := p.search(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Song, 0, len(env.Songs))
	for _, s := range env.Songs {
		out = append(out, domain.Song{
			ID:               p.songID(s.ID),
			Title:            s.Title,
			Artist:           s.Artist,
			Album:            s.Album,
			AlbumID:          p.albumID(s.AlbumID),
			DurationSeconds:  s.Duration,
			CoverArtURL:      s.Cover,
			ExternalProvider: p.name,
			ExternalID:       s.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchAlbums(ctx context.Context, q provider.SearchQuery) ([]domain.Album, error) {
	env, err := p.search(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Album, 0, len(env.Albums))
	for _, a := range env.Albums {
		out = append(out, domain.Album{
			ID:               p.albumID(a.ID),
			Title:            a.Title,
			Artist:           a.Artist,
			ArtistID:         p.artistID(a.ArtistID),
			Year:             a.Year,
			CoverArtURL:      a.Cover,
			ExternalProvider: p.name,
			ExternalID:       a.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchArtists(ctx context.Context, q provider.SearchQuery) ([]domain.Artist, error) {
	env, err := p.search(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Artist, 0, len(env.Artists))
	for _, a := range env.Artists {
		out = append(out, domain.Artist{
			ID:               p.artistID(a.ID),
			Name:             a.Name,
			ImageURL:         a.Image,
			ExternalProvider: p.name,
			ExternalID:       a.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchPlaylists(ctx context.Context, q provider.SearchQuery) ([]domain.ExternalPlaylist, error) {
	env, err := p.search(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExternalPlaylist, 0, len(env.Playlists))
	for _, pl := range env.Playlists {
		out = append(out, domain.ExternalPlaylist{
			ID:          p.playlistID(pl.ID),
			Name:        pl.Name,
			Description: pl.Description,
			Provider:    p.name,
			ExternalID:  pl.ID,
			TrackCount:  pl.TrackCount,
			CoverURL:    pl.Cover,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) GetSong(ctx context.Context, externalID string) (domain.Song, error) {
	var out songEntry
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info/?id=%s&type=song", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: getSong status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return domain.Song{}, err
	}
	if out.ID == "" {
		return domain.Song{}, nil
	}
	return domain.Song{
		ID:               p.songID(out.ID),
		Title:            out.Title,
		Artist:           out.Artist,
		Album:            out.Album,
		AlbumID:          p.albumID(out.AlbumID),
		DurationSeconds:  out.Duration,
		CoverArtURL:      out.Cover,
		ExternalProvider: p.name,
		ExternalID:       out.ID,
	}, nil
}

func (p *Provider) GetAlbum(ctx context.Context, externalID string) (domain.Album, error) {
	var out albumEntry
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info/?id=%s&type=album", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: getAlbum status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return domain.Album{}, err
	}
	if out.ID == "" {
		return domain.Album{}, nil
	}
	return domain.Album{
		ID:               p.albumID(out.ID),
		Title:            out.Title,
		Artist:           out.Artist,
		ArtistID:         p.artistID(out.ArtistID),
		Year:             out.Year,
		CoverArtURL:      out.Cover,
		ExternalProvider: p.name,
		ExternalID:       out.ID,
	}, nil
}

// GetAlbumTracks lists an album's songs, mirroring GetPlaylistTracks's
// shape since both return a flat song list for a container id.
func (p *Provider) GetAlbumTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	var env struct {
		Songs []songEntry `json:"songs"`
	}
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/album/tracks/?id=%s", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: albumTracks status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&env)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Song, 0, len(env.Songs))
	for _, s := range env.Songs {
		out = append(out, domain.Song{
			ID:               p.songID(s.ID),
			Title:            s.Title,
			Artist:           s.Artist,
			Album:            s.Album,
			AlbumID:          p.albumID(s.AlbumID),
			DurationSeconds:  s.Duration,
			CoverArtURL:      s.Cover,
			ExternalProvider: p.name,
			ExternalID:       s.ID,
		})
	}
	return out, nil
}

func (p *Provider) GetArtist(ctx context.Context, externalID string) (domain.Artist, error) {
	var out artistEntry
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info/?id=%s&type=artist", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: getArtist status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return domain.Artist{}, err
	}
	if out.ID == "" {
		return domain.Artist{}, nil
	}
	return domain.Artist{
		ID:               p.artistID(out.ID),
		Name:             out.Name,
		ImageURL:         out.Image,
		ExternalProvider: p.name,
		ExternalID:       out.ID,
	}, nil
}

func (p *Provider) GetArtistAlbums(ctx context.Context, externalID string) ([]domain.Album, error) {
	var env struct {
		Albums []albumEntry `json:"albums"`
	}
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/artist/albums/?id=%s", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: artistAlbums status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&env)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Album, 0, len(env.Albums))
	for _, a := range env.Albums {
		out = append(out, domain.Album{
			ID:               p.albumID(a.ID),
			Title:            a.Title,
			Artist:           a.Artist,
			ArtistID:         p.artistID(a.ArtistID),
			Year:             a.Year,
			CoverArtURL:      a.Cover,
			ExternalProvider: p.name,
			ExternalID:       a.ID,
		})
	}
	return out, nil
}

func (p *Provider) GetPlaylist(ctx context.Context, externalID string) (domain.ExternalPlaylist, error) {
	var out playlistEntry
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info/?id=%s&type=playlist", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: getPlaylist status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return domain.ExternalPlaylist{}, err
	}
	if out.ID == "" {
		return domain.ExternalPlaylist{}, nil
	}
	return domain.ExternalPlaylist{
		ID:          p.playlistID(out.ID),
		Name:        out.Name,
		Description: out.Description,
		Provider:    p.name,
		ExternalID:  out.ID,
		TrackCount:  out.TrackCount,
		CoverURL:    out.Cover,
	}, nil
}

func (p *Provider) GetPlaylistTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	var env struct {
		Songs []songEntry `json:"songs"`
	}
	err := p.pool.WithFallback(func(base string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/playlist/tracks/?id=%s", base, url.QueryEscape(externalID)), nil)
		if err != nil {
			return err
		}
		resp, err := p.pool.Request(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("tiera: playlistTracks status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&env)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Song, 0, len(env.Songs))
	for _, s := range env.Songs {
		out = append(out, domain.Song{
			ID:               p.songID(s.ID),
			Title:            s.Title,
			Artist:           s.Artist,
			Album:            s.Album,
			AlbumID:          p.albumID(s.AlbumID),
			DurationSeconds:  s.Duration,
			CoverArtURL:      s.Cover,
			ExternalProvider: p.name,
			ExternalID:       s.ID,
		})
	}
	return out, nil
}
