// Package tierb implements the cookie-authenticated provider shape: a
// long-lived ARL-style credential exchanged for an API token (gateway
// calls) and a license token (media URL issuance), with stream bodies
// blowfish-cbc "stripe" encrypted. Grounded on
// IAmAnonUser-DeeMusic-V2/download.go's ARL cookie + license-token +
// BF_CBC_STRIPE shape, and oshokin-zvuk-grabber/client.go's cookiejar-based
// client construction.
package tierb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"mediabridge/internal/domain"
	"mediabridge/internal/httppool"
	"mediabridge/internal/provider"
)

// Credential is one long-lived ARL-style cookie value. Providers fall back
// to the next credential in the list when the primary fails
// authentication, surfacing the switch as a warning only (§4.5).
type Credential struct {
	Name string
	ARL  string
}

// Config configures a tier-B provider.
type Config struct {
	Name        string
	GatewayURL  string
	MediaURL    string
	Credentials []Credential
}

// tokenPair is the API token + license token obtained per credential,
// shaped like an oauth2.Token so refresh/expiry can be modeled uniformly
// even though this is not a standard OAuth2 flow.
type tokenPair struct {
	apiToken     string
	licenseToken string
	token        *oauth2.Token
}

// Provider is the tier-B cookie-authenticated provider.
type Provider struct {
	cfg  Config
	pool *httppool.Pool

	mu          sync.Mutex
	credIndex   int
	client      *http.Client
	tokens      *tokenPair
}

var _ provider.Provider = (*Provider)(nil)

// New builds a tier-B provider. The gateway URL is the sole pool endpoint;
// tier-B has no endpoint rotation list, only credential fallback.
func New(cfg Config) *Provider {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}
	return &Provider{
		cfg:    cfg,
		pool:   httppool.New([]string{cfg.GatewayURL}, httppool.WithHTTPClient(client)),
		client: client,
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	_, err := p.ensureTokens(ctx)
	return err == nil
}

// currentCredential returns the credential currently selected for
// authentication.
func (p *Provider) currentCredential() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cfg.Credentials) == 0 {
		return Credential{}, false
	}
	return p.cfg.Credentials[p.credIndex], true
}

func (p *Provider) fallbackCredential() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.credIndex+1 >= len(p.cfg.Credentials) {
		return false
	}
	p.credIndex++
	p.tokens = nil
	return true
}

// ensureTokens authenticates with the current credential if no cached
// token pair exists, falling back to the next credential once on failure
// per §4.5.
func (p *Provider) ensureTokens(ctx context.Context) (*tokenPair, error) {
	p.mu.Lock()
	if p.tokens != nil {
		t := p.tokens
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	cred, ok := p.currentCredential()
	if !ok {
		return nil, fmt.Errorf("tierb: no credentials configured")
	}
	tokens, err := p.authenticate(ctx, cred)
	if err != nil {
		if p.fallbackCredential() {
			next, ok := p.currentCredential()
			if !ok {
				return nil, err
			}
			slog.Warn("tierb: primary credential failed, falling back", "credential", cred.Name, "fallback", next.Name, "error", err)
			tokens, err2 := p.authenticate(ctx, next)
			if err2 != nil {
				return nil, fmt.Errorf("tierb: fallback credential also failed: %w", err2)
			}
			p.mu.Lock()
			p.tokens = tokens
			p.mu.Unlock()
			return tokens, nil
		}
		return nil, fmt.Errorf("tierb: authentication failed: %w", err)
	}
	p.mu.Lock()
	p.tokens = tokens
	p.mu.Unlock()
	return tokens, nil
}

type authResponse struct {
	APIToken     string `json:"apiToken"`
	LicenseToken string `json:"licenseToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

func (p *Provider) authenticate(ctx context.Context, cred Credential) (*tokenPair, error) {
	reqURL := p.cfg.GatewayURL + "/gateway/user/auth"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", "arl="+cred.ARL)
	resp, err := p.pool.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tierb: auth status %d", resp.StatusCode)
	}
	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tierb: decode auth response: %w", err)
	}
	if out.APIToken == "" || out.LicenseToken == "" {
		return nil, fmt.Errorf("tierb: auth response missing tokens")
	}
	return &tokenPair{apiToken: out.APIToken, licenseToken: out.LicenseToken}, nil
}

type mediaFormat struct {
	Cipher string `json:"cipher"`
	Format string `json:"format"`
}

type mediaRequest struct {
	LicenseToken string `json:"license_token"`
	Media        []struct {
		Type    string        `json:"type"`
		Formats []mediaFormat `json:"formats"`
	} `json:"media"`
	TrackTokens []string `json:"track_tokens"`
}

type mediaResponseEntry struct {
	Media []struct {
		Sources []struct {
			URL string `json:"url"`
		} `json:"sources"`
	} `json:"media"`
}

type mediaResponse struct {
	Data []mediaResponseEntry `json:"data"`
}

var formatByQuality = map[domain.Quality]string{
	domain.QualityFLAC:  "FLAC",
	domain.QualityHiRes: "FLAC",
	domain.QualityHigh:  "MP3_320",
	domain.QualityLow:   "MP3_128",
}

// ResolveDownload obtains a track token via the gateway, then posts a
// media-URL request carrying the license token and BF_CBC_STRIPE cipher
// tag, mirroring DeeMusic-V2's getMediaURL shape.
func (p *Provider) ResolveDownload(ctx context.Context, externalID string, quality domain.Quality) (domain.ResolvedDownload, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return domain.ResolvedDownload{}, err
	}

	trackToken, err := p.getTrackToken(ctx, tokens, externalID)
	if err != nil {
		return domain.ResolvedDownload{}, err
	}

	formatCode, ok := formatByQuality[quality]
	if !ok {
		formatCode = formatByQuality[domain.QualityHigh]
	}

	reqBody := mediaRequest{LicenseToken: tokens.licenseToken, TrackTokens: []string{trackToken}}
	reqBody.Media = []struct {
		Type    string        `json:"type"`
		Formats []mediaFormat `json:"formats"`
	}{{Type: "FULL", Formats: []mediaFormat{{Cipher: "BF_CBC_STRIPE", Format: formatCode}}}}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.ResolvedDownload{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.MediaURL+"/v1/get_url", bytes.NewReader(payload))
	if err != nil {
		return domain.ResolvedDownload{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.pool.Request(ctx, req)
	if err != nil {
		return domain.ResolvedDownload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.ResolvedDownload{}, fmt.Errorf("tierb: media url status %d", resp.StatusCode)
	}
	var out mediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ResolvedDownload{}, fmt.Errorf("tierb: decode media response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Media) == 0 || len(out.Data[0].Media[0].Sources) == 0 {
		return domain.ResolvedDownload{}, fmt.Errorf("tierb: media response has no usable source")
	}
	return domain.ResolvedDownload{
		URL:           out.Data[0].Media[0].Sources[0].URL,
		MimeType:      mimeForFormat(formatCode),
		Quality:       formatCode,
		Cipher:        domain.CipherBlowfishCBCStripe,
		KeyDerivation: externalID,
	}, nil
}

func mimeForFormat(format string) string {
	if format == "FLAC" {
		return "audio/flac"
	}
	return "audio/mpeg"
}

type trackTokenResponse struct {
	TrackToken string `json:"trackToken"`
}

func (p *Provider) getTrackToken(ctx context.Context, tokens *tokenPair, externalID string) (string, error) {
	reqURL := fmt.Sprintf("%s/gateway/track/token?api_token=%s&trackId=%s", p.cfg.GatewayURL, url.QueryEscape(tokens.apiToken), url.QueryEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.pool.Request(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tierb: track token status %d", resp.StatusCode)
	}
	var out trackTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.TrackToken == "" {
		return "", fmt.Errorf("tierb: empty track token")
	}
	return out.TrackToken, nil
}

// --- search/metadata: thin gateway JSON calls, same shape as tiera's but
// over the authenticated gateway endpoint.

type gatewaySong struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	AlbumID  string `json:"albumId"`
	Duration int    `json:"duration"`
	Cover    string `json:"cover"`
}

func (p *Provider) songID(id string) string   { return fmt.Sprintf("ext-%s-song-%s", p.cfg.Name, id) }
func (p *Provider) albumID(id string) string  { return fmt.Sprintf("ext-%s-album-%s", p.cfg.Name, id) }
func (p *Provider) artistID(id string) string { return fmt.Sprintf("ext-%s-artist-%s", p.cfg.Name, id) }
func (p *Provider) playlistIDOf(id string) string {
	return fmt.Sprintf("ext-%s-playlist-%s", p.cfg.Name, id)
}

func (p *Provider) authedGet(ctx context.Context, tokens *tokenPair, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.GatewayURL+path+"&api_token="+url.QueryEscape(tokens.apiToken), nil)
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
		return fmt.Errorf("tierb: gateway status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Provider) SearchSongs(ctx context.Context, q provider.SearchQuery) ([]domain.Song, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Songs []gatewaySong `json:"songs"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/search?q="+url.QueryEscape(q.Query), &env); err != nil {
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
			ExternalProvider: p.cfg.Name,
			ExternalID:       s.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchAlbums(ctx context.Context, q provider.SearchQuery) ([]domain.Album, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Albums []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Artist   string `json:"artist"`
			ArtistID string `json:"artistId"`
			Year     int    `json:"year"`
			Cover    string `json:"cover"`
		} `json:"albums"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/search?q="+url.QueryEscape(q.Query), &env); err != nil {
		return nil, err
	}
	out := make([]domain.Album, 0, len(env.Albums))
	for _, a := range env.Albums {
		out = append(out, domain.Album{
			ID: p.albumID(a.ID), Title: a.Title, Artist: a.Artist, ArtistID: p.artistID(a.ArtistID),
			Year: a.Year, CoverArtURL: a.Cover, ExternalProvider: p.cfg.Name, ExternalID: a.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchArtists(ctx context.Context, q provider.SearchQuery) ([]domain.Artist, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Artists []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Image string `json:"image"`
		} `json:"artists"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/search?q="+url.QueryEscape(q.Query), &env); err != nil {
		return nil, err
	}
	out := make([]domain.Artist, 0, len(env.Artists))
	for _, a := range env.Artists {
		out = append(out, domain.Artist{
			ID: p.artistID(a.ID), Name: a.Name, ImageURL: a.Image,
			ExternalProvider: p.cfg.Name, ExternalID: a.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchPlaylists(ctx context.Context, q provider.SearchQuery) ([]domain.ExternalPlaylist, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Playlists []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			TrackCount  int    `json:"trackCount"`
			Cover       string `json:"cover"`
		} `json:"playlists"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/search?q="+url.QueryEscape(q.Query), &env); err != nil {
		return nil, err
	}
	out := make([]domain.ExternalPlaylist, 0, len(env.Playlists))
	for _, pl := range env.Playlists {
		out = append(out, domain.ExternalPlaylist{
			ID: p.playlistIDOf(pl.ID), Name: pl.Name, Description: pl.Description,
			Provider: p.cfg.Name, ExternalID: pl.ID, TrackCount: pl.TrackCount, CoverURL: pl.Cover,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) GetSong(ctx context.Context, externalID string) (domain.Song, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return domain.Song{}, err
	}
	var s gatewaySong
	if err := p.authedGet(ctx, tokens, "/gateway/song?id="+url.QueryEscape(externalID), &s); err != nil {
		return domain.Song{}, err
	}
	if s.ID == "" {
		return domain.Song{}, nil
	}
	return domain.Song{
		ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
		AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
		ExternalProvider: p.cfg.Name, ExternalID: s.ID,
	}, nil
}

func (p *Provider) GetAlbum(ctx context.Context, externalID string) (domain.Album, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return domain.Album{}, err
	}
	var a struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Artist   string `json:"artist"`
		ArtistID string `json:"artistId"`
		Year     int    `json:"year"`
		Cover    string `json:"cover"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/album?id="+url.QueryEscape(externalID), &a); err != nil {
		return domain.Album{}, err
	}
	if a.ID == "" {
		return domain.Album{}, nil
	}
	return domain.Album{
		ID: p.albumID(a.ID), Title: a.Title, Artist: a.Artist, ArtistID: p.artistID(a.ArtistID),
		Year: a.Year, CoverArtURL: a.Cover, ExternalProvider: p.cfg.Name, ExternalID: a.ID,
	}, nil
}

// GetAlbumTracks lists an album's songs via the same gateway shape as
// GetPlaylistTracks.
func (p *Provider) GetAlbumTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Songs []gatewaySong `json:"songs"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/album/tracks?id="+url.QueryEscape(externalID), &env); err != nil {
		return nil, err
	}
	out := make([]domain.Song, 0, len(env.Songs))
	for _, s := range env.Songs {
		out = append(out, domain.Song{
			ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
			AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
			ExternalProvider: p.cfg.Name, ExternalID: s.ID,
		})
	}
	return out, nil
}

func (p *Provider) GetArtist(ctx context.Context, externalID string) (domain.Artist, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return domain.Artist{}, err
	}
	var a struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Image string `json:"image"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/artist?id="+url.QueryEscape(externalID), &a); err != nil {
		return domain.Artist{}, err
	}
	if a.ID == "" {
		return domain.Artist{}, nil
	}
	return domain.Artist{
		ID: p.artistID(a.ID), Name: a.Name, ImageURL: a.Image,
		ExternalProvider: p.cfg.Name, ExternalID: a.ID,
	}, nil
}

func (p *Provider) GetArtistAlbums(ctx context.Context, externalID string) ([]domain.Album, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Albums []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Artist   string `json:"artist"`
			ArtistID string `json:"artistId"`
			Year     int    `json:"year"`
			Cover    string `json:"cover"`
		} `json:"albums"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/artist/albums?id="+url.QueryEscape(externalID), &env); err != nil {
		return nil, err
	}
	out := make([]domain.Album, 0, len(env.Albums))
	for _, a := range env.Albums {
		out = append(out, domain.Album{
			ID: p.albumID(a.ID), Title: a.Title, Artist: a.Artist, ArtistID: p.artistID(a.ArtistID),
			Year: a.Year, CoverArtURL: a.Cover, ExternalProvider: p.cfg.Name, ExternalID: a.ID,
		})
	}
	return out, nil
}

func (p *Provider) GetPlaylist(ctx context.Context, externalID string) (domain.ExternalPlaylist, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return domain.ExternalPlaylist{}, err
	}
	var pl struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		TrackCount  int    `json:"trackCount"`
		Cover       string `json:"cover"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/playlist?id="+url.QueryEscape(externalID), &pl); err != nil {
		return domain.ExternalPlaylist{}, err
	}
	if pl.ID == "" {
		return domain.ExternalPlaylist{}, nil
	}
	return domain.ExternalPlaylist{
		ID: p.playlistIDOf(pl.ID), Name: pl.Name, Description: pl.Description,
		Provider: p.cfg.Name, ExternalID: pl.ID, TrackCount: pl.TrackCount, CoverURL: pl.Cover,
	}, nil
}

func (p *Provider) GetPlaylistTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	tokens, err := p.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}
	var env struct {
		Songs []gatewaySong `json:"songs"`
	}
	if err := p.authedGet(ctx, tokens, "/gateway/playlist/tracks?id="+url.QueryEscape(externalID), &env); err != nil {
		return nil, err
	}
	out := make([]domain.Song, 0, len(env.Songs))
	for _, s := range env.Songs {
		out = append(out, domain.Song{
			ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
			AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
			ExternalProvider: p.cfg.Name, ExternalID: s.ID,
		})
	}
	return out, nil
}
