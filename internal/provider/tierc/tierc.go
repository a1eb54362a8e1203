// Package tierc implements the signed-request provider shape: short-lived
// request-signing material obtained once at startup from a distributed
// bundle endpoint, used to sign every metadata/download call; no stream
// decryption. Grounded on oshokin-zvuk-grabber/client.go's cookiejar +
// github.com/machinebox/graphql client construction for metadata queries,
// with the signing-material refresh modeled as a golang.org/x/oauth2
// TokenSource (the same idiom tier-B uses for its token pair) even though
// this is not a standard OAuth2 flow.
package tierc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/machinebox/graphql"
	"golang.org/x/oauth2"

	"mediabridge/internal/domain"
	"mediabridge/internal/httppool"
	"mediabridge/internal/provider"
)

// Config configures a tier-C provider.
type Config struct {
	Name       string
	BundleURL  string // distributed bundle endpoint issuing signing material
	GraphQLURL string
	MediaURL   string
}

// signingMaterial is the short-lived (app-id, secret) pair fetched from
// the distributed bundle at startup and refreshed on expiry.
type signingMaterial struct {
	AppID  string
	Secret string
}

type bundleResponse struct {
	AppID     string `json:"appId"`
	Secret    string `json:"secret"`
	ExpiresIn int    `json:"expiresIn"`
}

// tokenSource adapts bundle fetches to oauth2.TokenSource, storing the
// signing material inside the token's AccessToken/RefreshToken fields so
// expiry tracking reuses oauth2's machinery.
type tokenSource struct {
	pool *httppool.Pool
	url  string
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	req, err := http.NewRequest(http.MethodGet, ts.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ts.pool.Request(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("tierc: fetch bundle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tierc: bundle status %d", resp.StatusCode)
	}
	var out bundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tierc: decode bundle: %w", err)
	}
	if out.AppID == "" || out.Secret == "" {
		return nil, fmt.Errorf("tierc: bundle missing signing material")
	}
	expiry := time.Now().Add(1 * time.Hour)
	if out.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{AccessToken: out.AppID, RefreshToken: out.Secret, Expiry: expiry}, nil
}

// Provider is the tier-C signed-request provider.
type Provider struct {
	cfg    Config
	pool   *httppool.Pool
	gql    *graphql.Client
	tokens oauth2.TokenSource

	mu    sync.Mutex
	cache *signingMaterial
}

var _ provider.Provider = (*Provider)(nil)

// New builds a tier-C provider.
func New(cfg Config) *Provider {
	pool := httppool.New([]string{cfg.GraphQLURL})
	return &Provider{
		cfg:    cfg,
		pool:   pool,
		gql:    graphql.NewClient(cfg.GraphQLURL),
		tokens: oauth2.ReuseTokenSource(nil, &tokenSource{pool: httppool.New([]string{cfg.BundleURL}), url: cfg.BundleURL}),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

// material returns the current signing material, refreshing it from the
// bundle endpoint on expiry via the oauth2.ReuseTokenSource. Unlike tier-B,
// there is only one bundle endpoint configured — no alternate credential to
// fall back to — so a fetch failure here is simply returned; it surfaces
// as a warning one layer up, in the download coordinator's resolve retry.
func (p *Provider) material(ctx context.Context) (*signingMaterial, error) {
	tok, err := p.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("tierc: signing material: %w", err)
	}
	return &signingMaterial{AppID: tok.AccessToken, Secret: tok.RefreshToken}, nil
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	_, err := p.material(ctx)
	return err == nil
}

// sign computes the signature for a call: HMAC-SHA256 over
// "<appId>:<path>:<timestamp>" keyed by the signing secret.
func (p *Provider) sign(mat *signingMaterial, path string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(mat.Secret))
	mac.Write([]byte(fmt.Sprintf("%s:%s:%d", mat.AppID, path, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedRequest builds a signed GET request against reqURL, attaching
// app_id/ts/sign query parameters.
func (p *Provider) signedRequest(ctx context.Context, reqURL, path string) (*http.Request, error) {
	mat, err := p.material(ctx)
	if err != nil {
		return nil, err
	}
	ts := time.Now().Unix()
	parsed, err := url.Parse(reqURL)
	if err != nil {
		return nil, err
	}
	q := parsed.Query()
	q.Set("app_id", mat.AppID)
	q.Set("ts", strconv.FormatInt(ts, 10))
	q.Set("sign", p.sign(mat, path, ts))
	parsed.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
}

// signedGraphQLRequest attaches the same signature scheme as an HTTP
// header pair on a GraphQL request, mirroring zvuk-grabber's
// graphqlRequest.Header.Add("X-Auth-Token", ...) idiom.
func (p *Provider) signedGraphQLRequest(query string) (*graphql.Request, *signingMaterial, error) {
	mat, err := p.material(context.Background())
	if err != nil {
		return nil, nil, err
	}
	ts := time.Now().Unix()
	req := graphql.NewRequest(query)
	req.Header.Set("X-App-Id", mat.AppID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", p.sign(mat, "graphql", ts))
	return req, mat, nil
}

type manifestResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

var qualityParam = map[domain.Quality]string{
	domain.QualityFLAC:  "lossless",
	domain.QualityHiRes: "hi_res",
	domain.QualityHigh:  "high",
	domain.QualityLow:   "low",
}

// ResolveDownload signs a media-URL request; tier-C never encrypts
// stream bodies, so the returned descriptor always carries CipherNone.
func (p *Provider) ResolveDownload(ctx context.Context, externalID string, quality domain.Quality) (domain.ResolvedDownload, error) {
	qp, ok := qualityParam[quality]
	if !ok {
		qp = qualityParam[domain.QualityHigh]
	}
	reqURL := fmt.Sprintf("%s/track/%s/stream?quality=%s", p.cfg.MediaURL, url.PathEscape(externalID), qp)
	req, err := p.signedRequest(ctx, reqURL, "/track/"+externalID+"/stream")
	if err != nil {
		return domain.ResolvedDownload{}, err
	}
	resp, err := p.pool.Request(ctx, req)
	if err != nil {
		return domain.ResolvedDownload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.ResolvedDownload{}, fmt.Errorf("tierc: resolve status %d", resp.StatusCode)
	}
	var out manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ResolvedDownload{}, fmt.Errorf("tierc: decode manifest: %w", err)
	}
	if out.URL == "" {
		return domain.ResolvedDownload{}, fmt.Errorf("tierc: manifest has no url")
	}
	return domain.ResolvedDownload{URL: out.URL, MimeType: out.MimeType, Quality: qp, Cipher: domain.CipherNone}, nil
}

func (p *Provider) songID(id string) string     { return fmt.Sprintf("ext-%s-song-%s", p.cfg.Name, id) }
func (p *Provider) albumID(id string) string    { return fmt.Sprintf("ext-%s-album-%s", p.cfg.Name, id) }
func (p *Provider) artistID(id string) string   { return fmt.Sprintf("ext-%s-artist-%s", p.cfg.Name, id) }
func (p *Provider) playlistID(id string) string { return fmt.Sprintf("ext-%s-playlist-%s", p.cfg.Name, id) }

// runGraphQL executes a signed GraphQL query against the metadata
// endpoint, following zvuk-grabber's map[string]any + manual navigation
// pattern rather than generated typed bindings.
func (p *Provider) runGraphQL(ctx context.Context, query string, vars map[string]any, out any) error {
	req, _, err := p.signedGraphQLRequest(query)
	if err != nil {
		return err
	}
	for k, v := range vars {
		req.Var(k, v)
	}
	return p.gql.Run(ctx, req, out)
}

func (p *Provider) SearchSongs(ctx context.Context, q provider.SearchQuery) ([]domain.Song, error) {
	var resp struct {
		Search struct {
			Songs []struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Artist   string `json:"artist"`
				Album    string `json:"album"`
				AlbumID  string `json:"albumId"`
				Duration int    `json:"duration"`
				Cover    string `json:"cover"`
			} `json:"songs"`
		} `json:"search"`
	}
	query := `query search($q: String!, $limit: Int!) { search(query: $q) { songs(limit: $limit) { id title artist album albumId duration cover } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"q": q.Query, "limit": q.Limit}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Song, 0, len(resp.Search.Songs))
	for _, s := range resp.Search.Songs {
		out = append(out, domain.Song{
			ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
			AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
			ExternalProvider: p.cfg.Name, ExternalID: s.ID,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) SearchAlbums(ctx context.Context, q provider.SearchQuery) ([]domain.Album, error) {
	var resp struct {
		Search struct {
			Albums []struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Artist   string `json:"artist"`
				ArtistID string `json:"artistId"`
				Year     int    `json:"year"`
				Cover    string `json:"cover"`
			} `json:"albums"`
		} `json:"search"`
	}
	query := `query search($q: String!, $limit: Int!) { search(query: $q) { albums(limit: $limit) { id title artist artistId year cover } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"q": q.Query, "limit": q.Limit}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Album, 0, len(resp.Search.Albums))
	for _, a := range resp.Search.Albums {
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
	var resp struct {
		Search struct {
			Artists []struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Image string `json:"image"`
			} `json:"artists"`
		} `json:"search"`
	}
	query := `query search($q: String!, $limit: Int!) { search(query: $q) { artists(limit: $limit) { id name image } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"q": q.Query, "limit": q.Limit}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Artist, 0, len(resp.Search.Artists))
	for _, a := range resp.Search.Artists {
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
	var resp struct {
		Search struct {
			Playlists []struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				Description string `json:"description"`
				TrackCount  int    `json:"trackCount"`
				Cover       string `json:"cover"`
			} `json:"playlists"`
		} `json:"search"`
	}
	query := `query search($q: String!, $limit: Int!) { search(query: $q) { playlists(limit: $limit) { id name description trackCount cover } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"q": q.Query, "limit": q.Limit}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.ExternalPlaylist, 0, len(resp.Search.Playlists))
	for _, pl := range resp.Search.Playlists {
		out = append(out, domain.ExternalPlaylist{
			ID: p.playlistID(pl.ID), Name: pl.Name, Description: pl.Description,
			Provider: p.cfg.Name, ExternalID: pl.ID, TrackCount: pl.TrackCount, CoverURL: pl.Cover,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) GetSong(ctx context.Context, externalID string) (domain.Song, error) {
	var resp struct {
		Song *struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Artist   string `json:"artist"`
			Album    string `json:"album"`
			AlbumID  string `json:"albumId"`
			Duration int    `json:"duration"`
			Cover    string `json:"cover"`
		} `json:"getSong"`
	}
	query := `query getSong($id: ID!) { getSong(id: $id) { id title artist album albumId duration cover } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return domain.Song{}, err
	}
	if resp.Song == nil {
		return domain.Song{}, nil
	}
	s := resp.Song
	return domain.Song{
		ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
		AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
		ExternalProvider: p.cfg.Name, ExternalID: s.ID,
	}, nil
}

func (p *Provider) GetAlbum(ctx context.Context, externalID string) (domain.Album, error) {
	var resp struct {
		Album *struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Artist   string `json:"artist"`
			ArtistID string `json:"artistId"`
			Year     int    `json:"year"`
			Cover    string `json:"cover"`
		} `json:"getAlbum"`
	}
	query := `query getAlbum($id: ID!) { getAlbum(id: $id) { id title artist artistId year cover } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return domain.Album{}, err
	}
	if resp.Album == nil {
		return domain.Album{}, nil
	}
	a := resp.Album
	return domain.Album{
		ID: p.albumID(a.ID), Title: a.Title, Artist: a.Artist, ArtistID: p.artistID(a.ArtistID),
		Year: a.Year, CoverArtURL: a.Cover, ExternalProvider: p.cfg.Name, ExternalID: a.ID,
	}, nil
}

// GetAlbumTracks mirrors GetPlaylistTracks's nested-connection shape, for
// the album container instead of the playlist one.
func (p *Provider) GetAlbumTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	var resp struct {
		Album *struct {
			Tracks []struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Artist   string `json:"artist"`
				Album    string `json:"album"`
				AlbumID  string `json:"albumId"`
				Duration int    `json:"duration"`
				Cover    string `json:"cover"`
			} `json:"tracks"`
		} `json:"getAlbum"`
	}
	query := `query getAlbumTracks($id: ID!) { getAlbum(id: $id) { tracks { id title artist album albumId duration cover } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return nil, err
	}
	if resp.Album == nil {
		return nil, nil
	}
	out := make([]domain.Song, 0, len(resp.Album.Tracks))
	for _, s := range resp.Album.Tracks {
		out = append(out, domain.Song{
			ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
			AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
			ExternalProvider: p.cfg.Name, ExternalID: s.ID,
		})
	}
	return out, nil
}

func (p *Provider) GetArtist(ctx context.Context, externalID string) (domain.Artist, error) {
	var resp struct {
		Artist *struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Image string `json:"image"`
		} `json:"getArtist"`
	}
	query := `query getArtist($id: ID!) { getArtist(id: $id) { id name image } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return domain.Artist{}, err
	}
	if resp.Artist == nil {
		return domain.Artist{}, nil
	}
	a := resp.Artist
	return domain.Artist{
		ID: p.artistID(a.ID), Name: a.Name, ImageURL: a.Image,
		ExternalProvider: p.cfg.Name, ExternalID: a.ID,
	}, nil
}

// GetArtistAlbums mirrors zvuk-grabber's getArtistReleases query shape:
// a nested connection navigated via typed fields rather than raw maps,
// since we decode into a concrete struct.
func (p *Provider) GetArtistAlbums(ctx context.Context, externalID string) ([]domain.Album, error) {
	var resp struct {
		Artist *struct {
			Albums []struct {
				ID     string `json:"id"`
				Title  string `json:"title"`
				Artist string `json:"artist"`
				Year   int    `json:"year"`
				Cover  string `json:"cover"`
			} `json:"albums"`
		} `json:"getArtist"`
	}
	query := `query getArtistAlbums($id: ID!) { getArtist(id: $id) { albums { id title artist year cover } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return nil, err
	}
	if resp.Artist == nil {
		return nil, nil
	}
	out := make([]domain.Album, 0, len(resp.Artist.Albums))
	for _, a := range resp.Artist.Albums {
		out = append(out, domain.Album{
			ID: p.albumID(a.ID), Title: a.Title, Artist: a.Artist, Year: a.Year,
			CoverArtURL: a.Cover, ArtistID: p.artistID(externalID),
			ExternalProvider: p.cfg.Name, ExternalID: a.ID,
		})
	}
	return out, nil
}

func (p *Provider) GetPlaylist(ctx context.Context, externalID string) (domain.ExternalPlaylist, error) {
	var resp struct {
		Playlist *struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			TrackCount  int    `json:"trackCount"`
			Cover       string `json:"cover"`
		} `json:"getPlaylist"`
	}
	query := `query getPlaylist($id: ID!) { getPlaylist(id: $id) { id name description trackCount cover } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return domain.ExternalPlaylist{}, err
	}
	if resp.Playlist == nil {
		return domain.ExternalPlaylist{}, nil
	}
	pl := resp.Playlist
	return domain.ExternalPlaylist{
		ID: p.playlistID(pl.ID), Name: pl.Name, Description: pl.Description,
		Provider: p.cfg.Name, ExternalID: pl.ID, TrackCount: pl.TrackCount, CoverURL: pl.Cover,
	}, nil
}

func (p *Provider) GetPlaylistTracks(ctx context.Context, externalID string) ([]domain.Song, error) {
	var resp struct {
		Playlist *struct {
			Tracks []struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Artist   string `json:"artist"`
				Album    string `json:"album"`
				AlbumID  string `json:"albumId"`
				Duration int    `json:"duration"`
				Cover    string `json:"cover"`
			} `json:"tracks"`
		} `json:"getPlaylist"`
	}
	query := `query getPlaylistTracks($id: ID!) { getPlaylist(id: $id) { tracks { id title artist album albumId duration cover } } }`
	if err := p.runGraphQL(ctx, query, map[string]any{"id": externalID}, &resp); err != nil {
		return nil, err
	}
	if resp.Playlist == nil {
		return nil, nil
	}
	out := make([]domain.Song, 0, len(resp.Playlist.Tracks))
	for _, s := range resp.Playlist.Tracks {
		out = append(out, domain.Song{
			ID: p.songID(s.ID), Title: s.Title, Artist: s.Artist, Album: s.Album,
			AlbumID: p.albumID(s.AlbumID), DurationSeconds: s.Duration, CoverArtURL: s.Cover,
			ExternalProvider: p.cfg.Name, ExternalID: s.ID,
		})
	}
	return out, nil
}
