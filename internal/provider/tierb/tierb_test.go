package tierb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediabridge/internal/domain"
)

func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/user/auth", func(w http.ResponseWriter, r *http.Request) {
		cookie := r.Header.Get("Cookie")
		if !strings.Contains(cookie, "arl=good-arl") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(authResponse{APIToken: "api-tok", LicenseToken: "lic-tok"})
	})
	mux.HandleFunc("/gateway/track/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trackTokenResponse{TrackToken: "track-tok"})
	})
	return httptest.NewServer(mux)
}

func TestResolveDownloadHappyPath(t *testing.T) {
	gw := newGatewayServer(t)
	defer gw.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mediaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.LicenseToken != "lic-tok" {
			t.Errorf("expected license token lic-tok, got %q", req.LicenseToken)
		}
		if req.Media[0].Formats[0].Cipher != "BF_CBC_STRIPE" {
			t.Errorf("expected BF_CBC_STRIPE cipher tag, got %q", req.Media[0].Formats[0].Cipher)
		}
		resp := mediaResponse{Data: []mediaResponseEntry{{Media: []struct {
			Sources []struct {
				URL string `json:"url"`
			} `json:"sources"`
		}{{Sources: []struct {
			URL string `json:"url"`
		}{{URL: "https://cdn.example.com/stream.mp3"}}}}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer media.Close()

	p := New(Config{
		Name:        "deezer",
		GatewayURL:  gw.URL,
		MediaURL:    media.URL,
		Credentials: []Credential{{Name: "primary", ARL: "good-arl"}},
	})

	got, err := p.ResolveDownload(context.Background(), "track123", domain.QualityFLAC)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cipher != domain.CipherBlowfishCBCStripe {
		t.Fatalf("expected stripe cipher, got %q", got.Cipher)
	}
	if got.URL != "https://cdn.example.com/stream.mp3" {
		t.Fatalf("got url %q", got.URL)
	}
}

func TestCredentialFallbackOnAuthFailure(t *testing.T) {
	gw := newGatewayServer(t)
	defer gw.Close()

	p := New(Config{
		Name:       "deezer",
		GatewayURL: gw.URL,
		MediaURL:   gw.URL,
		Credentials: []Credential{
			{Name: "stale", ARL: "bad-arl"},
			{Name: "fresh", ARL: "good-arl"},
		},
	})

	tokens, err := p.ensureTokens(context.Background())
	if err != nil {
		t.Fatalf("expected fallback credential to succeed, got %v", err)
	}
	if tokens.apiToken != "api-tok" {
		t.Fatalf("got %q", tokens.apiToken)
	}
}

func TestAllCredentialsFailingIsFatal(t *testing.T) {
	gw := newGatewayServer(t)
	defer gw.Close()

	p := New(Config{
		Name:        "deezer",
		GatewayURL:  gw.URL,
		Credentials: []Credential{{Name: "only", ARL: "bad-arl"}},
	})

	if _, err := p.ensureTokens(context.Background()); err == nil {
		t.Fatal("expected error when no credential authenticates")
	}
}
