// Command mediabridge wires together every component described in
// SPEC_FULL.md into a runnable Subsonic-dialect media-server proxy:
// configuration, the selected provider, the library index, the metadata
// tagger, the download coordinator, the stream server, the search merger,
// and the gin router, behind a graceful-shutdown HTTP server.
//
// Grounded directly on the teacher's cmd/jetstream/main.go: config.Load,
// service construction, gin.Default-shaped engine, http.Server with a
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"mediabridge/internal/cache"
	"mediabridge/internal/config"
	"mediabridge/internal/download"
	"mediabridge/internal/library"
	"mediabridge/internal/playlist"
	"mediabridge/internal/provider"
	"mediabridge/internal/provider/tiera"
	"mediabridge/internal/provider/tierb"
	"mediabridge/internal/provider/tierc"
	"mediabridge/internal/rediscache"
	"mediabridge/internal/router"
	"mediabridge/internal/search"
	"mediabridge/internal/stream"
	"mediabridge/internal/tagger"
)

func main() {
	tomlPath := os.Getenv("CONFIG_FILE")
	if tomlPath == "" {
		tomlPath = "config.toml"
	}

	cfg, err := config.Load(tomlPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	p, err := buildProvider(cfg)
	if err != nil {
		log.Fatalf("provider: %v", err)
	}
	providers := map[string]provider.Provider{p.Name(): p}

	index := library.NewIndex(cfg.LibraryRoot)
	tg := tagger.New(nil)
	coordinator := download.New(cfg.LibraryRoot, index, tg, download.WithPreferredQuality(cfg.PreferredQuality))
	streamServer := stream.New(index, coordinator)
	merger := search.New(nil, []provider.Provider{p})

	playlistsDir := cfg.PlaylistsDir
	if !filepath.IsAbs(playlistsDir) {
		playlistsDir = filepath.Join(cfg.LibraryRoot, playlistsDir)
	}
	playlists := playlist.New(playlistsDir)

	rt, err := router.New(router.Deps{
		LocalBackendURL:  cfg.LocalBackendURL,
		LibraryRoot:      cfg.LibraryRoot,
		Providers:        providers,
		DefaultProvider:  p,
		Index:            index,
		Coordinator:      coordinator,
		Stream:           streamServer,
		Merger:           merger,
		Playlists:        playlists,
		PlaylistsEnabled: cfg.PlaylistsEnabled,
		Cache:            rediscache.New(cfg.RedisAddr),
		Tagger:           tg,
	})
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	ctx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	if cfg.StorageMode == config.StorageModeCache {
		sweeper := cache.New(index, time.Duration(cfg.CacheTTLHours)*time.Hour, time.Hour)
		go sweeper.Run(ctx)
		slog.Info("cache-mode sweeper started", "ttlHours", cfg.CacheTTLHours)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: rt.Engine(),
	}

	go func() {
		slog.Info("starting mediabridge", "port", cfg.Port, "provider", p.Name(), "libraryRoot", cfg.LibraryRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down mediabridge...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cancelSweeper()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown:", err)
	}

	log.Println("mediabridge exited")
}

// buildProvider selects and constructs the one concrete provider named by
// cfg.ProviderName, per §6's "provider.name (one of the concrete
// providers)" configuration contract. A provider whose required
// credentials are absent is a hard startup error, per §6's exit-code rule.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.ProviderName {
	case "tiera":
		if len(cfg.ProviderEndpoints) == 0 {
			return nil, fmt.Errorf("tiera requires provider.endpoints")
		}
		return tiera.New(cfg.ProviderName, cfg.ProviderEndpoints), nil

	case "tierb":
		var creds []tierb.Credential
		var gatewayURL, mediaURL string
		for _, name := range sortedCredentialNames(cfg.ProviderCredentials) {
			c := cfg.ProviderCredentials[name]
			if c.ARL == "" {
				continue
			}
			creds = append(creds, tierb.Credential{Name: name, ARL: c.ARL})
			if gatewayURL == "" {
				gatewayURL = c.GatewayURL
			}
			if mediaURL == "" {
				mediaURL = c.MediaURL
			}
		}
		if len(creds) == 0 {
			return nil, fmt.Errorf("tierb requires at least one provider.credentials.* entry with arl set")
		}
		if gatewayURL == "" {
			return nil, fmt.Errorf("tierb requires gateway_url on at least one credential")
		}
		return tierb.New(tierb.Config{
			Name:        cfg.ProviderName,
			GatewayURL:  gatewayURL,
			MediaURL:    mediaURL,
			Credentials: creds,
		}), nil

	case "tierc":
		var bundleURL, graphqlURL, mediaURL string
		for _, name := range sortedCredentialNames(cfg.ProviderCredentials) {
			c := cfg.ProviderCredentials[name]
			if bundleURL == "" {
				bundleURL = c.BundleURL
			}
			if graphqlURL == "" {
				graphqlURL = c.GraphQLURL
			}
			if mediaURL == "" {
				mediaURL = c.MediaURL
			}
		}
		if bundleURL == "" || graphqlURL == "" {
			return nil, fmt.Errorf("tierc requires bundle_url and graphql_url on a provider.credentials.* entry")
		}
		return tierc.New(tierc.Config{
			Name:       cfg.ProviderName,
			BundleURL:  bundleURL,
			GraphQLURL: graphqlURL,
			MediaURL:   mediaURL,
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider.name %q (want tiera, tierb, or tierc)", cfg.ProviderName)
	}
}

func sortedCredentialNames(creds map[string]config.ProviderCredentials) []string {
	names := make([]string, 0, len(creds))
	for name := range creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
