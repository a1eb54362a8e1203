// Package config implements the two-layer configuration load described in
// §6: a structured config.toml for nested per-provider credential blocks,
// overridden at every key by flat OS/`.env` environment variables.
//
// Grounded on the teacher's internal/config.Load (getEnv/getEnvInt
// fallback idiom via github.com/joho/godotenv), extended with
// github.com/BurntSushi/toml for the structured layer the teacher lacks,
// following desertthunder-ytx's use of BurntSushi/toml for nested config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"mediabridge/internal/domain"
)

// ExplicitFilter controls which tracks are admitted during search/download.
type ExplicitFilter string

const (
	ExplicitFilterAll         ExplicitFilter = "all"
	ExplicitFilterExplicitOnly ExplicitFilter = "explicit_only"
	ExplicitFilterCleanOnly   ExplicitFilter = "clean_only"
)

// StorageMode selects whether downloaded files are kept forever or swept
// by TTL.
type StorageMode string

const (
	StorageModePermanent StorageMode = "permanent"
	StorageModeCache     StorageMode = "cache"
)

// DownloadMode controls whether a single-track request also pulls the rest
// of its containing album.
type DownloadMode string

const (
	DownloadModeTrack DownloadMode = "track"
	DownloadModeAlbum DownloadMode = "album"
)

// ProviderCredentials holds the union of every tier's credential fields;
// only the fields relevant to the selected provider.name are populated.
type ProviderCredentials struct {
	// Tier-A (keyless): no fields.
	// Tier-B: cookie/ARL-authenticated.
	ARL        string `toml:"arl"`
	GatewayURL string `toml:"gateway_url"`
	// Tier-C: signed-request.
	BundleURL  string `toml:"bundle_url"`
	GraphQLURL string `toml:"graphql_url"`
	MediaURL   string `toml:"media_url"`
}

// tomlFile mirrors the optional structured config.toml document.
type tomlFile struct {
	Library struct {
		Root string `toml:"root"`
	} `toml:"library"`
	Provider struct {
		Name             string                         `toml:"name"`
		PreferredQuality string                         `toml:"preferred_quality"`
		Endpoints        []string                       `toml:"endpoints"`
		Credentials      map[string]ProviderCredentials `toml:"credentials"`
	} `toml:"provider"`
	Storage struct {
		Mode         string `toml:"mode"`
		CacheTTLHours int   `toml:"cache_ttl_hours"`
	} `toml:"storage"`
	ExplicitFilter          string `toml:"explicit_filter"`
	DownloadMode            string `toml:"download_mode"`
	ExternalPlaylistsEnabled bool  `toml:"external_playlists_enabled"`
	PlaylistsDir            string `toml:"playlists_dir"`
	Port                    string `toml:"port"`
	LocalBackendURL         string `toml:"local_backend_url"`
	RedisAddr               string `toml:"redis_addr"`
}

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	LibraryRoot string

	ProviderName             string
	PreferredQuality         domain.Quality
	ProviderEndpoints        []string
	ProviderCredentials      map[string]ProviderCredentials

	StorageMode       StorageMode
	CacheTTLHours     int
	ExplicitFilter    ExplicitFilter
	DownloadMode      DownloadMode
	PlaylistsEnabled  bool
	PlaylistsDir      string

	Port            string
	LocalBackendURL string
	RedisAddr       string
}

// Load reads config.toml (if present) then applies .env/OS environment
// overrides on top of it, matching the teacher's getEnv(key, fallback)
// idiom but with the TOML document as the fallback layer instead of a
// hardcoded default.
func Load(tomlPath string) (*Config, error) {
	_ = godotenv.Load()

	var doc tomlFile
	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			if _, err := toml.DecodeFile(tomlPath, &doc); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", tomlPath, err)
			}
		}
	}

	cfg := &Config{
		LibraryRoot:         getEnv("LIBRARY_ROOT", doc.Library.Root),
		ProviderName:        strings.ToLower(getEnv("PROVIDER_NAME", doc.Provider.Name)),
		PreferredQuality:    domain.Quality(getEnv("PROVIDER_PREFERRED_QUALITY", orDefault(doc.Provider.PreferredQuality, string(domain.QualityHigh)))),
		ProviderEndpoints:   orDefaultList(getEnvList("PROVIDER_ENDPOINTS"), doc.Provider.Endpoints),
		ProviderCredentials: doc.Provider.Credentials,
		StorageMode:         StorageMode(getEnv("STORAGE_MODE", orDefault(doc.Storage.Mode, string(StorageModePermanent)))),
		CacheTTLHours:       getEnvInt("STORAGE_CACHE_TTL_HOURS", orDefaultInt(doc.Storage.CacheTTLHours, 720)),
		ExplicitFilter:      ExplicitFilter(getEnv("EXPLICIT_FILTER", orDefault(doc.ExplicitFilter, string(ExplicitFilterAll)))),
		DownloadMode:        DownloadMode(getEnv("DOWNLOAD_MODE", orDefault(doc.DownloadMode, string(DownloadModeTrack)))),
		PlaylistsEnabled:    getEnvBool("EXTERNAL_PLAYLISTS_ENABLED", doc.ExternalPlaylistsEnabled),
		PlaylistsDir:        getEnv("PLAYLISTS_DIR", orDefault(doc.PlaylistsDir, "playlists")),
		Port:                getEnv("PORT", orDefault(doc.Port, "8080")),
		LocalBackendURL:     getEnv("LOCAL_BACKEND_URL", orDefault(doc.LocalBackendURL, "http://localhost:4533")),
		RedisAddr:           getEnv("REDIS_ADDR", orDefault(doc.RedisAddr, "localhost:6379")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate surfaces a hard configuration error per §6's exit-code rule:
// missing required credentials for the selected provider, or an
// unreachable library root.
func (c *Config) validate() error {
	if c.LibraryRoot == "" {
		return fmt.Errorf("config: %w: library.root is required", os.ErrInvalid)
	}
	if info, err := os.Stat(c.LibraryRoot); err != nil || !info.IsDir() {
		if err := os.MkdirAll(c.LibraryRoot, 0o755); err != nil {
			return fmt.Errorf("config: library root %q is not usable: %w", c.LibraryRoot, err)
		}
	}
	if c.ProviderName == "" {
		return fmt.Errorf("config: provider.name is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList reads a comma-separated env var into a slice, trimming
// surrounding whitespace from each element; an unset or empty var yields
// nil so orDefaultList falls through to the TOML layer.
func getEnvList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefaultList(v, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return v
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
