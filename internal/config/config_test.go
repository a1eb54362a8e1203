package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadFromTOML(t *testing.T) {
	clearEnv(t, "LIBRARY_ROOT", "PROVIDER_NAME", "STORAGE_MODE")

	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	root := filepath.Join(dir, "library")
	content := `
[library]
root = "` + root + `"

[provider]
name = "tiera"
preferred_quality = "FLAC"

[storage]
mode = "cache"
cache_ttl_hours = 48
`
	if err := os.WriteFile(tomlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LibraryRoot != root {
		t.Errorf("LibraryRoot = %q, want %q", cfg.LibraryRoot, root)
	}
	if cfg.ProviderName != "tiera" {
		t.Errorf("ProviderName = %q", cfg.ProviderName)
	}
	if cfg.StorageMode != StorageModeCache {
		t.Errorf("StorageMode = %q", cfg.StorageMode)
	}
	if cfg.CacheTTLHours != 48 {
		t.Errorf("CacheTTLHours = %d", cfg.CacheTTLHours)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	clearEnv(t, "LIBRARY_ROOT", "PROVIDER_NAME")

	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	root := filepath.Join(dir, "library")
	content := `
[library]
root = "` + root + `"
[provider]
name = "tiera"
`
	if err := os.WriteFile(tomlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("PROVIDER_NAME", "tierb")
	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ProviderName != "tierb" {
		t.Errorf("expected env override, got %q", cfg.ProviderName)
	}
}

func TestLoadMissingLibraryRootFails(t *testing.T) {
	clearEnv(t, "LIBRARY_ROOT", "PROVIDER_NAME")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing library.root")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "LIBRARY_ROOT", "PROVIDER_NAME", "STORAGE_MODE", "EXPLICIT_FILTER", "DOWNLOAD_MODE")
	dir := t.TempDir()
	os.Setenv("LIBRARY_ROOT", dir)
	os.Setenv("PROVIDER_NAME", "tiera")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StorageMode != StorageModePermanent {
		t.Errorf("default StorageMode = %q", cfg.StorageMode)
	}
	if cfg.ExplicitFilter != ExplicitFilterAll {
		t.Errorf("default ExplicitFilter = %q", cfg.ExplicitFilter)
	}
	if cfg.DownloadMode != DownloadModeTrack {
		t.Errorf("default DownloadMode = %q", cfg.DownloadMode)
	}
}
