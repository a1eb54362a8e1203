// Package cache implements the optional cache-mode sweeper described in
// spec §5 ("Optional global storage mode"): when storage.mode=cache, a
// ticker-driven goroutine periodically removes library files whose last
// access time exceeds a configured TTL and prunes their C2 mappings.
//
// Grounded on the teacher's MaintenanceScan (service/sync_service.go): a
// filepath.Walk-based periodic tree scan. That scan verifies file
// integrity via ffprobe and re-indexes into redis; this sweeper instead
// prunes by staleness against the C2 mapping store, since TTL eviction
// (not corruption detection) is this component's job.
//
// Access time is tracked as the file's mtime, refreshed on every C2 cache
// hit (internal/download's touch helper) via os.Chtimes(path, now, now):
// Go's os.FileInfo exposes only ModTime portably, and no example repo in
// the pack reaches for a raw syscall.Stat_t atime read, so this uses the
// portable stdlib signal rather than a Linux-only one.
package cache

import (
	"context"
	"log/slog"
	"os"
	"time"

	"mediabridge/internal/library"
)

// Sweeper periodically evicts library files that have not been accessed
// within ttl.
type Sweeper struct {
	index    *library.Index
	ttl      time.Duration
	interval time.Duration
}

// New builds a Sweeper that checks every interval for mappings whose file
// access time exceeds ttl.
func New(index *library.Index, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{index: index, ttl: ttl, interval: interval}
}

// Run blocks, sweeping once immediately and then every interval, until ctx
// is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweepOnce()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce prunes every mapping whose file no longer exists or has aged
// past ttl, returning the count removed.
func (s *Sweeper) sweepOnce() int {
	mappings, err := s.index.All()
	if err != nil {
		slog.Error("cache sweeper: failed to list mappings", "error", err)
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-s.ttl)
	for key, m := range mappings {
		info, err := os.Stat(m.LocalPath)
		if err != nil {
			if err := s.index.Forget(m.Provider, m.ExternalID); err != nil {
				slog.Error("cache sweeper: failed to forget missing mapping", "key", key, "error", err)
			}
			removed++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(m.LocalPath); err != nil {
			slog.Error("cache sweeper: failed to remove stale file", "path", m.LocalPath, "error", err)
			continue
		}
		if err := s.index.Forget(m.Provider, m.ExternalID); err != nil {
			slog.Error("cache sweeper: failed to forget evicted mapping", "key", key, "error", err)
		}
		removed++
	}
	if removed > 0 {
		slog.Info("cache sweeper: evicted stale entries", "count", removed)
	}
	return removed
}
