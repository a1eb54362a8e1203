// Package stream implements the Stream Server (C9): serves an external
// track's audio bytes to a client, with HTTP range support once the track
// is cached locally, and a non-seekable progressive fallback while a
// download is still in flight.
//
// Grounded on the teacher's Handler.Stream in handlers/stream.go: local-hit
// fast path via c.File (net/http.ServeContent under the hood), fallback to
// an upstream io.Copy loop with manual header forwarding. This rewrites the
// fallback path to join the coordinator's tailing stream instead of
// proxying a single upstream response directly, since the coordinator may
// already be mid-download for another waiter.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"mediabridge/internal/domain"
	"mediabridge/internal/download"
	"mediabridge/internal/library"
	"mediabridge/internal/provider"
)

var extensionMime = map[string]string{
	"flac": "audio/flac",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
}

// Server serves external-track audio, consulting the library index for a
// local-hit fast path and the download coordinator otherwise.
type Server struct {
	index       *library.Index
	coordinator *download.Coordinator
}

// New builds a Server backed by index (for the local-hit fast path) and
// coordinator (for the fetch-while-serving fallback).
func New(index *library.Index, coordinator *download.Coordinator) *Server {
	return &Server{index: index, coordinator: coordinator}
}

// Serve writes song's audio bytes to w, honoring Range/If-Range when the
// track is already cached locally. When it is not yet cached, it starts
// (or joins) a download via the coordinator and streams bytes
// progressively without range support, per §4.9.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, p provider.Provider, song domain.Song, externalID string) {
	ctx := r.Context()

	if localPath, err := s.index.Lookup(p.Name(), externalID); err == nil && localPath != "" {
		slog.Debug("stream: serving cached file", "provider", p.Name(), "externalId", externalID, "path", localPath)
		http.ServeFile(w, r, localPath)
		return
	}

	rc, err := s.coordinator.FetchStream(ctx, p, externalID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		http.Error(w, "failed to fetch stream: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer rc.Close()

	path := song.LocalPath
	if named, ok := rc.(interface{ Name() string }); ok {
		path = named.Name()
	}
	w.Header().Set("Content-Type", contentTypeFor(path))
	w.Header().Set("Cache-Control", "no-cache")
	// No Accept-Ranges header: the file is not yet seekable while the
	// download is in progress, per §4.9.
	w.WriteHeader(http.StatusOK)

	if err := copyWithCancellation(ctx, w, rc); err != nil {
		slog.Debug("stream: forwarding loop ended", "provider", p.Name(), "externalId", externalID, "error", err)
	}
}

// copyWithCancellation copies src to dst in fixed-size chunks, aborting
// promptly when ctx is cancelled (client disconnect) rather than blocking
// on a potentially slow in-progress download.
func copyWithCancellation(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if f, ok := dst.(http.Flusher); ok {
				f.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func contentTypeFor(path string) string {
	path = strings.TrimSuffix(path, ".part")
	ext := extFromPath(path)
	if ct, ok := extensionMime[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func extFromPath(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return ""
}
