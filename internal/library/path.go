// Package library implements the persistent mapping store (C2) and the
// deterministic on-disk path builder (C3).
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

const maxSegmentLen = 100

// Sanitize replaces filesystem-unsafe characters with "_", trims
// surrounding whitespace, and truncates to 100 characters per §4.3.
func Sanitize(segment string) string {
	s := unsafeChars.ReplaceAllString(segment, "_")
	s = strings.TrimSpace(s)
	if len(s) > maxSegmentLen {
		s = s[:maxSegmentLen]
	}
	return s
}

// BuildPath produces root/Artist/Album/NN - Title.ext, resolving filename
// collisions by appending " (n)" with the smallest available n. trackNumber
// <= 0 means "unknown": the "NN - " prefix is omitted.
func BuildPath(root, artist, album, title string, trackNumber int, ext string) string {
	dir := filepath.Join(root, Sanitize(artist), Sanitize(album))
	base := Sanitize(title)
	if trackNumber > 0 {
		base = fmt.Sprintf("%02d - %s", trackNumber, base)
	}
	candidate := filepath.Join(dir, base+"."+ext)
	if !exists(candidate) {
		return candidate
	}
	for n := 1; ; n++ {
		c := filepath.Join(dir, fmt.Sprintf("%s (%d).%s", base, n, ext))
		if !exists(c) {
			return c
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
