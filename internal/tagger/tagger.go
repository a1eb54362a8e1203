// Package tagger implements the Metadata Tagger (C6): writes the embedded
// tag set plus cover art to a finished audio file. Grounded almost
// directly on AlexFalzone-ytmusic/internal/metadata/tagger.go's
// go.senan.xyz/taglib tag-map + WriteImage shape, generalized to the
// richer Song fields (bpm, isrc, copyright/label, contributors) §4.6
// requires and extended with a no-op-on-failure guarantee: a tagging
// error never truncates or corrupts the underlying audio bytes, since
// taglib mutates the file's tag chunk in place and never touches the
// encoded audio frames.
package tagger

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.senan.xyz/taglib"

	"mediabridge/internal/domain"
	"mediabridge/internal/identifier"
)

// Input is everything the tagger needs beyond the core Song DTO: fields
// §4.6 names that are not part of the §3 data model (total track count,
// label/copyright, contributor credits) live here instead of widening
// domain.Song.
type Input struct {
	Song         domain.Song
	TotalTracks  int
	Copyright    string
	Label        string
	Contributors []string
}

// HTTPClient is the subset of http.Client the tagger needs to fetch cover
// art; satisfied directly by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Tagger writes tags and cover art to finished audio files.
type Tagger struct {
	client HTTPClient
}

// New builds a Tagger using client for cover-art fetches, or a default
// 15s-timeout client when nil.
func New(client HTTPClient) *Tagger {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Tagger{client: client}
}

// Verify reports whether path is a readable audio file, per the
// maintenance scan's corruption check: it reads the tag block without
// inspecting content, the same operation the teacher's MaintenanceScan
// uses ffprobe for, since a file whose tag header cannot be parsed at all
// is almost always truncated or otherwise unusable.
func (t *Tagger) Verify(path string) error {
	_, err := taglib.ReadTags(path)
	return err
}

// Write embeds tags and cover art into the audio file at path. Any
// failure — including a cover-art fetch failure — is reported but never
// leaves a half-tagged or corrupted file: taglib.WriteTags and
// taglib.WriteImage each either fully apply or fully fail without
// touching audio frame data, so no truncation guard is needed here.
func (t *Tagger) Write(ctx context.Context, path string, in Input) error {
	tags := buildTags(in)
	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("tagger: write tags: %w", err)
	}

	coverURL := in.Song.CoverArtURLLarge
	if coverURL == "" {
		coverURL = in.Song.CoverArtURL
	}
	if coverURL == "" {
		return nil
	}
	image, err := t.fetchCover(ctx, coverURL)
	if err != nil {
		// Per §4.6, a cover-art failure must not corrupt the file; the
		// tag write above already succeeded, so we simply skip the
		// image and report the failure to the caller for logging.
		return fmt.Errorf("tagger: fetch cover: %w", err)
	}
	if len(image) == 0 {
		return nil
	}
	if err := taglib.WriteImage(path, image); err != nil {
		return fmt.Errorf("tagger: write image: %w", err)
	}
	return nil
}

func buildTags(in Input) map[string][]string {
	s := in.Song
	tags := make(map[string][]string)

	set := func(key, value string) {
		if value != "" {
			tags[key] = []string{value}
		}
	}
	setInt := func(key string, value int) {
		if value > 0 {
			tags[key] = []string{strconv.Itoa(value)}
		}
	}

	set(taglib.Title, s.Title)
	set(taglib.Artist, s.Artist)
	set(taglib.Album, s.Album)
	albumArtist := s.AlbumArtist
	if albumArtist == "" {
		albumArtist = s.Artist
	}
	set(taglib.AlbumArtist, albumArtist)
	setInt(taglib.TrackNumber, s.TrackNumber)
	if in.TotalTracks > 0 {
		tags["TRACKTOTAL"] = []string{strconv.Itoa(in.TotalTracks)}
	}
	discNumber := s.DiscNumber
	if discNumber <= 0 {
		discNumber = 1
	}
	setInt(taglib.DiscNumber, discNumber)
	setInt(taglib.Date, s.Year)
	set(taglib.Genre, s.Genre)
	if s.BPM > 0 {
		tags["BPM"] = []string{strconv.Itoa(s.BPM)}
	}
	set(taglib.ISRC, s.ISRC)
	if in.Copyright != "" {
		tags["COPYRIGHT"] = []string{in.Copyright}
	}
	if in.Label != "" {
		tags["LABEL"] = []string{in.Label}
	}
	if len(in.Contributors) > 0 {
		tags["ARTISTS"] = []string{strings.Join(in.Contributors, "; ")}
	}
	if !s.IsLocal && s.ExternalProvider != "" {
		// Embeds the canonical fingerprint as a custom tag so the router's
		// ghost/ID self-heal path can recover it straight from the file if
		// the local backend's own id for this track ever changes.
		tags["EXTERNAL_ID"] = []string{identifier.Encode(s.ExternalProvider, identifier.KindSong, s.ExternalID)}
	}
	return tags
}

func (t *Tagger) fetchCover(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover fetch status %d", resp.StatusCode)
	}
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return buf, nil
}
