// Package domain holds the provider-agnostic DTOs shared across the core:
// songs, albums, artists, playlists, the persisted library mapping, and the
// in-memory download record. Wire-format (de)serialization lives in
// pkg/subsonic, never here.
package domain

import "time"

// ExplicitFlag describes a track's explicit-content status.
type ExplicitFlag string

const (
	ExplicitUnknown  ExplicitFlag = "unknown"
	ExplicitClean    ExplicitFlag = "clean"
	ExplicitExplicit ExplicitFlag = "explicit"
	ExplicitEdited   ExplicitFlag = "edited"
)

// Song is the core track DTO. Exactly one of (isLocal) or
// (ExternalProvider, ExternalID) holds, per the data model invariant:
// isLocal ⇒ LocalPath != "" && ExternalProvider == ""
// !isLocal ⇒ ExternalProvider != "" && ExternalID != ""
type Song struct {
	ID               string
	Title            string
	Artist           string
	Album            string
	AlbumArtist      string
	AlbumID          string
	ArtistID         string
	TrackNumber      int
	DiscNumber       int
	DurationSeconds  int
	Year             int
	Genre            string
	BPM              int
	ISRC             string
	Explicit         ExplicitFlag
	CoverArtURL      string
	CoverArtURLLarge string
	IsLocal          bool
	ExternalProvider string
	ExternalID       string
	LocalPath        string
}

// Valid reports whether the invariant in the data model holds.
func (s Song) Valid() bool {
	if s.IsLocal {
		return s.LocalPath != "" && s.ExternalProvider == ""
	}
	return s.ExternalProvider != "" && s.ExternalID != ""
}

// Album is the core album DTO. Songs is populated lazily and may be empty
// even when SongCount is known and nonzero.
type Album struct {
	ID               string
	Title            string
	Artist           string
	ArtistID         string
	Year             int
	SongCount        int
	Genre            string
	CoverArtURL      string
	IsLocal          bool
	ExternalProvider string
	ExternalID       string
	Songs            []Song
}

// Artist is the core artist DTO.
type Artist struct {
	ID               string
	Name             string
	AlbumCount       int
	ImageURL         string
	IsLocal          bool
	ExternalProvider string
	ExternalID       string
}

// ExternalPlaylist describes a provider-hosted playlist; playlists never
// originate locally in this design (local playlists are a backend concern).
type ExternalPlaylist struct {
	ID              string
	Name            string
	Description     string
	CuratorName     string
	Provider        string
	ExternalID      string
	TrackCount      int
	DurationSeconds int
	CoverURL        string
	CreatedDate     time.Time
}

// LibraryMapping is the persisted (provider, externalID) -> local path
// record owned by the library index.
type LibraryMapping struct {
	Provider     string    `json:"provider"`
	ExternalID   string    `json:"externalId"`
	LocalPath    string    `json:"localPath"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// DownloadState is a DownloadRecord's position in the C8 state machine.
type DownloadState string

const (
	DownloadQueued     DownloadState = "queued"
	DownloadInProgress DownloadState = "in_progress"
	DownloadCompleted  DownloadState = "completed"
	DownloadFailed     DownloadState = "failed"
)

// DownloadRecord is the in-memory, per-process tracking of one fingerprint's
// download lifecycle. It is never persisted; success is durable via
// LibraryMapping, failure is not remembered across requests.
type DownloadRecord struct {
	Provider     string
	ExternalID   string
	State        DownloadState
	StartedAt    time.Time
	CompletedAt  time.Time
	LocalPath    string
	ErrorMessage string
}

// Fingerprint returns the (provider, externalID) key identifying a
// downloadable external track to the coordinator.
func (d DownloadRecord) Fingerprint() string {
	return d.Provider + ":" + d.ExternalID
}

// ResolvedDownload is what a provider's resolve_download operation returns:
// enough information for the coordinator to fetch and, if necessary,
// decrypt a stream.
type ResolvedDownload struct {
	URL           string
	MimeType      string
	Quality       string
	Cipher        CipherKind
	KeyDerivation string
}

// CipherKind identifies the decryption transform a resolved download
// requires, per the provider contract in §4.5.
type CipherKind string

const (
	CipherNone              CipherKind = "none"
	CipherBlowfishCBCStripe CipherKind = "blowfish-cbc-stripe"
)

// Quality is the caller-facing preferred-quality enum; concrete providers
// map it to their own terminology.
type Quality string

const (
	QualityFLAC   Quality = "FLAC"
	QualityHiRes  Quality = "HI_RES"
	QualityHigh   Quality = "HIGH"
	QualityLow    Quality = "LOW"
)
