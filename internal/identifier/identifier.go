// Package identifier implements the external identifier grammar:
// ext-<provider>-<kind>-<externalId>, with a legacy 3-segment form that
// defaults to kind=song. Decode is total: any non-matching input is
// reported as non-external with the original id preserved.
package identifier

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is one of the four external entity kinds.
type Kind string

const (
	KindSong     Kind = "song"
	KindAlbum    Kind = "album"
	KindArtist   Kind = "artist"
	KindPlaylist Kind = "playlist"
)

var validKinds = map[Kind]bool{
	KindSong:     true,
	KindAlbum:    true,
	KindArtist:   true,
	KindPlaylist: true,
}

var providerToken = regexp.MustCompile(`^[a-z0-9]+$`)

// Decoded is the result of parsing an identifier.
type Decoded struct {
	IsExternal bool
	Provider   string
	Kind       Kind
	ExternalID string
	Original   string
}

// Encode builds the canonical 4-segment external identifier.
func Encode(provider string, kind Kind, externalID string) string {
	return fmt.Sprintf("ext-%s-%s-%s", provider, kind, externalID)
}

// Decode parses id. Any input that does not match the external grammar
// (4-segment canonical form or the 3-segment legacy form) yields
// IsExternal=false with Original preserved verbatim.
func Decode(id string) Decoded {
	if !strings.HasPrefix(id, "ext-") {
		return Decoded{IsExternal: false, Original: id}
	}
	parts := strings.SplitN(id, "-", 4)
	switch len(parts) {
	case 4:
		provider, kindStr, externalID := parts[1], parts[2], parts[3]
		kind := Kind(kindStr)
		if provider == "" || externalID == "" || !providerToken.MatchString(provider) || !validKinds[kind] {
			// Not a valid canonical form; try legacy 3-segment
			// interpretation: ext-<provider>-<externalId>.
			if legacy, ok := decodeLegacy(parts[1], strings.Join(parts[2:], "-")); ok {
				return legacy
			}
			return Decoded{IsExternal: false, Original: id}
		}
		return Decoded{IsExternal: true, Provider: provider, Kind: kind, ExternalID: externalID, Original: id}
	case 3:
		if legacy, ok := decodeLegacy(parts[1], parts[2]); ok {
			return legacy
		}
		return Decoded{IsExternal: false, Original: id}
	default:
		return Decoded{IsExternal: false, Original: id}
	}
}

func decodeLegacy(provider, externalID string) (Decoded, bool) {
	if provider == "" || externalID == "" || !providerToken.MatchString(provider) {
		return Decoded{}, false
	}
	return Decoded{
		IsExternal: true,
		Provider:   provider,
		Kind:       KindSong,
		ExternalID: externalID,
		Original:   Encode(provider, KindSong, externalID),
	}, true
}
