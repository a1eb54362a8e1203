// Package coreerr defines the typed error kinds from the error handling
// design: sentinel errors the core returns, translated to HTTP/Subsonic
// status only at the router boundary. Internal layers never return a raw
// HTTP status.
package coreerr

import "errors"

var (
	// ErrNotConfigured means a required setting is absent.
	ErrNotConfigured = errors.New("not configured")
	// ErrNotFound means an identifier does not resolve on either side.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated means upstream rejected our credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized means the client's own credential is invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited means the provider asked us to back off.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers network/timeout failures eligible for retry.
	ErrTransient = errors.New("transient failure")
	// ErrDecryption means cipher key derivation or block decrypt failed.
	// Never recovered: the partial file must be deleted.
	ErrDecryption = errors.New("decryption failed")
	// ErrIntegrity means a provider manifest lacked a usable stream URL.
	ErrIntegrity = errors.New("integrity: manifest missing stream url")
	// ErrCancelled is a clean termination; never logged as an error.
	ErrCancelled = errors.New("cancelled")
)

// Kind wraps an error with one of the sentinels above so callers can both
// errors.Is against the sentinel and read a human message via Error().
type Kind struct {
	Sentinel error
	Message  string
}

func (k *Kind) Error() string {
	if k.Message == "" {
		return k.Sentinel.Error()
	}
	return k.Sentinel.Error() + ": " + k.Message
}

func (k *Kind) Unwrap() error { return k.Sentinel }

// Wrap produces a *Kind for sentinel with an explanatory message.
func Wrap(sentinel error, message string) error {
	return &Kind{Sentinel: sentinel, Message: message}
}
