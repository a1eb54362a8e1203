// Package subsonic is the wire dialect adapter: Subsonic XML/JSON response
// envelopes and the conversions from the core's domain DTOs into them. The
// identifier grammar itself lives in internal/identifier, not here — this
// package only serializes, it never parses ids.
package subsonic

const (
	Version      = "1.16.1"
	StatusOk     = "ok"
	StatusFailed = "failed"
)

// Subsonic error codes, per the protocol's fixed enumeration.
const (
	ErrGeneric           = 0
	ErrRequiredParameter = 10
	ErrClientVersionOld  = 20
	ErrServerVersionOld  = 30
	ErrWrongUserPass     = 40
	ErrNotAuthorized     = 50
	ErrTrialExpired      = 60
	ErrDataNotFound      = 70
	ErrUserNotAuthorized = 80
)
