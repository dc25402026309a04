package api

import (
	"errors"
	"fmt"
)

// Error taxonomy for everything the client can hit talking to the server.
// All of these are recoverable: callers surface them as notices and keep the
// session alive.
var (
	// ErrValidation covers malformed input caught before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork covers transport failures with no server response.
	ErrNetwork = errors.New("network failure")
	// ErrServerRejected covers non-success statuses and success:false bodies.
	ErrServerRejected = errors.New("server rejected request")
	// ErrRateLimited is returned when the server throttles a request, or
	// locally when the OTP resend cooldown has not elapsed.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized covers admin-only actions attempted by non-admins.
	// Dropped at component boundaries after logging, never fatal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStaleState marks inbound events referencing a room or identity the
	// client no longer recognizes. Ignored, never fatal.
	ErrStaleState = errors.New("stale state")
)

// ServerError carries the status and message of a rejected request. It
// unwraps to the matching taxonomy sentinel so callers can classify with
// errors.Is.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error (status %d)", e.Status)
}

func (e *ServerError) Unwrap() error {
	switch e.Status {
	case 401, 403:
		return ErrUnauthorized
	case 429:
		return ErrRateLimited
	default:
		return ErrServerRejected
	}
}
