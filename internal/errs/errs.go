// Package errs centralizes the error kinds the protocol distinguishes for
// reconnect/retry decisions, as opposed to ad-hoc wrapped errors.
package errs

import "errors"

var (
	// ErrAuthFailed indicates a PSK mismatch or TLS identity failure. Fatal,
	// no retry.
	ErrAuthFailed = errors.New("auth failed")

	// ErrPayloadMismatch indicates a reconnect found a different file list
	// than the one previously agreed on. Fatal; the receiver's local files
	// are not removed.
	ErrPayloadMismatch = errors.New("payload mismatch")

	// ErrRefused indicates admission limits were exceeded. Fatal for this
	// attempt; caller may retry after ReconnectDelay.
	ErrRefused = errors.New("refused")

	// ErrMalformedFrame covers both undersized frames and field deserialise
	// failures; both are treated as transport failure.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrTransportLost indicates a control-channel I/O error after a
	// successful join. Retryable.
	ErrTransportLost = errors.New("transport lost")

	// ErrConfigInvalid indicates block-size derivation or settings
	// validation failed. Fatal at startup.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrCancelled indicates cooperative cancellation. No retry.
	ErrCancelled = errors.New("cancelled")
)

// CanReconnect reports whether the receiver engine should enter the
// reconnect loop for the given error, per the propagation rule: reconnect
// unless the kind is AuthFailed, PayloadMismatch, or Cancelled.
func CanReconnect(err error) bool {
	switch {
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrPayloadMismatch), errors.Is(err, ErrCancelled):
		return false
	default:
		return true
	}
}
