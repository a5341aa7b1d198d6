package session

import "errors"

// Sentinel kinds for session errors.
var (
	ErrNotActive     = errors.New("no active session")
	ErrEnding        = errors.New("session is already ending")
	ErrInvalidSample = errors.New("invalid device sample")
	ErrInvalidConfig = errors.New("invalid session config")
	ErrUnknownSeries = errors.New("unknown series")
)
