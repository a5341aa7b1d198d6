package serieskey

import "errors"

// Sentinel kinds for series key errors.
var (
	ErrMalformedKey = errors.New("malformed series key")
	ErrUnknownScope = errors.New("unknown series key scope")
)
