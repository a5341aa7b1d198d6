package timeline

import "errors"

// Sentinel kinds for timeline errors.
var (
	ErrInvalidInterval = errors.New("timeline interval must be positive")
)
