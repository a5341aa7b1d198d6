package reward

import "errors"

// Sentinel kinds for reward errors.
var (
	ErrUnknownKey         = errors.New("unknown accumulator")
	ErrSelfTransfer       = errors.New("cannot transfer an accumulator into itself")
	ErrAlreadyTransferred = errors.New("accumulator already transferred")
	ErrInvalidInterval    = errors.New("coin interval must be positive")
)
