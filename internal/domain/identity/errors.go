package identity

import "errors"

// Sentinel kinds for identity errors.
var (
	ErrInvalidID      = errors.New("invalid participant id")
	ErrUnknownDevice  = errors.New("device has no assignment")
	ErrDuplicateOwner = errors.New("device registered to more than one user")
)
