package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrInvalidRecord = errors.New("invalid session record")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrUnranked      = errors.New("participant not ranked")
)
