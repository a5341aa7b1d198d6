package entity

import "errors"

// Sentinel kinds for entity errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidEntity = errors.New("invalid entity")
	ErrTerminal      = errors.New("entity already ended")
)
