package summary

import (
	"errors"
	"fmt"
)

// Validation reasons.
const (
	ReasonInsufficientTicks  = "insufficient-ticks"
	ReasonSeriesTickMismatch = "series-tick-mismatch"
	ReasonTooManyPoints      = "too-many-points"
	ReasonSpamSession        = "spam-session"
)

// Sentinels matched by errors.Is against a *ValidationError.
var (
	ErrInsufficientTicks  = errors.New(ReasonInsufficientTicks)
	ErrSeriesTickMismatch = errors.New(ReasonSeriesTickMismatch)
	ErrTooManyPoints      = errors.New(ReasonTooManyPoints)
	ErrSpamSession        = errors.New(ReasonSpamSession)
)

// ValidationError explains why a summary must not be persisted.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "summary rejected: " + e.Reason
	}
	return fmt.Sprintf("summary rejected: %s: %s", e.Reason, e.Detail)
}

// Is matches the sentinel for e.Reason.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrInsufficientTicks:
		return e.Reason == ReasonInsufficientTicks
	case ErrSeriesTickMismatch:
		return e.Reason == ReasonSeriesTickMismatch
	case ErrTooManyPoints:
		return e.Reason == ReasonTooManyPoints
	case ErrSpamSession:
		return e.Reason == ReasonSpamSession
	}
	return false
}

func reject(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
