package reward

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithInterval sets the length of one award interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithBucketWidth sets the width of one color-timeline bucket.
func WithBucketWidth(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.bucketWidth = d
		}
	}
}

// WithActivity sets the activity source consulted right before crediting.
func WithActivity(c ActivityChecker) Option {
	return func(e *Engine) {
		e.activity = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
