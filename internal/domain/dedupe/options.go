package dedupe

// Option applies a configuration option to the in-memory deduper.
type Option func(*window)

// WithMaxSize sets how many recent keys are remembered.
// If maxSize <= 0 the deduper is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *window) {
		d.maxSize = maxSize
	}
}
