package dedupe

import "time"

// Option applies a configuration option to the Filter.
type Option func(*Filter)

// WithWindow sets the dedupe window within which correlated reviews are
// collapsed to the earliest one.
func WithWindow(window time.Duration) Option {
	return func(f *Filter) {
		if window > 0 {
			f.window = window
		}
	}
}

// SeenOption applies a configuration option to the seen-set.
type SeenOption func(*seenSet)

// WithMaxSize bounds the number of remembered ids.
// If maxSize > 0: oldest ids are evicted first.
// If maxSize <= 0: unbounded.
func WithMaxSize(maxSize int) SeenOption {
	return func(s *seenSet) {
		s.maxSize = maxSize
	}
}
