package bus

import "github.com/okian/repute/internal/domain/dedupe"

const defaultBufferSize = 1024

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscription output buffer.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithSeen sets the seen-set used to drop redelivered messages.
func WithSeen(seen dedupe.Seen) Option {
	return func(b *Bus) {
		if seen != nil {
			b.seen = seen
		}
	}
}
