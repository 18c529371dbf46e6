// Package dedupe holds the duplicate-suppression logic of the engine: the
// review anti-gaming filter and a bounded seen-set for message idempotency.
package dedupe

import (
	"context"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSeenSize = 50_000

// Seen records ids to ensure at-most-once handling.
type Seen interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	Size() int64
}

// seenSet evicts the oldest recorded id once full. A lookup does not
// refresh an id, so eviction follows insertion order.
type seenSet struct {
	maxSize int
	cache   *lru.Cache[string, struct{}]
}

// NewSeen creates an in-memory seen-set.
func NewSeen(opts ...SeenOption) Seen {
	s := &seenSet{maxSize: defaultSeenSize}
	for _, opt := range opts {
		opt(s)
	}
	size := s.maxSize
	if size <= 0 {
		size = math.MaxInt
	}
	// lru.New only fails for a non-positive size.
	s.cache, _ = lru.New[string, struct{}](size)
	return s
}

func (s *seenSet) SeenAndRecord(_ context.Context, id string) bool {
	seen, _ := s.cache.ContainsOrAdd(id, struct{}{})
	return seen
}

func (s *seenSet) Size() int64 {
	return int64(s.cache.Len())
}
