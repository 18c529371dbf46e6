package bus

import "errors"

// Sentinel kinds for bus errors.
var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrClosed       = errors.New("bus is closed")
)
