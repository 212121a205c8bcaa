package selection

import "errors"

// Sentinel kinds for selection errors.
var (
	ErrEmptyPool    = errors.New("selection pool is empty")
	ErrPoolTooSmall = errors.New("selection pool has fewer than two items")
)
