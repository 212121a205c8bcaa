// Package batch drains the dirty queue: claim, replay, aggregate, publish.
package batch

import "errors"

var (
	// ErrComputation indicates a recompute produced an unusable value.
	// The item's published score is left frozen.
	ErrComputation = errors.New("score computation failed")

	// ErrBudgetExceeded indicates a drain cycle ran out of wall-clock
	// budget before finishing its claimed batch.
	ErrBudgetExceeded = errors.New("batch budget exceeded")
)
