// Package ingest validates incoming events and feeds the recompute queue.
package ingest

import "errors"

var (
	// ErrValidation indicates a malformed or self-contradictory event.
	ErrValidation = errors.New("invalid event")

	// ErrDuplicate indicates the event id was already accepted.
	ErrDuplicate = errors.New("duplicate event")

	// ErrUnknownItem indicates an event references an item that does not
	// exist and auto-creation is disabled.
	ErrUnknownItem = errors.New("unknown item")
)
