package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("record not found")
	ErrNotScored      = errors.New("item not yet scored")
	ErrDuplicateEvent = errors.New("event id already exists")
	ErrNotClaimed     = errors.New("dirty entry not claimed by this token")
	ErrContention     = errors.New("transient store contention")
)
