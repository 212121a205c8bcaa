// Package service wires the engines together behind one facade.
package service

import "errors"

var (
	// ErrNotStarted indicates an operation arrived before Start.
	ErrNotStarted = errors.New("service not started")

	// ErrAlreadyStarted indicates a second Start call.
	ErrAlreadyStarted = errors.New("service already started")
)
