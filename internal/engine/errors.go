// Package engine implements the message synchronization engine: the single
// authority that turns an inbound event into a durable, ordered, globally
// visible state change. This file centralizes the engine's error values so
// callers can classify failures without string matching.
package engine

import "errors"

var (
	// ErrPersistence wraps any durable-log failure (unreachable storage or a
	// failed query). The operation that hit it performed no fanout.
	ErrPersistence = errors.New("persistence failure")

	// ErrEmptySender is returned when a submission carries no sender identity.
	ErrEmptySender = errors.New("sender is empty")

	// ErrEmptyText is returned when a submission carries no message body.
	ErrEmptyText = errors.New("text is empty")
)
