// Package pending implements the STAN-indexed correlation table that
// matches asynchronous responses on the receive channel back to the
// request that sent them on the send channel.
package pending

import "errors"

// Sentinel errors for Manager and StanAllocator operations.
var (
	// ErrDuplicateStan indicates Register was called with a STAN that
	// already has an in-flight entry.
	ErrDuplicateStan = errors.New("pending: duplicate stan")

	// ErrManagerClosed indicates an operation was attempted after Close.
	ErrManagerClosed = errors.New("pending: manager closed")

	// ErrTimeout is the cause delivered to a waiter whose entry's timer
	// fired before a response arrived.
	ErrTimeout = errors.New("pending: request timed out")

	// ErrStanSpaceExhausted indicates StanAllocator.Next could not find
	// a free value across the entire 1,000,000-value space. This
	// should never happen outside a pathological deployment with close
	// to a million simultaneously in-flight requests.
	ErrStanSpaceExhausted = errors.New("pending: stan space exhausted")
)
