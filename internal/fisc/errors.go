// Package fisc implements the dual-channel (or unified) client half of
// the front-end processor: Connect/SignOn/SendAndReceive over a
// length-framed ISO 8583 transport, correlated by STAN through the
// pending-request manager.
package fisc

import "errors"

// Sentinel errors matching the client-side error taxonomy.
var (
	// ErrConnectFailed indicates TCP connect failed on both the
	// primary and (if configured) backup host.
	ErrConnectFailed = errors.New("fisc: connect failed")

	// ErrChannelClosed indicates the socket required for an operation
	// is not active.
	ErrChannelClosed = errors.New("fisc: channel closed")

	// ErrSendFailed indicates a transport write failed.
	ErrSendFailed = errors.New("fisc: send failed")

	// ErrSignOnRejected indicates a sign-on response carried a
	// response code other than "00".
	ErrSignOnRejected = errors.New("fisc: sign-on rejected")

	// ErrUnsupportedFailureStrategy is returned at construction time
	// for FailureStrategy values the client does not implement, such as
	// an unbounded recursive single-socket fallback.
	ErrUnsupportedFailureStrategy = errors.New("fisc: unsupported failure strategy")

	// ErrInvalidMode is returned at construction time when Mode is not
	// one of ModeDual or ModeUnified.
	ErrInvalidMode = errors.New("fisc: invalid mode")

	// ErrNotConnected is returned by operations that require an active
	// client when Connect has not yet succeeded.
	ErrNotConnected = errors.New("fisc: not connected")

	// ErrClientClosed is returned by operations called after Close.
	ErrClientClosed = errors.New("fisc: client closed")
)
