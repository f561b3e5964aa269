// Package framer implements length-prefixed message framing over any
// io.ReadWriter, typically a net.Conn carrying an ISO 8583 stream.
package framer

import "errors"

var (
	// ErrShortRead indicates the underlying reader returned fewer bytes
	// than requested with no error, which the framer treats as a
	// protocol violation rather than retrying forever.
	ErrShortRead = errors.New("framer: short read")

	// ErrClosed indicates ReadMessage or WriteMessage was called after
	// Close.
	ErrClosed = errors.New("framer: closed")

	// ErrInvalidWidth indicates a Config.Width outside the supported
	// 1-4 byte range.
	ErrInvalidWidth = errors.New("framer: width must be 1-4 bytes")

	// ErrInvalidEncoding indicates a length byte could not be decoded
	// under the configured Encoding (non-digit ASCII, BCD nibble > 9).
	// Config.Validate also returns it for a negative MinLength or a
	// MaxLength below MinLength.
	ErrInvalidEncoding = errors.New("framer: invalid length encoding")
)

// ResyncError is returned when a decoded frame length falls outside
// [MinLength, MaxLength] or is negative. It carries the number of
// bytes the Framer discarded from its internal buffer while
// resynchronizing, so the caller can log drift without the Framer
// needing its own logger.
type ResyncError struct {
	Discarded int
	Reason    error
}

func (e *ResyncError) Error() string {
	return "framer: resync after bad frame length, discarded " +
		itoa(e.Discarded) + " bytes: " + e.Reason.Error()
}

func (e *ResyncError) Unwrap() error { return e.Reason }

// ErrDecodeResync is the sentinel wrapped by every ResyncError, for
// callers that only want errors.Is without inspecting Discarded.
var ErrDecodeResync = errors.New("framer: frame length out of bounds")

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
