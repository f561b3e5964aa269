package iso8583

import "errors"

// Sentinel errors returned by Parse, Assemble, and the message helpers.
var (
	// ErrMalformedMessage indicates the codec could not parse the wire
	// bytes into a well-formed message.
	ErrMalformedMessage = errors.New("iso8583: malformed message")

	// ErrFieldNotFound indicates a requested field is not present in
	// the message's field map.
	ErrFieldNotFound = errors.New("iso8583: field not found")

	// ErrInvalidBitmap indicates the primary or secondary bitmap bytes
	// could not be decoded.
	ErrInvalidBitmap = errors.New("iso8583: invalid bitmap")

	// ErrUnknownField indicates the bitmap names a field index with no
	// schema entry and the schema is configured to reject unknowns.
	ErrUnknownField = errors.New("iso8583: unknown field")

	// ErrInvalidMTI indicates the MTI is not four ASCII digits.
	ErrInvalidMTI = errors.New("iso8583: invalid MTI")
)
