package iso8583

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	mtiLength     = 4
	bitmapLen     = 8 // 64 bits, big-endian binary
	maxBitmapBits = 128
)

// Parse decodes raw wire bytes into a Message according to schema. The
// primary bitmap (and secondary, when bit 1 is set) is read as 8
// big-endian binary bytes each. Parse returns ErrMalformedMessage for
// any structural failure (short MTI, truncated or non-numeric length
// header, truncated field data), and ErrUnknownField if a bitmap bit
// names a field absent from schema and schema.SkipUnknown is false (or
// the field cannot be skipped even with SkipUnknown set).
func Parse(schema *Schema, raw []byte) (*Message, error) {
	if len(raw) < mtiLength {
		return nil, fmt.Errorf("mti truncated: %w", ErrMalformedMessage)
	}
	mti := string(raw[:mtiLength])
	msg := New(mti)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	pos := mtiLength

	if len(raw) < pos+bitmapLen {
		return nil, fmt.Errorf("primary bitmap truncated: %w", ErrMalformedMessage)
	}
	primary := binary.BigEndian.Uint64(raw[pos : pos+bitmapLen])
	pos += bitmapLen

	var secondary uint64
	if primary&(1<<63) != 0 {
		if len(raw) < pos+bitmapLen {
			return nil, fmt.Errorf("secondary bitmap truncated: %w", ErrMalformedMessage)
		}
		secondary = binary.BigEndian.Uint64(raw[pos : pos+bitmapLen])
		pos += bitmapLen
	}

	for _, field := range activeFields(primary, secondary) {
		spec, ok := schema.Get(field)
		if !ok {
			if !schema.SkipUnknown {
				return nil, fmt.Errorf("field %d: %w", field, ErrUnknownField)
			}
			consumed, err := skipUnknownField(raw[pos:])
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", field, err)
			}
			msg.Warnings = append(msg.Warnings, Warning{Field: field, Message: "unknown field skipped by LLLVAR length"})
			pos += consumed
			continue
		}
		value, consumed, err := decodeField(spec, raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", field, err)
		}
		msg.Set(field, value)
		pos += consumed
	}

	return msg, nil
}

// skipUnknownField consumes the bytes for a bitmap field with no
// schema entry, under the convention that unspecified ISO 8583 fields
// are LLLVAR: a 3-digit ASCII length header followed by that many
// bytes of data. A header that isn't valid decimal digits means the
// field is actually fixed-width (or some other encoding) with no way
// to determine its length, so it cannot be skipped.
func skipUnknownField(raw []byte) (int, error) {
	const headerLen = 3
	if len(raw) < headerLen {
		return 0, ErrMalformedMessage
	}
	length, err := decodeDecimal(raw[:headerLen])
	if err != nil {
		return 0, fmt.Errorf("fixed-width field has no schema entry to skip by: %w", ErrUnknownField)
	}
	if len(raw) < headerLen+length {
		return 0, ErrMalformedMessage
	}
	return headerLen + length, nil
}

// Assemble encodes msg into wire bytes according to schema: MTI,
// bitmap(s) derived from msg's present fields, then each active
// field's length header (for LLVAR/LLLVAR) and data in ascending
// field-number order. Assemble returns ErrUnknownField if msg has a
// field absent from schema, and ErrMalformedMessage if a field's
// value exceeds the schema's declared length.
func Assemble(schema *Schema, msg *Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	fields := make([]int, 0, len(msg.Fields))
	for field := range msg.Fields {
		fields = append(fields, field)
	}
	sortInts(fields)

	var primary, secondary uint64
	for _, field := range fields {
		if field < 2 || field > maxBitmapBits {
			return nil, fmt.Errorf("field %d: %w", field, ErrUnknownField)
		}
		setBit(&primary, &secondary, field)
	}

	out := make([]byte, 0, 64)
	out = append(out, []byte(msg.MTI())...)

	var bm [bitmapLen]byte
	binary.BigEndian.PutUint64(bm[:], primary)
	out = append(out, bm[:]...)
	if secondary != 0 {
		binary.BigEndian.PutUint64(bm[:], secondary)
		out = append(out, bm[:]...)
	}

	for _, field := range fields {
		spec, ok := schema.Get(field)
		if !ok {
			return nil, fmt.Errorf("field %d: %w", field, ErrUnknownField)
		}
		encoded, err := encodeField(spec, msg.Fields[field])
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", field, err)
		}
		out = append(out, encoded...)
	}

	return out, nil
}

// activeFields returns the bitmap-set field numbers in ascending
// order, starting at 2 (bit 1 only flags secondary-bitmap presence
// and is never itself a data field).
func activeFields(primary, secondary uint64) []int {
	var fields []int
	for i := 2; i <= 64; i++ {
		if primary&(1<<(64-i)) != 0 {
			fields = append(fields, i)
		}
	}
	for i := 65; i <= 128; i++ {
		if secondary&(1<<(128-i)) != 0 {
			fields = append(fields, i)
		}
	}
	return fields
}

func setBit(primary, secondary *uint64, field int) {
	if field <= 64 {
		*primary |= 1 << (64 - field)
		return
	}
	*secondary |= 1 << (128 - field)
	*primary |= 1 << 63
}

func decodeField(spec FieldSpec, raw []byte) (string, int, error) {
	switch spec.Kind {
	case Fixed:
		if len(raw) < spec.Length {
			return "", 0, ErrMalformedMessage
		}
		return string(raw[:spec.Length]), spec.Length, nil

	case LLVAR, LLLVAR:
		headerLen := 2
		if spec.Kind == LLLVAR {
			headerLen = 3
		}
		if len(raw) < headerLen {
			return "", 0, ErrMalformedMessage
		}
		length, err := decodeDecimal(raw[:headerLen])
		if err != nil {
			return "", 0, ErrMalformedMessage
		}
		if length > spec.Length {
			return "", 0, ErrMalformedMessage
		}
		if len(raw) < headerLen+length {
			return "", 0, ErrMalformedMessage
		}
		return string(raw[headerLen : headerLen+length]), headerLen + length, nil

	default:
		return "", 0, fmt.Errorf("field kind %v: %w", spec.Kind, ErrMalformedMessage)
	}
}

func encodeField(spec FieldSpec, value string) ([]byte, error) {
	switch spec.Kind {
	case Fixed:
		if len(value) > spec.Length {
			return nil, ErrMalformedMessage
		}
		if len(value) == spec.Length {
			return []byte(value), nil
		}
		padded := make([]byte, spec.Length)
		copy(padded, value)
		for i := len(value); i < spec.Length; i++ {
			padded[i] = ' '
		}
		return padded, nil

	case LLVAR, LLLVAR:
		if len(value) > spec.Length {
			return nil, ErrMalformedMessage
		}
		headerLen := 2
		if spec.Kind == LLLVAR {
			headerLen = 3
		}
		header := strconv.Itoa(len(value))
		for len(header) < headerLen {
			header = "0" + header
		}
		out := make([]byte, 0, headerLen+len(value))
		out = append(out, []byte(header)...)
		out = append(out, []byte(value)...)
		return out, nil

	default:
		return nil, fmt.Errorf("field kind %v: %w", spec.Kind, ErrMalformedMessage)
	}
}

func decodeDecimal(b []byte) (int, error) {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrMalformedMessage
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// sortInts is a small insertion sort: field counts per message are at
// most 128, so this avoids pulling in sort for a handful of ints.
func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
