package iso8583_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

// bitmapBytes encodes v as the 8-byte big-endian primary/secondary
// bitmap wire representation.
func bitmapBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// TestParseAssembleRoundTrip verifies that for every message the
// schema can fully describe, Assemble followed by Parse reproduces the
// original MTI and field map exactly.
func TestParseAssembleRoundTrip(t *testing.T) {
	t.Parallel()

	schema := iso8583.DefaultSchema()

	tests := []struct {
		name string
		msg  *iso8583.Message
	}{
		{
			name: "echo request",
			msg:  iso8583.NewEcho("000042"),
		},
		{
			name: "authorization request",
			msg: func() *iso8583.Message {
				m := iso8583.New("0200")
				m.Set(iso8583.FieldPAN, "4111111111111111")
				m.Set(iso8583.FieldProcessingCode, "000000")
				m.Set(iso8583.FieldAmount, "000000012345")
				m.Set(iso8583.FieldTransmissionDT, "0730120000")
				m.Set(iso8583.FieldSTAN, "000123")
				m.Set(iso8583.FieldLocalTime, "120000")
				m.Set(iso8583.FieldLocalDate, "0730")
				m.Set(iso8583.FieldAcquiringInstID, "12345")
				m.Set(iso8583.FieldRRN, "123456789012")
				m.Set(iso8583.FieldCardAcceptorTID, "TERM0001")
				return m
			}(),
		},
		{
			name: "message using a secondary-bitmap field",
			msg: func() *iso8583.Message {
				m := iso8583.New("0210")
				m.Set(iso8583.FieldSTAN, "000999")
				m.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
				m.Set(102, "ACCT0000000001")
				return m
			}(),
		},
		{
			name: "empty llvar field",
			msg: func() *iso8583.Message {
				m := iso8583.New("0800")
				m.Set(iso8583.FieldSTAN, "000001")
				m.Set(iso8583.FieldAcquiringInstID, "")
				return m
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := iso8583.Assemble(schema, tt.msg)
			if err != nil {
				t.Fatalf("Assemble() error = %v", err)
			}

			got, err := iso8583.Parse(schema, raw)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			if got.MTI() != tt.msg.MTI() {
				t.Fatalf("MTI() = %q, want %q", got.MTI(), tt.msg.MTI())
			}
			if len(got.Fields) != len(tt.msg.Fields) {
				t.Fatalf("field count = %d, want %d", len(got.Fields), len(tt.msg.Fields))
			}
			for field, want := range tt.msg.Fields {
				gotVal, ok := got.Get(field)
				if !ok {
					t.Fatalf("field %d missing after round trip", field)
				}
				if gotVal != want {
					t.Fatalf("field %d = %q, want %q", field, gotVal, want)
				}
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	schema := iso8583.DefaultSchema()

	fieldTwoBitmap := bitmapBytes(uint64(1) << 62) // field 2 (PAN) present

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "truncated MTI", raw: []byte("020")},
		{name: "non-numeric MTI", raw: append([]byte("02a0"), bitmapBytes(1<<63)...)},
		{name: "truncated primary bitmap", raw: []byte("0200\x80\x00")},
		{
			name: "non-numeric LLVAR length header",
			raw:  append(append([]byte("0200"), fieldTwoBitmap...), "XXhi"...),
		},
		{
			name: "LLVAR length exceeds remaining data",
			raw:  append(append([]byte("0200"), fieldTwoBitmap...), "99hi"...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := iso8583.Parse(schema, tt.raw)
			if err == nil {
				t.Fatal("Parse() error = nil, want non-nil")
			}
		})
	}
}

func TestParseUnknownField(t *testing.T) {
	t.Parallel()

	schema := iso8583.NewSchema()
	// Bit 2 set (field 2, PAN) but schema has no entry for it.
	raw := append([]byte("0200"), bitmapBytes(uint64(1)<<62)...)

	_, err := iso8583.Parse(schema, raw)
	if !errors.Is(err, iso8583.ErrUnknownField) {
		t.Fatalf("Parse() error = %v, want ErrUnknownField", err)
	}
}

func TestParseSkipUnknownField(t *testing.T) {
	t.Parallel()

	schema := iso8583.NewSchema()
	schema.SkipUnknown = true
	// Bit 2 set (field 2) with no schema entry, encoded as LLLVAR:
	// 3-digit length header "004" followed by 4 bytes of data.
	raw := append([]byte("0200"), bitmapBytes(uint64(1)<<62)...)
	raw = append(raw, "004data"...)

	msg, err := iso8583.Parse(schema, raw)
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil", err)
	}
	if _, ok := msg.Get(2); ok {
		t.Fatal("Get(2) = present, want absent (unknown field is skipped, not decoded)")
	}
	if len(msg.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1", len(msg.Warnings))
	}
	if msg.Warnings[0].Field != 2 {
		t.Fatalf("Warnings[0].Field = %d, want 2", msg.Warnings[0].Field)
	}
}

func TestParseSkipUnknownFieldNotSkippable(t *testing.T) {
	t.Parallel()

	schema := iso8583.NewSchema()
	schema.SkipUnknown = true
	// Bit 2 set with no schema entry, but the bytes don't form a valid
	// LLLVAR header, so the field cannot be skipped by length.
	raw := append([]byte("0200"), bitmapBytes(uint64(1)<<62)...)
	raw = append(raw, "XXXhi"...)

	_, err := iso8583.Parse(schema, raw)
	if !errors.Is(err, iso8583.ErrUnknownField) {
		t.Fatalf("Parse() error = %v, want ErrUnknownField", err)
	}
}

func TestAssembleFieldTooLong(t *testing.T) {
	t.Parallel()

	schema := iso8583.DefaultSchema()
	msg := iso8583.New("0200")
	msg.Set(iso8583.FieldProcessingCode, "0000000") // fixed(6), 7 chars

	_, err := iso8583.Assemble(schema, msg)
	if !errors.Is(err, iso8583.ErrMalformedMessage) {
		t.Fatalf("Assemble() error = %v, want ErrMalformedMessage", err)
	}
}

func TestAssembleSecondaryBitmapBit(t *testing.T) {
	t.Parallel()

	schema := iso8583.DefaultSchema()
	msg := iso8583.New("0210")
	msg.Set(iso8583.FieldSTAN, "000001")
	msg.Set(128, "\x00\x00\x00\x00\x00\x00\x00\x00")

	raw, err := iso8583.Assemble(schema, msg)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	// Bit 1 of the primary bitmap must be set when any field > 64 is present.
	primaryByte := raw[4]
	if primaryByte&0x80 == 0 {
		t.Fatalf("primary bitmap first byte = %#x, want high bit set", primaryByte)
	}
}
