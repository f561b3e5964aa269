package iso8583

import "fmt"

// FieldKind identifies how a field's length is carried on the wire.
type FieldKind int

const (
	// Fixed fields carry no length header; Length is the exact field
	// width in characters.
	Fixed FieldKind = iota
	// LLVAR fields are preceded by a 2-digit ASCII length header.
	LLVAR
	// LLLVAR fields are preceded by a 3-digit ASCII length header.
	LLLVAR
)

func (k FieldKind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case LLVAR:
		return "llvar"
	case LLLVAR:
		return "lllvar"
	default:
		return "unknown"
	}
}

// CharEncoding identifies the wire encoding of a field's data.
type CharEncoding int

const (
	// ASCII is single-byte-per-character, used for nearly every field
	// in the FEP's supported message set.
	ASCII CharEncoding = iota
	// Binary passes field bytes through unchanged (e.g. field 128, MAC).
	Binary
)

// FieldSpec describes one field slot in a Schema.
type FieldSpec struct {
	Kind     FieldKind
	Length   int // max length for LLVAR/LLLVAR, exact width for Fixed
	Encoding CharEncoding
}

// Schema is a field table indexed 1..128, mirroring how a packager
// describes message layout (grounded on the mkadit-iso8583 field
// table). A nil entry at index i means field i has no known spec;
// Parse's behavior for an unknown field is controlled by
// Schema.SkipUnknown.
type Schema struct {
	fields [129]*FieldSpec

	// SkipUnknown, when true, makes Parse tolerate a bitmap bit with no
	// schema entry instead of returning ErrUnknownField outright. The
	// field is skipped by its self-describing LLLVAR length header (the
	// convention used by reserved/private ISO 8583 fields) and recorded
	// in the resulting Message's Warnings. A field that turns out not to
	// carry a valid LLLVAR header cannot be skipped — there is no way to
	// know a fixed-width field's length without a schema entry — and
	// Parse still returns ErrUnknownField for it.
	SkipUnknown bool
}

// NewSchema returns an empty schema with no field specs set.
func NewSchema() *Schema {
	return &Schema{}
}

// Set installs the spec for a field index (1-128). It panics on an
// out-of-range index since schema construction happens once at
// startup from trusted, static data.
func (s *Schema) Set(field int, spec FieldSpec) {
	if field < 1 || field > 128 {
		panic(fmt.Sprintf("iso8583: field %d out of range", field))
	}
	s.fields[field] = &spec
}

// Get returns the spec for a field index and whether it is present.
func (s *Schema) Get(field int) (FieldSpec, bool) {
	if field < 1 || field > 128 {
		return FieldSpec{}, false
	}
	spec := s.fields[field]
	if spec == nil {
		return FieldSpec{}, false
	}
	return *spec, true
}

// DefaultSchema returns the standard ISO 8583 field table covering the
// fields the FEP core understands: PAN, processing code, amounts,
// trace/reference numbers, response code, institution routing ids,
// network management code, and the MAC trailer. Field 1 (secondary
// bitmap) is handled directly by the codec and is never looked up
// through the schema.
func DefaultSchema() *Schema {
	s := NewSchema()
	fixed := func(field, length int) { s.Set(field, FieldSpec{Kind: Fixed, Length: length, Encoding: ASCII}) }
	llvar := func(field, maxLength int) { s.Set(field, FieldSpec{Kind: LLVAR, Length: maxLength, Encoding: ASCII}) }
	lllvar := func(field, maxLength int) { s.Set(field, FieldSpec{Kind: LLLVAR, Length: maxLength, Encoding: ASCII}) }

	llvar(2, 19)    // Primary Account Number
	fixed(3, 6)     // Processing Code
	fixed(4, 12)    // Transaction Amount
	fixed(5, 12)    // Settlement Amount
	fixed(6, 12)    // Cardholder Billing Amount
	fixed(7, 10)    // Transmission Date/Time (MMDDhhmmss)
	fixed(8, 8)     // Cardholder Billing Fee
	fixed(9, 8)     // Settlement Conversion Rate
	fixed(10, 8)    // Cardholder Billing Conversion Rate
	fixed(11, 6)    // System Trace Audit Number
	fixed(12, 6)    // Local Transaction Time (hhmmss)
	fixed(13, 4)    // Local Transaction Date (MMDD)
	fixed(14, 4)    // Expiration Date
	fixed(15, 4)    // Settlement Date
	fixed(18, 4)    // Merchant Category Code
	fixed(19, 3)    // Acquiring Institution Country Code
	fixed(22, 3)    // Point of Service Entry Mode
	fixed(23, 3)    // Application PAN Sequence Number
	fixed(25, 2)    // Point of Service Condition Code
	fixed(26, 2)    // Point of Service Capture Code
	fixed(28, 9)    // Transaction Fee Amount
	fixed(30, 9)    // Settlement Fee Amount
	llvar(32, 11)   // Acquiring Institution ID
	llvar(33, 11)   // Forwarding Institution ID
	llvar(35, 37)   // Track 2 Data
	fixed(37, 12)   // Retrieval Reference Number
	fixed(38, 6)    // Authorization ID Response
	fixed(39, 2)    // Response Code
	fixed(40, 3)    // Service Restriction Code
	fixed(41, 8)    // Card Acceptor Terminal ID
	fixed(42, 15)   // Card Acceptor ID Code
	fixed(43, 40)   // Card Acceptor Name/Location
	llvar(44, 25)   // Additional Response Data
	llvar(45, 76)   // Track 1 Data
	lllvar(48, 999) // Additional Data - Private
	fixed(49, 3)    // Transaction Currency Code
	fixed(50, 3)    // Settlement Currency Code
	fixed(51, 3)    // Cardholder Billing Currency Code
	fixed(52, 16)   // Personal ID Number Data
	fixed(53, 16)   // Security Related Control Information
	lllvar(54, 120) // Additional Amounts
	lllvar(55, 999) // ICC Data
	lllvar(56, 35)  // Original Data Elements
	lllvar(57, 3)   // Authorization Life Cycle Code
	lllvar(58, 11)  // Authorizing Agent Institution ID
	lllvar(59, 999) // Transport Data
	lllvar(60, 999) // Reserved National
	lllvar(61, 999) // Reserved Private
	lllvar(62, 999) // Reserved Private
	lllvar(63, 999) // Reserved Private
	fixed(70, 3)    // Network Management Information Code
	fixed(90, 42)   // Original Data Elements (fixed-width echo of 7/11/32/33/37)
	fixed(95, 42)   // Replacement Amounts
	llvar(102, 28)  // Account Identification 1
	llvar(103, 28)  // Account Identification 2
	s.Set(128, FieldSpec{Kind: Fixed, Length: 8, Encoding: Binary}) // Message Authentication Code

	return s
}
