// Package iso8583 implements the ISO 8583 message data model and a
// schema-driven codec: parsing wire bytes into a field map and
// assembling the inverse.
package iso8583

import "fmt"

// Well-known field indices consumed by the FEP core.
const (
	FieldPAN               = 2
	FieldProcessingCode    = 3
	FieldAmount            = 4
	FieldTransmissionDT    = 7
	FieldSTAN              = 11
	FieldLocalTime         = 12
	FieldLocalDate         = 13
	FieldAcquiringInstID   = 32
	FieldForwardingInstID  = 33
	FieldRRN               = 37
	FieldResponseCode      = 39
	FieldCardAcceptorTID   = 41
	FieldNetworkMgmtCode   = 70
	FieldOriginalDataElems = 90
	FieldMAC               = 128
)

// Network management codes carried in field 70.
const (
	NetworkMgmtSignOn  = "001"
	NetworkMgmtSignOff = "002"
	NetworkMgmtEcho    = "301"
)

// ResponseCodeApproved is the field-39 value meaning success.
const ResponseCodeApproved = "00"

// Warning describes a non-fatal condition noted while decoding a
// message, such as an unknown field skipped by Schema.SkipUnknown.
type Warning struct {
	Field   int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("field %d: %s", w.Field, w.Message)
}

// Message is an ISO 8583 message: an MTI plus a sparse field map. The
// MTI is immutable once the message is constructed; there is
// deliberately no exported setter.
type Message struct {
	mti    string
	Fields map[int]string

	// Warnings accumulates non-fatal conditions noted by Parse, such
	// as unknown fields skipped under Schema.SkipUnknown. It is empty
	// for a message built via New.
	Warnings []Warning
}

// New creates a message with the given four-digit MTI and an empty
// field map. Panics are not used; callers that need validation should
// call Validate.
func New(mti string) *Message {
	return &Message{mti: mti, Fields: make(map[int]string)}
}

// MTI returns the message type indicator.
func (m *Message) MTI() string { return m.mti }

// Validate reports whether the MTI is exactly four ASCII digits.
func (m *Message) Validate() error {
	if len(m.mti) != 4 {
		return fmt.Errorf("mti %q: %w", m.mti, ErrInvalidMTI)
	}
	for _, c := range m.mti {
		if c < '0' || c > '9' {
			return fmt.Errorf("mti %q: %w", m.mti, ErrInvalidMTI)
		}
	}
	return nil
}

// Set stores a field value. Setting a zero-length value still marks
// the field present in the bitmap; callers that mean "absent" should
// not call Set.
func (m *Message) Set(field int, value string) {
	if m.Fields == nil {
		m.Fields = make(map[int]string)
	}
	m.Fields[field] = value
}

// Get returns a field's value and whether it is present.
func (m *Message) Get(field int) (string, bool) {
	v, ok := m.Fields[field]
	return v, ok
}

// MustGet returns a field's value, or "" if absent. Convenience for
// log lines where presence does not matter.
func (m *Message) MustGet(field int) string {
	return m.Fields[field]
}

// STAN returns field 11, the System Trace Audit Number.
func (m *Message) STAN() string { return m.Fields[FieldSTAN] }

// InstitutionID returns field 32, the acquiring institution id used
// for server-side routing.
func (m *Message) InstitutionID() string { return m.Fields[FieldAcquiringInstID] }

// ResponseCode returns field 39 and whether it is present.
func (m *Message) ResponseCode() (string, bool) { return m.Get(FieldResponseCode) }

// IsApproved reports whether field 39 equals "00".
func (m *Message) IsApproved() bool {
	rc, ok := m.ResponseCode()
	return ok && rc == ResponseCodeApproved
}

// IsNetworkManagement reports whether the MTI class is 08xx.
func (m *Message) IsNetworkManagement() bool {
	return len(m.mti) == 4 && m.mti[1] == '8'
}

// IsSignOn reports whether this is a 08xx/001 sign-on message.
func (m *Message) IsSignOn() bool {
	return m.IsNetworkManagement() && m.Fields[FieldNetworkMgmtCode] == NetworkMgmtSignOn
}

// IsSignOff reports whether this is a 08xx/002 sign-off message.
func (m *Message) IsSignOff() bool {
	return m.IsNetworkManagement() && m.Fields[FieldNetworkMgmtCode] == NetworkMgmtSignOff
}

// IsEcho reports whether this is a 08xx/301 echo message.
func (m *Message) IsEcho() bool {
	return m.IsNetworkManagement() && m.Fields[FieldNetworkMgmtCode] == NetworkMgmtEcho
}

// NewSignOn builds a sign-on request (MTI 0800, field 70 = "001") with
// the given STAN.
func NewSignOn(stan string) *Message {
	m := New("0800")
	m.Set(FieldSTAN, stan)
	m.Set(FieldNetworkMgmtCode, NetworkMgmtSignOn)
	return m
}

// NewSignOff builds a sign-off request (MTI 0800, field 70 = "002").
func NewSignOff(stan string) *Message {
	m := New("0800")
	m.Set(FieldSTAN, stan)
	m.Set(FieldNetworkMgmtCode, NetworkMgmtSignOff)
	return m
}

// NewEcho builds a network management echo request (MTI 0800, field
// 70 = "301") with the given STAN.
func NewEcho(stan string) *Message {
	m := New("0800")
	m.Set(FieldSTAN, stan)
	m.Set(FieldNetworkMgmtCode, NetworkMgmtEcho)
	return m
}

// responseMTI increments an MTI's message-function digit by one, the
// ASCII-digit equivalent of adding 0x0010 to the BCD-packed MTI value
// (0200 -> 0210, 0400 -> 0410, 0800 -> 0810).
func responseMTI(mti string) (string, error) {
	if len(mti) != 4 {
		return "", fmt.Errorf("mti %q: %w", mti, ErrInvalidMTI)
	}
	// The third digit is the message function: 0 = request, 1 = response
	// (0200 -> 0210, 0400 -> 0410, 0800 -> 0810). Adding 0x0010 in
	// BCD-packed MTI arithmetic is exactly "increment this digit by one".
	classDigit := mti[2]
	if classDigit < '0' || classDigit > '9' {
		return "", fmt.Errorf("mti %q: %w", mti, ErrInvalidMTI)
	}
	return mti[:2] + string(rune(classDigit+1)) + mti[3:], nil
}

// CreateResponse builds a new message with MTI = requestMTI + 0x0010
// (class bit set) and copies fields 7, 11, and 37 verbatim from req
// when present. The response code (field 39) is never set here —
// callers set it after validating/processing the request.
func CreateResponse(req *Message) (*Message, error) {
	mti, err := responseMTI(req.mti)
	if err != nil {
		return nil, err
	}
	resp := New(mti)
	for _, f := range []int{FieldTransmissionDT, FieldSTAN, FieldRRN} {
		if v, ok := req.Get(f); ok {
			resp.Set(f, v)
		}
	}
	return resp, nil
}
