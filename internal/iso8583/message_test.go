package iso8583_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mti     string
		wantErr bool
	}{
		{name: "valid request", mti: "0200", wantErr: false},
		{name: "valid network management", mti: "0800", wantErr: false},
		{name: "too short", mti: "020", wantErr: true},
		{name: "too long", mti: "02000", wantErr: true},
		{name: "non-numeric", mti: "02a0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := iso8583.New(tt.mti).Validate()
			if tt.wantErr && !errors.Is(err, iso8583.ErrInvalidMTI) {
				t.Fatalf("Validate(%q) = %v, want ErrInvalidMTI", tt.mti, err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate(%q) = %v, want nil", tt.mti, err)
			}
		})
	}
}

func TestNetworkManagementConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     *iso8583.Message
		wantNMC string
	}{
		{name: "sign-on", msg: iso8583.NewSignOn("000001"), wantNMC: iso8583.NetworkMgmtSignOn},
		{name: "sign-off", msg: iso8583.NewSignOff("000002"), wantNMC: iso8583.NetworkMgmtSignOff},
		{name: "echo", msg: iso8583.NewEcho("000003"), wantNMC: iso8583.NetworkMgmtEcho},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.msg.MTI() != "0800" {
				t.Fatalf("MTI() = %q, want 0800", tt.msg.MTI())
			}
			if !tt.msg.IsNetworkManagement() {
				t.Fatal("IsNetworkManagement() = false, want true")
			}
			if got := tt.msg.MustGet(iso8583.FieldNetworkMgmtCode); got != tt.wantNMC {
				t.Fatalf("field 70 = %q, want %q", got, tt.wantNMC)
			}
		})
	}
}

func TestIsApproved(t *testing.T) {
	t.Parallel()

	msg := iso8583.New("0210")
	if msg.IsApproved() {
		t.Fatal("IsApproved() = true on message with no field 39")
	}

	msg.Set(iso8583.FieldResponseCode, "05")
	if msg.IsApproved() {
		t.Fatal("IsApproved() = true for response code 05")
	}

	msg.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
	if !msg.IsApproved() {
		t.Fatal("IsApproved() = false for response code 00")
	}
}

// TestCreateResponse verifies that the response MTI is the request
// MTI with the message-function digit incremented by one, and that
// fields 7, 11, and 37 are copied verbatim when present.
func TestCreateResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reqMTI  string
		wantMTI string
	}{
		{name: "authorization", reqMTI: "0200", wantMTI: "0210"},
		{name: "reversal", reqMTI: "0400", wantMTI: "0410"},
		{name: "network management", reqMTI: "0800", wantMTI: "0810"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := iso8583.New(tt.reqMTI)
			req.Set(iso8583.FieldTransmissionDT, "0730120000")
			req.Set(iso8583.FieldSTAN, "000123")
			req.Set(iso8583.FieldRRN, "123456789012")
			req.Set(iso8583.FieldPAN, "4111111111111111")

			resp, err := iso8583.CreateResponse(req)
			if err != nil {
				t.Fatalf("CreateResponse() error = %v", err)
			}
			if resp.MTI() != tt.wantMTI {
				t.Fatalf("MTI() = %q, want %q", resp.MTI(), tt.wantMTI)
			}
			if got := resp.STAN(); got != "000123" {
				t.Fatalf("STAN() = %q, want 000123", got)
			}
			if got, _ := resp.Get(iso8583.FieldRRN); got != "123456789012" {
				t.Fatalf("field 37 = %q, want 123456789012", got)
			}
			if _, ok := resp.Get(iso8583.FieldPAN); ok {
				t.Fatal("field 2 (PAN) was copied into the response, want absent")
			}
		})
	}
}

func TestCreateResponseInvalidMTI(t *testing.T) {
	t.Parallel()

	_, err := iso8583.CreateResponse(iso8583.New("abc"))
	if !errors.Is(err, iso8583.ErrInvalidMTI) {
		t.Fatalf("CreateResponse() error = %v, want ErrInvalidMTI", err)
	}
}
