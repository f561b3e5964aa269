package server_test

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
	"github.com/dantte-lp/isofep/internal/server"
)

func newTestServer(t *testing.T) (*server.Server, string, string) {
	t.Helper()

	recvLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen receive: %v", err)
	}
	sendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen send: %v", err)
	}
	recvAddr, sendAddr := recvLn.Addr().String(), sendLn.Addr().String()
	_ = recvLn.Close()
	_ = sendLn.Close()

	srv, err := server.New(server.Config{
		Mode:                  server.ModeDual,
		ReceiveAddr:           recvAddr,
		SendAddr:              sendAddr,
		Framer:                framer.DefaultConfig(),
		ResponseQueueCapacity: 16,
		ResponseQueuePolicy:   server.DropOldest,
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	return srv, recvAddr, sendAddr
}

func dialFramer(t *testing.T, addr string) (*framer.Framer, net.Conn) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	fr, err := framer.New(conn, framer.DefaultConfig())
	if err != nil {
		t.Fatalf("framer.New(): %v", err)
	}
	return fr, conn
}

// TestServerRoutesResponseByInstitutionID verifies that a request
// carrying an institution id on the receive port gets its response
// routed to the matching send-port socket.
func TestServerRoutesResponseByInstitutionID(t *testing.T) {
	t.Parallel()

	srv, recvAddr, sendAddr := newTestServer(t)
	srv.RegisterHandler("0200", func(req *iso8583.Message) (*iso8583.Message, error) {
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			return nil, err
		}
		resp.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
		return resp, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = srv.Run(ctx)
	}()
	waitForListener(t, recvAddr)
	waitForListener(t, sendAddr)

	sendFr, sendConn := dialFramer(t, sendAddr)
	defer sendConn.Close()
	idMsg := iso8583.New("0800")
	idMsg.Set(iso8583.FieldAcquiringInstID, "TESTBANK")
	raw, err := iso8583.Assemble(iso8583.DefaultSchema(), idMsg)
	if err != nil {
		t.Fatalf("assemble id message: %v", err)
	}
	if err := sendFr.WriteMessage(ctx, raw); err != nil {
		t.Fatalf("write id message: %v", err)
	}

	recvFr, recvConn := dialFramer(t, recvAddr)
	defer recvConn.Close()
	req := iso8583.New("0200")
	req.Set(iso8583.FieldSTAN, "000001")
	req.Set(iso8583.FieldAcquiringInstID, "TESTBANK")
	reqRaw, err := iso8583.Assemble(iso8583.DefaultSchema(), req)
	if err != nil {
		t.Fatalf("assemble request: %v", err)
	}
	if err := recvFr.WriteMessage(ctx, reqRaw); err != nil {
		t.Fatalf("write request: %v", err)
	}

	respCtx, respCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer respCancel()
	respRaw, err := sendFr.ReadMessage(respCtx)
	if err != nil {
		t.Fatalf("read response on send socket: %v", err)
	}
	resp, err := iso8583.Parse(iso8583.DefaultSchema(), respRaw)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.IsApproved() {
		t.Fatalf("response code = %q, want approved", resp.MustGet(iso8583.FieldResponseCode))
	}
	if resp.STAN() != "000001" {
		t.Fatalf("response STAN = %q, want %q", resp.STAN(), "000001")
	}

	cancel()
	<-runDone
}

// TestServerDefaultHandlerRejectsUnknownMTI verifies that a request
// whose MTI has no registered handler gets a "12" response.
func TestServerDefaultHandlerRejectsUnknownMTI(t *testing.T) {
	t.Parallel()

	srv, recvAddr, sendAddr := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = srv.Run(ctx)
	}()
	waitForListener(t, recvAddr)
	waitForListener(t, sendAddr)

	sendFr, sendConn := dialFramer(t, sendAddr)
	defer sendConn.Close()
	idMsg := iso8583.New("0800")
	idMsg.Set(iso8583.FieldAcquiringInstID, "TESTBANK2")
	raw, _ := iso8583.Assemble(iso8583.DefaultSchema(), idMsg)
	if err := sendFr.WriteMessage(ctx, raw); err != nil {
		t.Fatalf("write id message: %v", err)
	}

	recvFr, recvConn := dialFramer(t, recvAddr)
	defer recvConn.Close()
	req := iso8583.New("0400") // no handler registered for reversal
	req.Set(iso8583.FieldSTAN, "000002")
	req.Set(iso8583.FieldAcquiringInstID, "TESTBANK2")
	reqRaw, _ := iso8583.Assemble(iso8583.DefaultSchema(), req)
	if err := recvFr.WriteMessage(ctx, reqRaw); err != nil {
		t.Fatalf("write request: %v", err)
	}

	respCtx, respCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer respCancel()
	respRaw, err := sendFr.ReadMessage(respCtx)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp, err := iso8583.Parse(iso8583.DefaultSchema(), respRaw)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if code, _ := resp.ResponseCode(); code != "12" {
		t.Fatalf("response code = %q, want %q", code, "12")
	}

	cancel()
	<-runDone
}

// TestServerSurvivesBadLengthFrame verifies that a single frame with a
// length prefix outside the configured bounds does not close the
// connection: the server discards it and keeps reading, so a
// well-formed request on the same socket right after it still gets a
// response.
func TestServerSurvivesBadLengthFrame(t *testing.T) {
	t.Parallel()

	srv, recvAddr, sendAddr := newTestServer(t)
	srv.RegisterHandler("0200", func(req *iso8583.Message) (*iso8583.Message, error) {
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			return nil, err
		}
		resp.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
		return resp, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = srv.Run(ctx)
	}()
	waitForListener(t, recvAddr)
	waitForListener(t, sendAddr)

	sendFr, sendConn := dialFramer(t, sendAddr)
	defer sendConn.Close()
	idMsg := iso8583.New("0800")
	idMsg.Set(iso8583.FieldAcquiringInstID, "TESTBANK3")
	idRaw, _ := iso8583.Assemble(iso8583.DefaultSchema(), idMsg)
	if err := sendFr.WriteMessage(ctx, idRaw); err != nil {
		t.Fatalf("write id message: %v", err)
	}

	recvFr, recvConn := dialFramer(t, recvAddr)
	defer recvConn.Close()

	// A frame declaring a body shorter than framer.DefaultMinLength:
	// below DefaultMinLength, this is rejected without ever being
	// handed to iso8583.Parse.
	var badHeader [2]byte
	binary.BigEndian.PutUint16(badHeader[:], 4)
	if _, err := recvConn.Write(badHeader[:]); err != nil {
		t.Fatalf("write bad length header: %v", err)
	}
	if _, err := recvConn.Write([]byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("write bad frame body: %v", err)
	}

	req := iso8583.New("0200")
	req.Set(iso8583.FieldSTAN, "000003")
	req.Set(iso8583.FieldAcquiringInstID, "TESTBANK3")
	reqRaw, err := iso8583.Assemble(iso8583.DefaultSchema(), req)
	if err != nil {
		t.Fatalf("assemble request: %v", err)
	}
	if err := recvFr.WriteMessage(ctx, reqRaw); err != nil {
		t.Fatalf("write request: %v", err)
	}

	respCtx, respCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer respCancel()
	respRaw, err := sendFr.ReadMessage(respCtx)
	if err != nil {
		t.Fatalf("read response on send socket: %v", err)
	}
	resp, err := iso8583.Parse(iso8583.DefaultSchema(), respRaw)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.IsApproved() {
		t.Fatalf("response code = %q, want approved", resp.MustGet(iso8583.FieldResponseCode))
	}
	if resp.STAN() != "000003" {
		t.Fatalf("response STAN = %q, want %q", resp.STAN(), "000003")
	}

	cancel()
	<-runDone
}

// waitForListener polls until addr accepts a connection or the test
// times out; Server.Run's listener isn't guaranteed bound the instant
// the goroutine starts.
func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listener at %s never came up", addr)
}
