package fisc_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/isofep/internal/fisc"
	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
)

// fakeServer accepts one connection on each of two listeners: reqLn
// plays the role of the FEP's send-side counterpart (it reads the
// requests the client writes), respLn plays the receive-side
// counterpart (it writes the responses the client reads). This
// mirrors the real server's dual-port shape without pulling in the
// server package, keeping this package's tests independent of it.
type fakeServer struct {
	reqLn, respLn net.Listener
	schema        *iso8583.Schema
	cfg           framer.Config

	mu       sync.Mutex
	respConn net.Conn
	respFr   *framer.Framer

	skipStans map[string]bool
	reorder   func(reqs []*iso8583.Message) []*iso8583.Message
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	reqLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen reqLn: %v", err)
	}
	respLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen respLn: %v", err)
	}
	return &fakeServer{
		reqLn:     reqLn,
		respLn:    respLn,
		schema:    iso8583.DefaultSchema(),
		cfg:       framer.DefaultConfig(),
		skipStans: make(map[string]bool),
	}
}

func (s *fakeServer) addrs() (reqAddr, respAddr string) {
	return s.reqLn.Addr().String(), s.respLn.Addr().String()
}

// run accepts both sockets, reads count requests, and answers each with
// an approved response, echoing field 70 when present. Requests are
// answered as they arrive. If reorder is set, network-management
// requests (MTI 0800) are still answered at once, while every other
// request is buffered until all count requests are read and then
// answered in the order reorder returns.
func (s *fakeServer) run(t *testing.T, count int) {
	t.Helper()

	reqConn, err := s.reqLn.Accept()
	if err != nil {
		t.Errorf("accept reqLn: %v", err)
		return
	}
	respConn, err := s.respLn.Accept()
	if err != nil {
		t.Errorf("accept respLn: %v", err)
		return
	}

	reqFr, err := framer.New(reqConn, s.cfg)
	if err != nil {
		t.Errorf("new reqFr: %v", err)
		return
	}
	respFr, err := framer.New(respConn, s.cfg)
	if err != nil {
		t.Errorf("new respFr: %v", err)
		return
	}
	s.mu.Lock()
	s.respConn, s.respFr = respConn, respFr
	s.mu.Unlock()

	respond := func(req *iso8583.Message) bool {
		if s.skipStans[req.STAN()] {
			return true
		}
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			t.Errorf("CreateResponse: %v", err)
			return false
		}
		resp.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
		if v, ok := req.Get(iso8583.FieldNetworkMgmtCode); ok {
			resp.Set(iso8583.FieldNetworkMgmtCode, v)
		}
		out, err := iso8583.Assemble(s.schema, resp)
		if err != nil {
			t.Errorf("Assemble: %v", err)
			return false
		}
		if err := respFr.WriteMessage(context.Background(), out); err != nil {
			t.Errorf("respFr.WriteMessage: %v", err)
			return false
		}
		return true
	}

	var reqs []*iso8583.Message
	for i := 0; i < count; i++ {
		raw, err := reqFr.ReadMessage(context.Background())
		if err != nil {
			t.Errorf("reqFr.ReadMessage: %v", err)
			return
		}
		msg, err := iso8583.Parse(s.schema, raw)
		if err != nil {
			t.Errorf("iso8583.Parse: %v", err)
			return
		}
		if s.reorder == nil || msg.MTI() == "0800" {
			if !respond(msg) {
				return
			}
			continue
		}
		reqs = append(reqs, msg)
	}

	if s.reorder != nil {
		reqs = s.reorder(reqs)
	}

	for _, req := range reqs {
		if !respond(req) {
			return
		}
	}
}

func (s *fakeServer) close() {
	_ = s.reqLn.Close()
	_ = s.respLn.Close()
}

func newTestClient(t *testing.T, sendAddr, recvAddr string) *fisc.Client {
	t.Helper()
	c, err := fisc.NewClient(fisc.Config{
		Mode:            fisc.ModeDual,
		FailureStrategy: fisc.FailWhenBothDown,
		SendAddr:        sendAddr,
		ReceiveAddr:     recvAddr,
		Framer:          framer.DefaultConfig(),
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     2 * time.Second,
		SignOnTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

// TestClientHappyPathEcho verifies the happy path: connect, sign on,
// send an echo, receive an approved response with field 70 echoed.
func TestClientHappyPathEcho(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	defer srv.close()
	reqAddr, respAddr := srv.addrs()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.run(t, 2) // sign-on + echo
	}()

	client := newTestClient(t, reqAddr, respAddr)
	defer client.Close()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.SignOn(ctx); err != nil {
		t.Fatalf("SignOn() error = %v", err)
	}
	if client.State() != fisc.SignedOn {
		t.Fatalf("State() = %s, want SignedOn", client.State())
	}

	echo := iso8583.NewEcho("000002")
	resp, err := client.SendAndReceive(ctx, echo, 2*time.Second)
	if err != nil {
		t.Fatalf("SendAndReceive() error = %v", err)
	}
	if !resp.IsApproved() {
		t.Fatalf("response code = %q, want approved", resp.MustGet(iso8583.FieldResponseCode))
	}
	if got, _ := resp.Get(iso8583.FieldNetworkMgmtCode); got != iso8583.NetworkMgmtEcho {
		t.Fatalf("field 70 = %q, want %q", got, iso8583.NetworkMgmtEcho)
	}

	<-done
}

// TestClientSTANCorrelationInterleaving verifies that three overlapping
// SendAndReceive calls answered out of order by the server each
// complete with their own STAN's response.
func TestClientSTANCorrelationInterleaving(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	defer srv.close()
	reqAddr, respAddr := srv.addrs()

	srv.reorder = func(reqs []*iso8583.Message) []*iso8583.Message {
		// The sign-on is answered on arrival; reqs holds the three 0200
		// requests in arrival order. Answer the first one last.
		if len(reqs) != 3 {
			return reqs
		}
		return []*iso8583.Message{reqs[1], reqs[2], reqs[0]}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.run(t, 4)
	}()

	client := newTestClient(t, reqAddr, respAddr)
	defer client.Close()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.SignOn(ctx); err != nil {
		t.Fatalf("SignOn() error = %v", err)
	}

	stans := []string{"100001", "100002", "100003"}
	type result struct {
		stan string
		resp *iso8583.Message
		err  error
	}
	results := make(chan result, len(stans))

	var wg sync.WaitGroup
	for _, stan := range stans {
		wg.Add(1)
		go func(stan string) {
			defer wg.Done()
			req := iso8583.New("0200")
			req.Set(iso8583.FieldSTAN, stan)
			resp, err := client.SendAndReceive(ctx, req, 2*time.Second)
			results <- result{stan: stan, resp: resp, err: err}
		}(stan)
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			t.Fatalf("stan %s: SendAndReceive() error = %v", r.stan, r.err)
		}
		if got := r.resp.STAN(); got != r.stan {
			t.Fatalf("stan %s: response STAN = %q", r.stan, got)
		}
	}

	<-done
}

// TestClientTimeout verifies that a request the server never answers
// fails with a Timeout-flavored error after the supplied deadline.
func TestClientTimeout(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	defer srv.close()
	reqAddr, respAddr := srv.addrs()
	srv.skipStans["200001"] = true

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.run(t, 2) // sign-on + the skipped request
	}()

	client := newTestClient(t, reqAddr, respAddr)
	defer client.Close()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.SignOn(ctx); err != nil {
		t.Fatalf("SignOn() error = %v", err)
	}

	req := iso8583.New("0200")
	req.Set(iso8583.FieldSTAN, "200001")

	start := time.Now()
	_, err := client.SendAndReceive(ctx, req, 200*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("SendAndReceive() error = nil, want a timeout error")
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("SendAndReceive() returned after %s, want >= 200ms", elapsed)
	}

	<-done
}
