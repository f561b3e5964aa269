package server

import (
	"net"
	"testing"

	"github.com/dantte-lp/isofep/internal/framer"
)

func newTestFramer(t *testing.T) *framer.Framer {
	t.Helper()
	client, srv := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	fr, err := framer.New(srv, framer.DefaultConfig())
	if err != nil {
		t.Fatalf("framer.New() error = %v", err)
	}
	return fr
}

func TestRouterRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	recvFr := newTestFramer(t)
	sendFr := newTestFramer(t)
	r.RegisterReceive("001122", recvFr, nil)
	r.RegisterSend("001122", sendFr, nil)

	got, ok := r.SendConn("001122")
	if !ok {
		t.Fatal("SendConn() ok = false, want true")
	}
	if got != sendFr {
		t.Fatal("SendConn() returned the wrong Framer")
	}

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRouterUnregisterPrunesEmptyEntry(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	recvFr := newTestFramer(t)
	sendFr := newTestFramer(t)
	r.RegisterReceive("001122", recvFr, nil)
	r.RegisterSend("001122", sendFr, nil)

	r.UnregisterReceive("001122", recvFr)
	if r.Len() != 1 {
		t.Fatalf("Len() after UnregisterReceive = %d, want 1 (send half still registered)", r.Len())
	}

	r.UnregisterSend("001122", sendFr)
	if r.Len() != 0 {
		t.Fatalf("Len() after both unregistered = %d, want 0", r.Len())
	}
}

func TestRouterUnregisterIgnoresStaleFramer(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	first := newTestFramer(t)
	second := newTestFramer(t)

	r.RegisterSend("001122", first, nil)
	r.RegisterSend("001122", second, nil) // reconnect, replaces first

	r.UnregisterSend("001122", first) // stale: should be a no-op
	got, ok := r.SendConn("001122")
	if !ok || got != second {
		t.Fatal("stale UnregisterSend() clobbered the current registration")
	}
}

func TestRouterAnySendConn(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	if _, _, ok := r.AnySendConn(); ok {
		t.Fatal("AnySendConn() on empty router returned ok=true")
	}

	fr := newTestFramer(t)
	r.RegisterSend("001122", fr, nil)
	id, _, ok := r.AnySendConn()
	if !ok {
		t.Fatal("AnySendConn() returned ok=false after registration")
	}
	if id != "001122" {
		t.Fatalf("AnySendConn() inst id = %q, want %q", id, "001122")
	}
}

func TestRouterAllSendConns(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	r.RegisterSend("001122", newTestFramer(t), nil)
	r.RegisterSend("003344", newTestFramer(t), nil)
	r.RegisterReceive("005566", newTestFramer(t), nil) // receive-only, should not appear

	all := r.AllSendConns()
	if len(all) != 2 {
		t.Fatalf("AllSendConns() len = %d, want 2", len(all))
	}
	if _, ok := all["005566"]; ok {
		t.Fatal("AllSendConns() included a receive-only institution id")
	}
}
