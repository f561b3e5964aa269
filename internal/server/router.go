package server

import (
	"net"
	"sync"

	"github.com/dantte-lp/isofep/internal/framer"
)

// clientEntry holds the two halves of one institution id's connection
// pair: the receive-side socket and the matching send-side socket.
// Either half may be nil while only one side has registered.
type clientEntry struct {
	receiveConn *framer.Framer
	receiveNet  net.Conn
	sendConn    *framer.Framer
	sendNet     net.Conn
}

// Router maps an institution id (field 32) to its pair of client
// sockets. Populated lazily on first message carrying field 32.
type Router struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]*clientEntry)}
}

// RegisterReceive associates instID with a receive-side socket,
// creating the entry if one does not already exist.
func (r *Router) RegisterReceive(instID string, fr *framer.Framer, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(instID)
	e.receiveConn = fr
	e.receiveNet = conn
}

// RegisterSend associates instID with a send-side socket.
func (r *Router) RegisterSend(instID string, fr *framer.Framer, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(instID)
	e.sendConn = fr
	e.sendNet = conn
}

func (r *Router) entryLocked(instID string) *clientEntry {
	e, ok := r.clients[instID]
	if !ok {
		e = &clientEntry{}
		r.clients[instID] = e
	}
	return e
}

// UnregisterReceive clears the receive-side socket for instID, if fr
// is still the currently registered one (guards against a stale
// unregister racing a reconnect). Removes the entry entirely once both
// halves are gone.
func (r *Router) UnregisterReceive(instID string, fr *framer.Framer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[instID]
	if !ok || e.receiveConn != fr {
		return
	}
	e.receiveConn = nil
	e.receiveNet = nil
	r.pruneLocked(instID, e)
}

// UnregisterSend clears the send-side socket for instID.
func (r *Router) UnregisterSend(instID string, fr *framer.Framer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[instID]
	if !ok || e.sendConn != fr {
		return
	}
	e.sendConn = nil
	e.sendNet = nil
	r.pruneLocked(instID, e)
}

func (r *Router) pruneLocked(instID string, e *clientEntry) {
	if e.receiveConn == nil && e.sendConn == nil {
		delete(r.clients, instID)
	}
}

// SendConn returns the send-side Framer registered for instID, if any.
// It does not check the socket's liveness; a Framer stays registered
// until its connection handler unregisters it.
func (r *Router) SendConn(instID string) (*framer.Framer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[instID]
	if !ok || e.sendConn == nil {
		return nil, false
	}
	return e.sendConn, true
}

// AnySendConn returns an arbitrary registered send-side Framer, used
// by the dispatcher's fallback path when the targeted institution id
// has no active send socket.
func (r *Router) AnySendConn() (instID string, fr *framer.Framer, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.clients {
		if e.sendConn != nil {
			return id, e.sendConn, true
		}
	}
	return "", nil, false
}

// AllSendConns returns every currently registered send-side Framer,
// keyed by institution id, for Broadcast.
func (r *Router) AllSendConns() map[string]*framer.Framer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*framer.Framer, len(r.clients))
	for id, e := range r.clients {
		if e.sendConn != nil {
			out[id] = e.sendConn
		}
	}
	return out
}

// Len reports the number of institution ids with at least one
// registered socket.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
