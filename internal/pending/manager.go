package pending

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

// Result is delivered exactly once on the channel returned by
// Register: either Message is set (a response arrived) or Err is set
// (the request was cancelled or timed out).
type Result struct {
	Message *iso8583.Message
	Err     error
}

// entry is one in-flight request: a single-fire channel, the timer
// that expires it, and a settled guard so Complete, Cancel, and the
// timer's own expiry goroutine race safely to exactly one winner.
type entry struct {
	ch      chan Result
	timer   *time.Timer
	settled atomic.Bool
}

func (e *entry) settle(res Result) bool {
	if !e.settled.CompareAndSwap(false, true) {
		return false
	}
	e.timer.Stop()
	e.ch <- res
	return true
}

// Manager is the STAN-indexed correlation table: one entry per
// in-flight request, keyed by its six-digit STAN.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewManager creates an empty, open Manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Register reserves stan for an in-flight request and returns a
// channel that receives exactly one Result: the matching response (via
// Complete), a cancellation (via Cancel/CancelAll/Close), or
// ErrTimeout once timeout elapses. It returns ErrDuplicateStan if stan
// is already registered, or ErrManagerClosed if called after Close.
func (m *Manager) Register(stan string, timeout time.Duration) (<-chan Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, exists := m.entries[stan]; exists {
		return nil, ErrDuplicateStan
	}

	e := &entry{ch: make(chan Result, 1)}
	e.timer = time.AfterFunc(timeout, func() {
		m.mu.Lock()
		if m.entries[stan] == e {
			delete(m.entries, stan)
		}
		m.mu.Unlock()
		e.settle(Result{Err: ErrTimeout})
	})
	m.entries[stan] = e

	return e.ch, nil
}

// Complete delivers msg to the waiter registered under msg's STAN. It
// reports whether a waiter existed; the caller treats a false return
// as an unsolicited message.
func (m *Manager) Complete(stan string, msg *iso8583.Message) bool {
	e := m.remove(stan)
	if e == nil {
		return false
	}
	return e.settle(Result{Message: msg})
}

// Cancel delivers cause to the waiter registered under stan, if any,
// and reports whether one existed.
func (m *Manager) Cancel(stan string, cause error) bool {
	e := m.remove(stan)
	if e == nil {
		return false
	}
	return e.settle(Result{Err: cause})
}

// CancelAll delivers cause to every currently registered waiter. Used
// on connection loss, where no further responses on any outstanding
// STAN will ever arrive.
func (m *Manager) CancelAll(cause error) {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for stan, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, stan)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.settle(Result{Err: cause})
	}
}

// Close cancels every outstanding waiter with ErrManagerClosed and
// rejects further Register calls.
func (m *Manager) Close() {
	m.CancelAll(ErrManagerClosed)
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Len reports the number of currently in-flight entries, for metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) remove(stan string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[stan]
	if !ok {
		return nil
	}
	delete(m.entries, stan)
	return e
}
