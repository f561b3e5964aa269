package pending

import (
	"fmt"
	"sync"
)

// stanSpace is the full range of a six-digit STAN, 000000-999999.
const stanSpace = 1_000_000

// StanAllocator generates System Trace Audit Numbers: six ASCII
// digits, unique among the values currently in flight. STANs are a
// small, densely-used 1,000,000-value range expected to wrap around
// during normal operation, so allocation is a monotonic counter with
// collision retry rather than random sampling.
type StanAllocator struct {
	mu        sync.Mutex
	next      int
	allocated map[string]struct{}
}

// NewStanAllocator creates an allocator starting at STAN "000001".
func NewStanAllocator() *StanAllocator {
	return &StanAllocator{allocated: make(map[string]struct{})}
}

// Next returns the next unallocated STAN, formatted as six ASCII
// digits, and marks it allocated. It retries forward through the
// counter on collision with a still in-flight value, up to the full
// stanSpace, before returning ErrStanSpaceExhausted.
func (a *StanAllocator) Next() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 0; attempt < stanSpace; attempt++ {
		a.next = (a.next + 1) % stanSpace
		stan := fmt.Sprintf("%06d", a.next)
		if _, exists := a.allocated[stan]; exists {
			continue
		}
		a.allocated[stan] = struct{}{}
		return stan, nil
	}

	return "", ErrStanSpaceExhausted
}

// Release frees stan for future reuse. Callers release a STAN once
// its Manager entry settles (response, cancel, or timeout), since
// collisions are only a concern among concurrently in-flight
// requests.
func (a *StanAllocator) Release(stan string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, stan)
}

// IsAllocated reports whether stan is currently allocated.
func (a *StanAllocator) IsAllocated(stan string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, exists := a.allocated[stan]
	return exists
}
