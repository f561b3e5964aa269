package pending_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/isofep/internal/pending"
)

func TestStanAllocatorNextIsUniqueAndFormatted(t *testing.T) {
	t.Parallel()

	a := pending.NewStanAllocator()
	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		stan, err := a.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if len(stan) != 6 {
			t.Fatalf("Next() = %q, want 6 digits", stan)
		}
		for _, c := range stan {
			if c < '0' || c > '9' {
				t.Fatalf("Next() = %q, contains non-digit", stan)
			}
		}
		if _, dup := seen[stan]; dup {
			t.Fatalf("Next() returned duplicate %q", stan)
		}
		seen[stan] = struct{}{}
	}
}

func TestStanAllocatorReleaseAllowsReuse(t *testing.T) {
	t.Parallel()

	a := pending.NewStanAllocator()
	stan, err := a.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !a.IsAllocated(stan) {
		t.Fatalf("IsAllocated(%q) = false, want true", stan)
	}

	a.Release(stan)
	if a.IsAllocated(stan) {
		t.Fatalf("IsAllocated(%q) = true after Release, want false", stan)
	}
}

// TestStanAllocatorExhaustion verifies that when every value in the
// 1,000,000-value space is in flight, Next retries the full space and
// then reports ErrStanSpaceExhausted instead of blocking or panicking.
func TestStanAllocatorExhaustion(t *testing.T) {
	t.Parallel()

	a := pending.NewStanAllocator()
	for i := 0; i < 1_000_000; i++ {
		if _, err := a.Next(); err != nil {
			t.Fatalf("Next() error = %v at allocation %d", err, i)
		}
	}

	_, err := a.Next()
	if !errors.Is(err, pending.ErrStanSpaceExhausted) {
		t.Fatalf("Next() error = %v, want ErrStanSpaceExhausted", err)
	}
}
