package framer

import "log/slog"

// Option configures optional Framer parameters.
type Option func(*Framer)

// WithLogger sets the logger used for resync diagnostics. If logger is
// nil, a no-op logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Framer) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithScratchSize sets the initial capacity of the Framer's read
// scratch buffer. Framers grow the buffer on demand, so this only
// avoids early reallocation for callers who know their typical
// message size.
func WithScratchSize(n int) Option {
	return func(f *Framer) {
		if n > 0 {
			f.scratch = make([]byte, 0, n)
		}
	}
}
