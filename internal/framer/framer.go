package framer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// deadlineSetter is implemented by net.Conn; Framer uses it, when
// present, to unblock a pending Read/Write on context cancellation.
type deadlineSetter interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Framer frames length-prefixed messages over an io.Reader/io.Writer
// pair. When the underlying pair also implements deadlineSetter (as
// net.Conn does), ReadMessage and WriteMessage honor context
// cancellation by forcing the blocked I/O call to return.
type Framer struct {
	cfg Config
	r   io.Reader
	w   io.Writer
	dl  deadlineSetter

	mu      sync.Mutex
	scratch []byte // re-entrant partial-frame buffer, retained across calls
	closed  bool

	logger *slog.Logger
}

// New wraps conn (or any io.ReadWriter) in a Framer configured by cfg.
func New(rw io.ReadWriter, cfg Config, opts ...Option) (*Framer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Framer{
		cfg:    cfg,
		r:      rw,
		w:      rw,
		logger: slog.New(slog.DiscardHandler),
	}
	if dl, ok := rw.(deadlineSetter); ok {
		f.dl = dl
	}
	if conn, ok := rw.(net.Conn); ok {
		f.dl = conn
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close marks the Framer closed; subsequent ReadMessage/WriteMessage
// calls return ErrClosed. It does not close the underlying conn,
// which the caller owns.
func (f *Framer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// ReadMessage decodes and returns one frame's body. On a truncated
// frame it blocks reading further bytes from the underlying reader;
// callers wrapping a bare io.Reader in tests resume a short read by
// calling ReadMessage again once more bytes are available, since the
// scratch buffer persists across calls.
func (f *Framer) ReadMessage(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	stopWatch := f.watchContext(ctx, f.dl)
	defer stopWatch()

	header, err := f.fillExactly(f.cfg.Width)
	if err != nil {
		return nil, err
	}

	length, err := decodeLength(header, f.cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decode length prefix: %w", err)
	}
	if f.cfg.Inclusive {
		length -= f.cfg.Width
	}

	if length < 0 || length < f.cfg.MinLength || length > f.cfg.MaxLength {
		discarded := len(f.scratch)
		f.scratch = f.scratch[:0]
		f.logger.Warn("framer: resync on bad frame length", "length", length, "discarded", discarded)
		return nil, &ResyncError{Discarded: discarded, Reason: ErrDecodeResync}
	}

	body, err := f.fillExactly(length)
	if err != nil {
		// put the consumed header back so a later call resumes this frame.
		f.scratch = append(append([]byte(nil), header...), f.scratch...)
		return nil, err
	}

	out := make([]byte, length)
	copy(out, body)
	return out, nil
}

// fillExactly reads from f.r until f.scratch holds at least n bytes,
// then returns the first n bytes and advances the scratch buffer past
// them. The scratch buffer is retained (not reset) across calls so a
// caller can resume after ErrShortRead or io.EOF by appending more
// data and calling again.
func (f *Framer) fillExactly(n int) ([]byte, error) {
	for len(f.scratch) < n {
		buf := make([]byte, 4096)
		read, err := f.r.Read(buf)
		if read > 0 {
			f.scratch = append(f.scratch, buf[:read]...)
		}
		if err != nil {
			return nil, err
		}
		if read == 0 {
			return nil, ErrShortRead
		}
	}
	out := f.scratch[:n]
	f.scratch = f.scratch[n:]
	return out, nil
}

// WriteMessage encodes body as one frame and writes it in full.
func (f *Framer) WriteMessage(ctx context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	stopWatch := f.watchContext(ctx, f.dl)
	defer stopWatch()

	length := len(body)
	if f.cfg.Inclusive {
		length += f.cfg.Width
	}

	header, err := encodeLength(length, f.cfg.Width, f.cfg.Encoding)
	if err != nil {
		return fmt.Errorf("encode length prefix: %w", err)
	}

	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)

	if _, err := f.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// watchContext spawns a goroutine that forces any SetDeadline-capable
// connection's pending I/O to unblock when ctx is done, mirroring the
// "watch ctx.Done, nudge the deadline" idiom used for context-aware
// net.Conn operations. The returned func must be called to stop the
// watcher once the blocking call returns.
func (f *Framer) watchContext(ctx context.Context, dl deadlineSetter) func() {
	if dl == nil || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			past := time.Now().Add(-time.Second)
			_ = dl.SetReadDeadline(past)
			_ = dl.SetWriteDeadline(past)
		case <-done:
		}
	}()
	return func() { close(done) }
}

func decodeLength(header []byte, enc Encoding) (int, error) {
	switch enc {
	case ASCII:
		n := 0
		for _, c := range header {
			if c < '0' || c > '9' {
				return 0, ErrInvalidEncoding
			}
			n = n*10 + int(c-'0')
		}
		return n, nil

	case BCD:
		n := 0
		for _, b := range header {
			hi, lo := b>>4, b&0x0F
			if hi > 9 || lo > 9 {
				return 0, ErrInvalidEncoding
			}
			n = n*100 + int(hi)*10 + int(lo)
		}
		return n, nil

	case Binary:
		n := 0
		for _, b := range header {
			n = n<<8 | int(b)
		}
		return n, nil

	default:
		return 0, ErrInvalidEncoding
	}
}

func encodeLength(length, width int, enc Encoding) ([]byte, error) {
	switch enc {
	case ASCII:
		out := make([]byte, width)
		n := length
		for i := width - 1; i >= 0; i-- {
			out[i] = byte('0' + n%10)
			n /= 10
		}
		if n != 0 {
			return nil, fmt.Errorf("length %d exceeds %d ASCII digits: %w", length, width, ErrInvalidEncoding)
		}
		return out, nil

	case BCD:
		out := make([]byte, width)
		n := length
		for i := width - 1; i >= 0; i-- {
			out[i] = byte((n%10)&0x0F) | byte(((n/10)%10)&0x0F)<<4
			n /= 100
		}
		if n != 0 {
			return nil, fmt.Errorf("length %d exceeds %d BCD digits: %w", length, width, ErrInvalidEncoding)
		}
		return out, nil

	case Binary:
		out := make([]byte, width)
		n := length
		for i := width - 1; i >= 0; i-- {
			out[i] = byte(n & 0xFF)
			n >>= 8
		}
		if n != 0 {
			return nil, fmt.Errorf("length %d exceeds %d binary bytes: %w", length, width, ErrInvalidEncoding)
		}
		return out, nil

	default:
		return nil, ErrInvalidEncoding
	}
}
