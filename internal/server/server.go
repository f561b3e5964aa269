package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
)

// Mode selects single-listener versus two-listener operation,
// mirroring fisc.Mode.
type Mode int

const (
	ModeDual Mode = iota
	ModeUnified
)

func (m Mode) String() string {
	switch m {
	case ModeDual:
		return "dual"
	case ModeUnified:
		return "unified"
	default:
		return "unknown"
	}
}

// Handler produces a response for one request message. A Handler is
// looked up by the request's MTI.
type Handler func(req *iso8583.Message) (*iso8583.Message, error)

// Validator inspects a decoded request before handler dispatch. A
// non-nil error rejects the request with the configured
// validation-error response code.
type Validator func(req *iso8583.Message) error

// Config carries every construction-time parameter for a Server.
type Config struct {
	Mode Mode

	ReceiveAddr string
	SendAddr    string
	UnifiedAddr string

	Schema *iso8583.Schema
	Framer framer.Config

	// ValidationErrorCode is the field-39 value used when Validator
	// rejects a request. Defaults to "30".
	ValidationErrorCode string

	// ResponseDelay is slept by the dispatcher before each write, used
	// to simulate processing latency.
	ResponseDelay time.Duration

	// ResponseQueueCapacity bounds the dispatcher's pending-response
	// channel.
	ResponseQueueCapacity int

	// ResponseQueuePolicy selects drop behavior when the queue is full.
	ResponseQueuePolicy DropPolicy
}

// Server is the dual-port (or unified) front-end processor server:
// accept loops on one or two listeners, a client Router, a per-MTI
// Handler table, and a single response dispatcher task.
type Server struct {
	cfg Config

	logger  *slog.Logger
	metrics MetricsRecorder

	router *Router

	mu        sync.RWMutex
	handlers  map[string]Handler
	validator Validator

	queue chan *pendingResponse

	received atomic.Int64
	sent     atomic.Int64
	dropped  atomic.Int64

	listeners []net.Listener
	running   bool
	closing   chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Server in the stopped state; call Run to start
// accepting connections.
func New(cfg Config, opts ...Option) (*Server, error) {
	if cfg.Mode != ModeDual && cfg.Mode != ModeUnified {
		return nil, ErrInvalidMode
	}
	if cfg.Schema == nil {
		cfg.Schema = iso8583.DefaultSchema()
	}
	if cfg.ValidationErrorCode == "" {
		cfg.ValidationErrorCode = "30"
	}
	if cfg.ResponseQueueCapacity <= 0 {
		cfg.ResponseQueueCapacity = 256
	}
	if cfg.ResponseQueuePolicy < DropOldest || cfg.ResponseQueuePolicy > Block {
		return nil, ErrInvalidDropPolicy
	}

	s := &Server{
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		metrics:  noopMetrics{},
		router:   NewRouter(),
		handlers: make(map[string]Handler),
		queue:    make(chan *pendingResponse, cfg.ResponseQueueCapacity),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterHandler installs the handler invoked for requests whose MTI
// equals mti.
func (s *Server) RegisterHandler(mti string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[mti] = h
}

// SetValidator installs the validation callback run before handler
// dispatch.
func (s *Server) SetValidator(v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = v
}

// Run starts every configured listener's accept loop and the response
// dispatcher, and blocks until ctx is cancelled or an unrecoverable
// listen error occurs.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	var lns []net.Listener
	var err error
	switch s.cfg.Mode {
	case ModeUnified:
		lns, err = s.listen(s.cfg.UnifiedAddr)
	default:
		lns, err = s.listen(s.cfg.ReceiveAddr, s.cfg.SendAddr)
	}
	if err != nil {
		return err
	}
	s.listeners = lns

	s.wg.Add(1)
	go s.runDispatcher(ctx)

	switch s.cfg.Mode {
	case ModeUnified:
		s.wg.Add(1)
		go s.acceptLoop(ctx, lns[0], s.handleUnifiedConn)
	default:
		s.wg.Add(1)
		go s.acceptLoop(ctx, lns[0], s.handleReceiveConn)
		s.wg.Add(1)
		go s.acceptLoop(ctx, lns[1], s.handleSendConn)
	}

	go func() {
		<-ctx.Done()
		close(s.closing)
		for _, ln := range lns {
			_ = ln.Close()
		}
	}()

	s.wg.Wait()
	return nil
}

func (s *Server) listen(addrs ...string) ([]net.Listener, error) {
	lns := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range lns {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("server: listen %q: %w", addr, err)
		}
		lns = append(lns, ln)
	}
	return lns, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("server: accept failed", "addr", ln.Addr(), "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(ctx, conn)
		}()
	}
}

// SendProactive writes msg to the send-side socket registered for
// instID, returning false without error if no such socket is active.
func (s *Server) SendProactive(ctx context.Context, instID string, msg *iso8583.Message) (bool, error) {
	fr, ok := s.router.SendConn(instID)
	if !ok {
		return false, nil
	}
	raw, err := iso8583.Assemble(s.cfg.Schema, msg)
	if err != nil {
		return false, err
	}
	if err := fr.WriteMessage(ctx, raw); err != nil {
		return false, err
	}
	s.sent.Add(1)
	s.metrics.IncServerSent(instID)
	return true, nil
}

// Broadcast writes msg to every active send-side socket, returning
// how many writes succeeded and how many were attempted and failed.
func (s *Server) Broadcast(ctx context.Context, msg *iso8583.Message) (sent int, missed int) {
	raw, err := iso8583.Assemble(s.cfg.Schema, msg)
	if err != nil {
		return 0, 0
	}
	for instID, fr := range s.router.AllSendConns() {
		if err := fr.WriteMessage(ctx, raw); err != nil {
			missed++
			continue
		}
		sent++
		s.sent.Add(1)
		s.metrics.IncServerSent(instID)
	}
	return sent, missed
}

// Stats returns the received/sent/dropped message counters.
func (s *Server) Stats() (received, sent, dropped int64) {
	return s.received.Load(), s.sent.Load(), s.dropped.Load()
}

// newConnID returns a short correlation id for connection log lines.
func newConnID() string {
	return uuid.NewString()
}
