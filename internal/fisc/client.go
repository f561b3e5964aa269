package fisc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
	"github.com/dantte-lp/isofep/internal/pending"
)

// Mode selects single-socket versus two-socket operation.
type Mode int

const (
	// ModeDual uses two TCP endpoints: writes go exclusively through
	// the send socket, all inbound application messages arrive on the
	// receive socket.
	ModeDual Mode = iota
	// ModeUnified uses one TCP endpoint for both directions.
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

// FailureStrategy selects how a single-side channel failure is
// handled. A third strategy, FALLBACK_TO_SINGLE, is deliberately not a
// member of this type: NewClient rejects any FailureStrategy value
// outside the two below with ErrUnsupportedFailureStrategy rather than
// support its unbounded recursive fallback.
type FailureStrategy int

const (
	// FailWhenBothDown tolerates single-sided failure: the client
	// transitions to SendOnly/ReceiveOnly and only cancels in-flight
	// requests once both sides are down.
	FailWhenBothDown FailureStrategy = iota
	// FailWhenAnyDown cancels all in-flight requests on any single
	// side's failure and moves the client to Reconnecting, the same
	// transition as both sides failing; it does not enter Failed, which
	// is only reached when reconnect attempts are exhausted.
	FailWhenAnyDown
)

func (f FailureStrategy) String() string {
	switch f {
	case FailWhenBothDown:
		return "fail-when-both-down"
	case FailWhenAnyDown:
		return "fail-when-any-down"
	default:
		return "unknown"
	}
}

// Config carries every construction-time parameter for a Client.
type Config struct {
	Mode            Mode
	FailureStrategy FailureStrategy

	// SendAddr/SendBackupAddr and ReceiveAddr/ReceiveBackupAddr are
	// used in ModeDual. UnifiedAddr/UnifiedBackupAddr are used in
	// ModeUnified.
	SendAddr          string
	SendBackupAddr    string
	ReceiveAddr       string
	ReceiveBackupAddr string
	UnifiedAddr       string
	UnifiedBackupAddr string

	Schema *iso8583.Schema
	Framer framer.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SignOnTimeout  time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	StrictClient bool // close the receive socket on a decode error
}

// Client is the dual-channel (or unified) ISO 8583 client: Connect,
// SignOn, SendAndReceive, Send, Disconnect, and Close.
type Client struct {
	cfg Config

	logger  *slog.Logger
	metrics MetricsRecorder

	state atomic.Int32

	mu         sync.Mutex
	sendCh     *Channel
	recvCh     *Channel
	sendBackup bool
	recvBackup bool
	closed     bool

	sendReconnecting atomic.Bool
	recvReconnecting atomic.Bool

	pending   *pending.Manager
	stans     *pending.StanAllocator
	events    chan Event
	heartbeat *time.Ticker
	stopHB    chan struct{}

	wg sync.WaitGroup
}

// NewClient validates cfg and constructs a Client in state
// Disconnected. It does not dial; call Connect to establish sockets.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Mode != ModeDual && cfg.Mode != ModeUnified {
		return nil, ErrInvalidMode
	}
	if cfg.FailureStrategy != FailWhenBothDown && cfg.FailureStrategy != FailWhenAnyDown {
		return nil, ErrUnsupportedFailureStrategy
	}
	if cfg.Schema == nil {
		cfg.Schema = iso8583.DefaultSchema()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.SignOnTimeout <= 0 {
		cfg.SignOnTimeout = cfg.ReadTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = cfg.HeartbeatInterval / 2
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}

	c := &Client{
		cfg:     cfg,
		logger:  slog.New(slog.DiscardHandler),
		metrics: noopMetrics{},
		pending: pending.NewManager(),
		stans:   pending.NewStanAllocator(),
		events:  make(chan Event, eventChSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Events returns the channel all listener notifications are delivered
// on.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the client's current aggregate connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// setState applies ev to the FSM, stores the result, and emits
// EventStateChanged when the state actually changed.
func (c *Client) setState(ev event) State {
	for {
		old := State(c.state.Load())
		next := nextState(old, ev)
		if c.state.CompareAndSwap(int32(old), int32(next)) {
			if next != old {
				c.metrics.IncStateTransition()
				c.logger.Info("fisc: state transition", "event", ev.String(), "old", old.String(), "new", next.String())
				c.emit(Event{Kind: EventStateChanged, OldState: old, NewState: next})
			}
			return next
		}
	}
}

// Connect dials every socket Mode requires, trying each side's backup
// host if the primary refuses. Connect fails with ErrClientClosed once
// Close has been called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	switch c.cfg.Mode {
	case ModeUnified:
		return c.connectUnified(ctx)
	default:
		return c.connectDual(ctx)
	}
}

func (c *Client) connectUnified(ctx context.Context) error {
	conn, usedBackup, err := c.dial(ctx, c.cfg.UnifiedAddr, c.cfg.UnifiedBackupAddr)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrConnectFailed, err)
		c.emit(Event{Kind: EventError, Err: wrapped})
		return wrapped
	}
	ch, err := NewChannel(RoleUnified, conn, c.cfg.Framer)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.sendCh = ch
	c.recvCh = ch
	c.sendBackup = usedBackup
	c.recvBackup = usedBackup
	c.mu.Unlock()

	c.armReceiveIdle(ch)
	c.startReadLoop(ch)
	c.setState(eventConnectBothUp)
	c.emit(Event{Kind: EventConnected, NewState: c.State()})
	return nil
}

func (c *Client) connectDual(ctx context.Context) error {
	sendConn, sendBackup, sendErr := c.dial(ctx, c.cfg.SendAddr, c.cfg.SendBackupAddr)
	recvConn, recvBackup, recvErr := c.dial(ctx, c.cfg.ReceiveAddr, c.cfg.ReceiveBackupAddr)

	if sendErr != nil && recvErr != nil {
		err := fmt.Errorf("%w: send: %v, receive: %v", ErrConnectFailed, sendErr, recvErr)
		c.emit(Event{Kind: EventError, Err: err})
		return err
	}

	c.mu.Lock()
	if sendErr == nil {
		ch, err := NewChannel(RoleSend, sendConn, c.cfg.Framer)
		if err != nil {
			c.mu.Unlock()
			_ = sendConn.Close()
			return err
		}
		c.sendCh = ch
		c.sendBackup = sendBackup
	}
	if recvErr == nil {
		ch, err := NewChannel(RoleReceive, recvConn, c.cfg.Framer)
		if err != nil {
			c.mu.Unlock()
			_ = recvConn.Close()
			return err
		}
		c.recvCh = ch
		c.recvBackup = recvBackup
	}
	recvChForLoop := c.recvCh
	c.mu.Unlock()

	if recvErr == nil {
		c.armReceiveIdle(recvChForLoop)
		c.startReadLoop(recvChForLoop)
	}

	if sendErr == nil && recvErr == nil {
		c.setState(eventConnectBothUp)
		c.emit(Event{Kind: EventConnected, NewState: c.State()})
	} else {
		c.setState(eventConnectOneUp)
		if recvErr == nil {
			// the pure table's SendOnly placeholder is wrong when the
			// surviving side is receive; correct it here.
			c.state.Store(int32(ReceiveOnly))
		}
		var err error
		if sendErr != nil {
			err = fmt.Errorf("%w: send: %v", ErrConnectFailed, sendErr)
		} else {
			err = fmt.Errorf("%w: receive: %v", ErrConnectFailed, recvErr)
		}
		c.emit(Event{Kind: EventError, Err: err})
	}

	return nil
}

// dial tries addr, then backupAddr if addr fails, within
// cfg.ConnectTimeout each. It reports which host ultimately succeeded.
func (c *Client) dial(ctx context.Context, addr, backupAddr string) (net.Conn, bool, error) {
	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err == nil {
		return conn, false, nil
	}
	if backupAddr == "" {
		return nil, false, err
	}
	conn, backupErr := d.DialContext(ctx, "tcp", backupAddr)
	if backupErr != nil {
		return nil, false, fmt.Errorf("primary %q: %w; backup %q: %v", addr, err, backupAddr, backupErr)
	}
	return conn, true, nil
}

func (c *Client) armReceiveIdle(ch *Channel) {
	idle := 2 * c.cfg.ReadTimeout
	ch.ArmIdleTimer(idle, func() {
		c.handleChannelFailure(ch.Role(), fmt.Errorf("receive idle timer expired after %s", idle))
	})
}

// SignOn sends a sign-on request and transitions to SignedOn on
// response code "00".
func (c *Client) SignOn(ctx context.Context) error {
	if st := c.State(); st != BothConnected {
		return fmt.Errorf("signOn: state is %s, want BothConnected: %w", st, ErrNotConnected)
	}

	stan, err := c.stans.Next()
	if err != nil {
		return err
	}
	req := iso8583.NewSignOn(stan)

	resp, err := c.sendAndReceive(ctx, req, c.cfg.SignOnTimeout)
	if err != nil {
		return err
	}
	if !resp.IsApproved() {
		c.emit(Event{Kind: EventError, Err: ErrSignOnRejected})
		return ErrSignOnRejected
	}

	c.mu.Lock()
	if c.sendCh != nil {
		c.sendCh.SetSignedOn(true)
	}
	if c.recvCh != nil {
		c.recvCh.SetSignedOn(true)
	}
	c.mu.Unlock()

	c.setState(eventSignOnOK)
	c.emit(Event{Kind: EventSignedOn})
	c.startHeartbeat()
	return nil
}

// SendAndReceive assigns a STAN if req.STAN() is empty, registers the
// pending entry before writing, writes req on the send channel, and
// waits for the matching response or timeout.
func (c *Client) SendAndReceive(ctx context.Context, req *iso8583.Message, timeout time.Duration) (*iso8583.Message, error) {
	if st := c.State(); st != SignedOn {
		return nil, fmt.Errorf("sendAndReceive: state is %s, want SignedOn: %w", st, ErrNotConnected)
	}
	return c.sendAndReceive(ctx, req, timeout)
}

// sendAndReceive is the shared implementation behind SignOn (which
// runs before the client reaches SignedOn) and the public
// SendAndReceive.
func (c *Client) sendAndReceive(ctx context.Context, req *iso8583.Message, timeout time.Duration) (*iso8583.Message, error) {
	stan := req.STAN()
	if stan == "" {
		var err error
		stan, err = c.stans.Next()
		if err != nil {
			return nil, err
		}
		req.Set(iso8583.FieldSTAN, stan)
	}

	resCh, err := c.pending.Register(stan, timeout)
	if err != nil {
		return nil, err
	}

	if sendErr := c.writeMessage(ctx, req); sendErr != nil {
		c.pending.Cancel(stan, sendErr)
		c.stans.Release(stan)
		return nil, sendErr
	}

	res := <-resCh
	c.stans.Release(stan)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Message, nil
}

// writeMessage assembles msg and writes it on the send-side channel
// (or the unified channel). It is unexported because the public Send
// also enforces the SignedOn precondition the internal sign-on call
// must bypass.
func (c *Client) writeMessage(ctx context.Context, msg *iso8583.Message) error {
	raw, err := iso8583.Assemble(c.cfg.Schema, msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ch := c.sendCh
	c.mu.Unlock()
	if ch == nil || !ch.Active() {
		return ErrChannelClosed
	}

	if err := ch.Write(ctx, raw); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrSendFailed, err)
		c.handleChannelFailure(ch.Role(), wrapped)
		return wrapped
	}
	c.metrics.IncSent()
	return nil
}

// Send writes msg without waiting for a response.
func (c *Client) Send(ctx context.Context, msg *iso8583.Message) error {
	if st := c.State(); st != SignedOn {
		return fmt.Errorf("send: state is %s, want SignedOn: %w", st, ErrNotConnected)
	}
	return c.writeMessage(ctx, msg)
}

// Disconnect closes all owned sockets and cancels every pending
// request with ErrChannelClosed.
func (c *Client) Disconnect(ctx context.Context) error {
	_ = ctx
	c.stopHeartbeat()

	c.mu.Lock()
	send, recv := c.sendCh, c.recvCh
	c.sendCh = nil
	c.recvCh = nil
	c.mu.Unlock()

	if send != nil {
		_ = send.Close()
	}
	if recv != nil && recv != send {
		_ = recv.Close()
	}

	c.pending.CancelAll(ErrChannelClosed)
	c.state.Store(int32(Disconnected))
	c.emit(Event{Kind: EventDisconnected})
	return nil
}

// Close disconnects, then releases the client's worker pool: the
// pending manager and heartbeat/read-loop goroutines are torn down
// and no further Connect is possible.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.Disconnect(context.Background())
	c.setState(eventClose)
	c.pending.Close()
	c.wg.Wait()
	c.setState(eventCloseDone)
	close(c.events)
	return nil
}

// handleChannelFailure applies the configured FailureStrategy to a
// single side's failure.
func (c *Client) handleChannelFailure(role Role, cause error) {
	c.logger.Warn("fisc: channel failure", "role", role.String(), "cause", cause)
	c.emit(Event{Kind: EventError, Err: cause})

	c.mu.Lock()
	switch role {
	case RoleSend:
		if c.sendCh != nil {
			_ = c.sendCh.Close()
		}
	case RoleReceive:
		if c.recvCh != nil {
			_ = c.recvCh.Close()
		}
	case RoleUnified:
		if c.sendCh != nil {
			_ = c.sendCh.Close()
		}
	}
	sendDown := c.sendCh == nil || !c.sendCh.Active()
	recvDown := c.recvCh == nil || !c.recvCh.Active()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	bothDown := sendDown && recvDown
	switch c.cfg.FailureStrategy {
	case FailWhenAnyDown:
		c.setState(eventBothDown)
		c.pending.CancelAll(cause)
	case FailWhenBothDown:
		if bothDown {
			c.setState(eventBothDown)
			c.pending.CancelAll(cause)
		} else {
			c.setState(eventSideDown)
			if recvDown {
				c.state.Store(int32(SendOnly))
			} else {
				c.state.Store(int32(ReceiveOnly))
			}
		}
	}

	c.scheduleReconnect(role)
}
