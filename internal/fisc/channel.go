package fisc

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/isofep/internal/framer"
)

// Role tags a Channel as the send side, the receive side, or the
// single socket in unified mode. A role tag controlling which idle
// timer arms and whether inbound frames are forwarded to the pending
// manager is a cleaner fit here than three handler subclasses.
type Role int

const (
	// RoleSend is the dual-mode socket writes go through exclusively.
	RoleSend Role = iota
	// RoleReceive is the dual-mode socket all inbound messages arrive on.
	RoleReceive
	// RoleUnified is the single socket used when Mode is ModeUnified.
	RoleUnified
)

func (r Role) String() string {
	switch r {
	case RoleSend:
		return "send"
	case RoleReceive:
		return "receive"
	case RoleUnified:
		return "unified"
	default:
		return "unknown"
	}
}

// Channel owns one TCP socket and its Framer. Only RoleReceive and
// RoleUnified channels arm a read-idle timer, at twice the client's
// ReadTimeout; a RoleSend channel's write-idle is a scheduling hook driven
// externally by the heartbeat ticker, not a timer of its own.
type Channel struct {
	role   Role
	conn   net.Conn
	framer *framer.Framer

	active   atomic.Bool
	signedOn atomic.Bool

	idleTimer *time.Timer
}

// NewChannel wraps conn in a Framer configured by cfg and marks the
// channel active.
func NewChannel(role Role, conn net.Conn, cfg framer.Config, opts ...framer.Option) (*Channel, error) {
	f, err := framer.New(conn, cfg, opts...)
	if err != nil {
		return nil, err
	}
	c := &Channel{role: role, conn: conn, framer: f}
	c.active.Store(true)
	return c, nil
}

// Role reports the channel's role tag.
func (c *Channel) Role() Role { return c.role }

// ArmIdleTimer starts (or restarts) the read-idle timer: if no frame
// is read within d, onIdle runs once. Callers reset the deadline via
// resetIdleTimer after every successful Read.
func (c *Channel) ArmIdleTimer(d time.Duration, onIdle func()) {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(d, onIdle)
}

func (c *Channel) resetIdleTimer(d time.Duration) {
	if c.idleTimer != nil {
		c.idleTimer.Reset(d)
	}
}

// Active reports whether the channel's socket is believed live.
func (c *Channel) Active() bool { return c.active.Load() }

// SetSignedOn records whether sign-on has completed for this
// connection's side.
func (c *Channel) SetSignedOn(v bool) { c.signedOn.Store(v) }

// SignedOn reports the last value set by SetSignedOn.
func (c *Channel) SignedOn() bool { return c.signedOn.Load() }

// Read blocks for the next frame and returns its raw body bytes.
func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	return c.framer.ReadMessage(ctx)
}

// Write sends body as one frame. Returns ErrChannelClosed without
// touching the transport if the channel has already been marked
// inactive.
func (c *Channel) Write(ctx context.Context, body []byte) error {
	if !c.active.Load() {
		return ErrChannelClosed
	}
	return c.framer.WriteMessage(ctx, body)
}

// Close marks the channel inactive, stops its idle timer, and closes
// the underlying socket. The socket is closed before the Framer is
// marked closed: a concurrent ReadMessage holds the Framer's internal
// lock for the duration of its blocking read, so closing the conn
// first is what actually unblocks it; calling Framer.Close first would
// deadlock waiting on that same lock. Safe to call more than once.
func (c *Channel) Close() error {
	c.active.Store(false)
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	err := c.conn.Close()
	_ = c.framer.Close()
	return err
}
