package fisc

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
)

// scheduleReconnect launches a bounded reconnect loop for role's side
// if one is not already running. The loop first retries the host the
// side last connected to (the primary, or the backup if the last
// connection used it) and alternates between the two on each later
// attempt, under a fixed-delay bounded policy built from
// backoff.NewConstantBackOff wrapped in backoff.WithMaxRetries.
func (c *Client) scheduleReconnect(role Role) {
	flag := c.reconnectFlag(role)
	if !flag.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer flag.Store(false)
		c.runReconnectLoop(role)
	}()
}

func (c *Client) reconnectFlag(role Role) *atomic.Bool {
	if role == RoleSend {
		return &c.sendReconnecting
	}
	return &c.recvReconnecting
}

func (c *Client) runReconnectLoop(role Role) {
	c.emit(Event{Kind: EventReconnecting})
	c.setState(eventReconnectStart)

	primary, backup := c.reconnectAddrs(role)
	useBackup := c.lastUsedBackup(role)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.ReconnectDelay), uint64(c.cfg.MaxReconnectAttempts-1))

	var reconnected *Channel
	err := backoff.Retry(func() error {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return backoff.Permanent(ErrClientClosed)
		}

		addr := primary
		if useBackup {
			addr = backup
		}
		useBackup = !useBackup // alternate for the next attempt

		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(context.Background(), "tcp", addr)
		if err != nil {
			return err
		}

		ch, err := NewChannel(role, conn, c.cfg.Framer)
		if err != nil {
			_ = conn.Close()
			return err
		}
		reconnected = ch
		return nil
	}, policy)

	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		c.setState(eventReconnectExhausted)
		return
	}

	c.installReconnectedChannel(role, reconnected)
}

func (c *Client) reconnectAddrs(role Role) (primary, backup string) {
	switch role {
	case RoleUnified:
		return c.cfg.UnifiedAddr, c.cfg.UnifiedBackupAddr
	case RoleSend:
		return c.cfg.SendAddr, c.cfg.SendBackupAddr
	default:
		return c.cfg.ReceiveAddr, c.cfg.ReceiveBackupAddr
	}
}

func (c *Client) lastUsedBackup(role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if role == RoleSend || role == RoleUnified {
		return c.sendBackup
	}
	return c.recvBackup
}

// installReconnectedChannel swaps in the freshly reconnected channel,
// restarts its read loop if it carries inbound traffic, and — once
// both sides are active again — re-issues sign-on automatically.
func (c *Client) installReconnectedChannel(role Role, ch *Channel) {
	c.mu.Lock()
	switch role {
	case RoleUnified:
		c.sendCh = ch
		c.recvCh = ch
	case RoleSend:
		c.sendCh = ch
	case RoleReceive:
		c.recvCh = ch
	}
	sendUp := c.sendCh != nil && c.sendCh.Active()
	recvUp := c.recvCh != nil && c.recvCh.Active()
	c.mu.Unlock()

	if role == RoleReceive || role == RoleUnified {
		c.armReceiveIdle(ch)
		c.startReadLoop(ch)
	}

	if sendUp && recvUp {
		c.setState(eventReconnectOK)
		c.emit(Event{Kind: EventConnected, NewState: c.State()})
		go func() {
			_ = c.SignOn(context.Background())
		}()
	}
}
