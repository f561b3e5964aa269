package fisc

import (
	"context"
	"time"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

// startHeartbeat begins the periodic network-management echo once
// sign-on completes. Failures are logged as warnings and never change
// client state: the receive-side idle timer, not the heartbeat, is the
// liveness source of truth.
func (c *Client) startHeartbeat() {
	c.mu.Lock()
	if c.heartbeat != nil {
		c.mu.Unlock()
		return
	}
	c.heartbeat = time.NewTicker(c.cfg.HeartbeatInterval)
	c.stopHB = make(chan struct{})
	ticker := c.heartbeat
	stop := c.stopHB
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.sendHeartbeat()
			}
		}
	}()
}

func (c *Client) sendHeartbeat() {
	if c.State() != SignedOn {
		return
	}

	stan, err := c.stans.Next()
	if err != nil {
		c.logger.Warn("fisc: heartbeat stan allocation failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HeartbeatTimeout)
	defer cancel()

	_, err = c.sendAndReceive(ctx, iso8583.NewEcho(stan), c.cfg.HeartbeatTimeout)
	if err != nil {
		c.logger.Warn("fisc: heartbeat failed", "error", err)
	}
}

// stopHeartbeat stops the ticker goroutine, if running. Safe to call
// when no heartbeat is active.
func (c *Client) stopHeartbeat() {
	c.mu.Lock()
	ticker := c.heartbeat
	stop := c.stopHB
	c.heartbeat = nil
	c.stopHB = nil
	c.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stop != nil {
		close(stop)
	}
}
