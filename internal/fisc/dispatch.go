package fisc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
)

// startReadLoop spawns the goroutine that owns ch's inbound frames for
// the lifetime of the connection. Every frame is parsed and, if its
// STAN matches a registered pending entry, delivered there; otherwise
// it is reported as an unsolicited message.
//
// A resync error from a single bad length prefix is logged and skipped
// unless StrictClient is set, in which case it is treated the same as
// any other decode error below. Any other read error is a transport
// failure and tears the channel down unconditionally.
func (c *Client) startReadLoop(ch *Channel) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			raw, err := ch.Read(context.Background())
			if err != nil {
				var resyncErr *framer.ResyncError
				if errors.As(err, &resyncErr) && !c.cfg.StrictClient {
					c.emit(Event{Kind: EventError, Err: fmt.Errorf("discarded unsynced frame: %w", err)})
					continue
				}
				if !errors.Is(err, ErrChannelClosed) {
					c.handleChannelFailure(ch.Role(), fmt.Errorf("receive read: %w", err))
				}
				return
			}

			ch.resetIdleTimer(2 * c.cfg.ReadTimeout)

			msg, err := iso8583.Parse(c.cfg.Schema, raw)
			if err != nil {
				c.emit(Event{Kind: EventError, Err: fmt.Errorf("malformed inbound message: %w", err)})
				if c.cfg.StrictClient {
					c.handleChannelFailure(ch.Role(), err)
					return
				}
				continue
			}

			c.metrics.IncReceived()
			c.deliver(msg)
		}
	}()
}

// deliver routes an inbound message to its waiting pending entry, or
// reports it as unsolicited when no waiter claims its STAN.
func (c *Client) deliver(msg *iso8583.Message) {
	stan := msg.STAN()
	if stan != "" && c.pending.Complete(stan, msg) {
		return
	}
	c.emit(Event{Kind: EventMessageReceived, Message: msg})
}
