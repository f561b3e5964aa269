package fisc

import "github.com/dantte-lp/isofep/internal/iso8583"

// EventKind identifies the kind of notification carried by an Event.
type EventKind int

const (
	// EventConnected fires once all sockets required by Mode are
	// active.
	EventConnected EventKind = iota
	// EventDisconnected fires when Disconnect or Close tears down the
	// client's sockets.
	EventDisconnected
	// EventSignedOn fires when sign-on completes with response code "00".
	EventSignedOn
	// EventSignedOff names a completed sign-off. Client has no sign-off
	// operation and never emits it.
	EventSignedOff
	// EventStateChanged fires when an FSM event moves the client to a
	// different state; events that leave the state unchanged emit
	// nothing.
	EventStateChanged
	// EventReconnecting fires when an automatic reconnect attempt
	// begins for a failed side.
	EventReconnecting
	// EventMessageReceived fires for every inbound message whose STAN
	// has no waiter in the pending table (an unsolicited message).
	EventMessageReceived
	// EventError fires alongside any error that also propagates to a
	// waiting caller or cancels pending requests.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventSignedOn:
		return "SignedOn"
	case EventSignedOff:
		return "SignedOff"
	case EventStateChanged:
		return "StateChanged"
	case EventReconnecting:
		return "Reconnecting"
	case EventMessageReceived:
		return "MessageReceived"
	case EventError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event is one notification delivered on Client.Events(). Fields not
// relevant to Kind are left zero.
type Event struct {
	Kind     EventKind
	OldState State
	NewState State
	Message  *iso8583.Message
	Err      error
}

// eventChSize is the buffer depth of the client's event channel.
const eventChSize = 64

// emit delivers ev on c.events without blocking the caller
// indefinitely: a full channel drops the event and logs a warning.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("fisc: event channel full, dropping event", "kind", ev.Kind.String())
	}
}
