package fisc

import "fmt"

// State is the client's aggregate connection state: the product of
// the two per-side socket states projected through the configured
// FailureStrategy.
type State int32

const (
	// Disconnected is the initial state and the state after a clean
	// Disconnect/Close.
	Disconnected State = iota

	// Connecting is a named state that Client does not enter: Connect
	// moves the FSM from Disconnected directly to SendOnly, ReceiveOnly
	// or BothConnected. The transition table lists only its Close edge.
	Connecting

	// SendOnly means only the send-side socket is active (dual mode
	// only; unreachable in unified mode).
	SendOnly

	// ReceiveOnly means only the receive-side socket is active (dual
	// mode only; unreachable in unified mode).
	ReceiveOnly

	// BothConnected means every required socket is active but sign-on
	// has not yet completed (or was lost on reconnect).
	BothConnected

	// SignedOn means sign-on completed with response code "00"; the
	// only state in which SendAndReceive is permitted.
	SignedOn

	// Reconnecting means a side failed and an automatic reconnect
	// attempt is in progress.
	Reconnecting

	// Closing means Close was called and teardown is in progress.
	Closing

	// Closed is terminal: no further Connect is possible.
	Closed

	// Failed is terminal for the affected side: reconnect attempts
	// were exhausted.
	Failed
)

var stateNames = [...]string{
	"Disconnected",
	"Connecting",
	"SendOnly",
	"ReceiveOnly",
	"BothConnected",
	"SignedOn",
	"Reconnecting",
	"Closing",
	"Closed",
	"Failed",
}

// String returns the human-readable state name.
func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// event is a client FSM event. Unexported: the only caller is Client,
// which drives the FSM from its own operations rather than exposing
// event injection as public API.
type event uint8

const (
	eventConnectBothUp event = iota
	eventConnectOneUp
	eventConnectFailed
	eventSignOnOK
	eventSignOnFailed
	eventSideDown
	eventBothDown
	eventReconnectStart
	eventReconnectOK
	eventReconnectExhausted
	eventClose
	eventCloseDone
)

var eventNames = [...]string{
	"ConnectBothUp",
	"ConnectOneUp",
	"ConnectFailed",
	"SignOnOK",
	"SignOnFailed",
	"SideDown",
	"BothDown",
	"ReconnectStart",
	"ReconnectOK",
	"ReconnectExhausted",
	"Close",
	"CloseDone",
}

func (e event) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// stateEvent is the transition table's map key.
type stateEvent struct {
	state State
	event event
}

// transitionTable is the complete client FSM. A pure function over
// this table, with no side effects, makes the state diagram
// independently testable.
//
// Unlisted (state, event) pairs are ignored: nextState returns the
// current state unchanged.
var transitionTable = map[stateEvent]State{
	{Disconnected, eventConnectBothUp}: BothConnected,
	{Disconnected, eventConnectOneUp}:  SendOnly, // caller corrects to ReceiveOnly when needed
	{Disconnected, eventConnectFailed}: Disconnected,

	{BothConnected, eventSignOnOK}:     SignedOn,
	{BothConnected, eventSignOnFailed}: BothConnected,
	{BothConnected, eventSideDown}:     SendOnly, // caller corrects to ReceiveOnly when needed
	{BothConnected, eventBothDown}:     Reconnecting,

	{SendOnly, eventConnectOneUp}: BothConnected,
	{SendOnly, eventBothDown}:     Reconnecting,
	{SendOnly, eventSideDown}:     Reconnecting,

	{ReceiveOnly, eventConnectOneUp}: BothConnected,
	{ReceiveOnly, eventBothDown}:     Reconnecting,
	{ReceiveOnly, eventSideDown}:     Reconnecting,

	{SignedOn, eventSideDown}: SendOnly, // caller corrects to ReceiveOnly when needed
	{SignedOn, eventBothDown}: Reconnecting,

	{Reconnecting, eventReconnectOK}:        BothConnected,
	{Reconnecting, eventReconnectExhausted}: Failed,
	{Reconnecting, eventClose}:              Closing,

	{Disconnected, eventClose}:  Closing,
	{Connecting, eventClose}:    Closing,
	{SendOnly, eventClose}:      Closing,
	{ReceiveOnly, eventClose}:   Closing,
	{BothConnected, eventClose}: Closing,
	{SignedOn, eventClose}:      Closing,
	{Failed, eventClose}:        Closing,

	{Closing, eventCloseDone}: Closed,
}

// nextState is the pure FSM step: given the current state and an
// event, returns the next state per transitionTable, or the current
// state unchanged if the pair is not listed.
//
// The SendOnly placeholder that eventConnectOneUp and eventSideDown
// produce is corrected by the caller (Client) to
// ReceiveOnly when the surviving side is the receive side; the table
// only distinguishes "one side up" from "both up"/"both down", since
// which side survives is runtime information the pure table does not
// carry.
func nextState(current State, ev event) State {
	if next, ok := transitionTable[stateEvent{current, ev}]; ok {
		return next
	}
	return current
}
