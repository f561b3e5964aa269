package fisc

import "testing"

func TestNextStateConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current State
		ev      event
		want    State
	}{
		{"disconnected both up", Disconnected, eventConnectBothUp, BothConnected},
		{"disconnected connect failed stays disconnected", Disconnected, eventConnectFailed, Disconnected},
		{"both connected sign on ok", BothConnected, eventSignOnOK, SignedOn},
		{"both connected sign on failed stays both connected", BothConnected, eventSignOnFailed, BothConnected},
		{"both connected both down reconnecting", BothConnected, eventBothDown, Reconnecting},
		{"signed on both down reconnecting", SignedOn, eventBothDown, Reconnecting},
		{"reconnecting ok both connected", Reconnecting, eventReconnectOK, BothConnected},
		{"reconnecting exhausted failed", Reconnecting, eventReconnectExhausted, Failed},
		{"reconnecting close closing", Reconnecting, eventClose, Closing},
		{"closing close done closed", Closing, eventCloseDone, Closed},
		{"unlisted pair is ignored", Closed, eventConnectBothUp, Closed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := nextState(tt.current, tt.ev)
			if got != tt.want {
				t.Fatalf("nextState(%s, %s) = %s, want %s", tt.current, tt.ev, got, tt.want)
			}
		})
	}
}

func TestStateStringUnknown(t *testing.T) {
	t.Parallel()
	s := State(999)
	if s.String() == "" {
		t.Fatal("String() on an out-of-range State returned empty")
	}
}
