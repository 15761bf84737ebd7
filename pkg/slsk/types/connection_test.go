package types

import "testing"

func Test_ConnectionKind_String(t *testing.T) {
	if PeerConnectionKind.String() != "P" {
		t.Errorf("got %q", PeerConnectionKind.String())
	}
	if TransferConnectionKind.String() != "F" {
		t.Errorf("got %q", TransferConnectionKind.String())
	}
}

func Test_ConnectionKey_String(t *testing.T) {
	k := ConnectionKey{Username: "alice", IP: "1.2.3.4", Port: 2234, Kind: TransferConnectionKind}
	if got := k.String(); got != "alice(1.2.3.4:2234)[F]" {
		t.Errorf("got %q", got)
	}
}

func Test_ClientState_String(t *testing.T) {
	cases := map[ClientState]string{
		Disconnected: "Disconnected",
		Connected:    "Connected",
		LoggedIn:     "LoggedIn",
		ClientState(99): "Unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("ClientState(%d).String() = %q, want %q", s, got, want)
		}
	}
}
