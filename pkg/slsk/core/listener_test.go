package core

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gosoulseek/slsk/internal/slsktest"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
)

func newTestListener(t *testing.T) (*Listener, net.Addr) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	l := NewListener(ln, slsktest.NopLogger{}, NewInvoker())
	return l, ln.Addr()
}

func Test_Listener_ClassifiesPeerInitMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, addr := newTestListener(t)
	defer l.Close()

	raw, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	init := protocol.EncodePeerInit(protocol.PeerInit{Username: "alice", Type: protocol.PeerInitTypeMessage, Token: 1})
	if err := protocol.WriteFrame(raw, init); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case in := <-l.Incoming():
		if in.Kind != IncomingPeerMessage {
			t.Errorf("got kind %v, want IncomingPeerMessage", in.Kind)
		}
		if in.Username != "alice" {
			t.Errorf("got username %q, want alice", in.Username)
		}
		in.Conn.Close()
	case <-time.After(time.Second):
		t.Fatal("listener never classified the connection")
	}
}

func Test_Listener_ClassifiesPeerInitTransfer(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, addr := newTestListener(t)
	defer l.Close()

	raw, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	init := protocol.EncodePeerInit(protocol.PeerInit{Username: "bob", Type: protocol.PeerInitTypeTransfer, Token: 2})
	if err := protocol.WriteFrame(raw, init); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	var tokenBuf [4]byte
	binary.LittleEndian.PutUint32(tokenBuf[:], 2)
	if _, err := raw.Write(tokenBuf[:]); err != nil {
		t.Fatalf("writing trailing transfer token: %v", err)
	}

	select {
	case in := <-l.Incoming():
		if in.Kind != IncomingTransfer {
			t.Errorf("got kind %v, want IncomingTransfer", in.Kind)
		}
		in.Conn.Close()
	case <-time.After(time.Second):
		t.Fatal("listener never classified the connection")
	}
}

func Test_Listener_RejectsMismatchedTransferToken(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, addr := newTestListener(t)
	defer l.Close()

	raw, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	init := protocol.EncodePeerInit(protocol.PeerInit{Username: "bob", Type: protocol.PeerInitTypeTransfer, Token: 2})
	if err := protocol.WriteFrame(raw, init); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	var tokenBuf [4]byte
	binary.LittleEndian.PutUint32(tokenBuf[:], 99)
	if _, err := raw.Write(tokenBuf[:]); err != nil {
		t.Fatalf("writing trailing transfer token: %v", err)
	}

	select {
	case <-l.Incoming():
		t.Fatal("mismatched transfer token should never reach Incoming")
	case <-time.After(100 * time.Millisecond):
	}
}

func Test_Listener_ClassifiesPierceFirewall(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, addr := newTestListener(t)
	defer l.Close()

	raw, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	pierce := protocol.EncodePierceFirewall(protocol.PierceFirewall{Token: 55})
	if err := protocol.WriteFrame(raw, pierce); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case in := <-l.Incoming():
		if in.Kind != IncomingUnknown {
			t.Errorf("got kind %v, want IncomingUnknown", in.Kind)
		}
		if in.Token != 55 {
			t.Errorf("got token %d, want 55", in.Token)
		}
		in.Conn.Close()
	case <-time.After(time.Second):
		t.Fatal("listener never classified the connection")
	}
}

func Test_Listener_DropsUnrecognizedInitCode(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, addr := newTestListener(t)
	defer l.Close()

	raw, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer raw.Close()

	if err := protocol.WriteFrame(raw, []byte{0xee}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case <-l.Incoming():
		t.Fatal("unrecognized init code should never reach Incoming")
	case <-time.After(100 * time.Millisecond):
	}
}
