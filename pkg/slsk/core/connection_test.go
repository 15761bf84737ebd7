package core

import (
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gosoulseek/slsk/internal/slsktest"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
)

func Test_Connection_SendDeliversFramedMessageToPeer(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := net.Pipe()
	conn := NewConnection(a, slsktest.NopLogger{}, 0)
	defer conn.Close()

	go func() {
		conn.Send(42, []byte("payload"))
	}()

	body, err := protocol.ReadFrame(b)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	r := protocol.NewMessageReader(body)
	code, err := r.GetUint32Code()
	if err != nil {
		t.Fatalf("GetUint32Code: %v", err)
	}
	if code != 42 {
		t.Errorf("got code %d, want 42", code)
	}
	if string(body[4:]) != "payload" {
		t.Errorf("got body %q, want %q", body[4:], "payload")
	}
	b.Close()
}

func Test_Connection_InboxDeliversIncomingFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := net.Pipe()
	conn := NewConnection(a, slsktest.NopLogger{}, 0)
	defer conn.Close()

	go func() {
		frameBody := append([]byte{7, 0, 0, 0}, []byte("hi")...)
		protocol.WriteFrame(b, frameBody)
	}()

	select {
	case msg := <-conn.Inbox():
		if msg.Code != 7 {
			t.Errorf("got code %d, want 7", msg.Code)
		}
		if string(msg.Body) != "hi" {
			t.Errorf("got body %q, want %q", msg.Body, "hi")
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered to inbox")
	}

	b.Close()
}

func Test_Connection_CloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a, slsktest.NopLogger{}, 0)

	if err := conn.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got: %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Done() channel should be closed after Close")
	}
}

func Test_Connection_SendAfterCloseFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a, slsktest.NopLogger{}, 0)
	conn.Close()

	if err := conn.Send(1, []byte("x")); err == nil {
		t.Error("expected an error sending on a closed connection")
	}
}

func Test_Connection_WatchdogClosesIdleConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a, slsktest.NopLogger{}, 30*time.Millisecond)
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog never closed an idle connection")
	}
}
