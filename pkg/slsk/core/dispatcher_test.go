package core

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gosoulseek/slsk/internal/slsktest"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

func newTestDispatcher(t *testing.T, handlers EventHandlers) (*Dispatcher, *Registry, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	waits := NewRegistry()
	conn := NewConnection(clientSide, slsktest.NopLogger{}, 0)
	d := NewDispatcher(conn, slsktest.NopLogger{}, waits, NewInvoker(), handlers, nil, nil)
	return d, waits, serverSide
}

func Test_Dispatcher_LoginResponseCompletesWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, waits, serverSide := newTestDispatcher(t, EventHandlers{})
	defer serverSide.Close()

	resultC := make(chan protocol.LoginResponse, 1)
	go func() {
		v, _ := Wait[protocol.LoginResponse](context.Background(), waits, types.NewWaitKey(types.WaitLoginResponse), time.Second)
		resultC <- v
	}()

	time.Sleep(10 * time.Millisecond)
	body := protocol.NewServerMessageBuilder(protocol.CodeLogin)
	body.PutBool(true)
	body.PutString("Welcome")
	if err := protocol.WriteFrame(serverSide, body.Bytes()); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case got := <-resultC:
		if !got.Succeeded || got.Message != "Welcome" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("login wait never completed")
	}
}

func Test_Dispatcher_ServerPingCompletesWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, waits, serverSide := newTestDispatcher(t, EventHandlers{})
	defer serverSide.Close()

	resultC := make(chan error, 1)
	go func() {
		_, err := Wait[protocol.ServerPingResponse](context.Background(), waits, types.NewWaitKey(types.WaitServerPing), time.Second)
		resultC <- err
	}()

	time.Sleep(10 * time.Millisecond)
	body := protocol.NewServerMessageBuilder(protocol.CodeServerPing)
	if err := protocol.WriteFrame(serverSide, body.Bytes()); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case err := <-resultC:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server ping wait never completed")
	}
}

func Test_Dispatcher_PrivateMessageInvokesHandlerAndAcks(t *testing.T) {
	defer goleak.VerifyNone(t)

	gotMsg := make(chan protocol.PrivateMessageEvent, 1)
	handlers := EventHandlers{
		OnPrivateMessage: func(ev protocol.PrivateMessageEvent) { gotMsg <- ev },
	}
	_, _, serverSide := newTestDispatcher(t, handlers)
	defer serverSide.Close()

	body := protocol.NewServerMessageBuilder(protocol.CodePrivateMessage)
	body.PutInt32(9)
	body.PutInt32(1700000000)
	body.PutString("carol")
	body.PutString("hi there")
	body.PutBool(false)
	if err := protocol.WriteFrame(serverSide, body.Bytes()); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case ev := <-gotMsg:
		if ev.ID != 9 || ev.Username != "carol" || ev.Message != "hi there" {
			t.Errorf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("private message handler never fired")
	}

	ackBody, err := protocol.ReadFrame(serverSide)
	if err != nil {
		t.Fatalf("ReadFrame (ack): %v", err)
	}
	r := protocol.NewMessageReader(ackBody)
	code, err := r.GetUint32Code()
	if err != nil || code != protocol.CodeAckPrivateMessage {
		t.Errorf("got code %d err %v, want CodeAckPrivateMessage", code, err)
	}
}

func Test_Dispatcher_GetUserStatus_CompletesWaitAndFiresHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	gotStatus := make(chan types.UserStatus, 1)
	handlers := EventHandlers{
		OnUserStatusChanged: func(s types.UserStatus) { gotStatus <- s },
	}
	_, waits, serverSide := newTestDispatcher(t, handlers)
	defer serverSide.Close()

	resultC := make(chan protocol.GetUserStatusResponse, 1)
	go func() {
		v, _ := Wait[protocol.GetUserStatusResponse](context.Background(), waits, types.NewWaitKey(types.WaitUserStatus, "dave"), time.Second)
		resultC <- v
	}()
	time.Sleep(10 * time.Millisecond)

	body := protocol.NewServerMessageBuilder(protocol.CodeGetUserStatus)
	body.PutString("dave")
	body.PutInt32(int32(types.StatusOnline))
	body.PutBool(false)
	if err := protocol.WriteFrame(serverSide, body.Bytes()); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case got := <-resultC:
		if got.Username != "dave" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("wait never completed")
	}
	select {
	case s := <-gotStatus:
		if s.Username != "dave" {
			t.Errorf("got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("status-changed handler never fired")
	}
}
