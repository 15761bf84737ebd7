package core

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gosoulseek/slsk/internal/slsktest"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

type fakeServerSender struct {
	mu   sync.Mutex
	sent []struct {
		code uint32
		body []byte
	}
}

func (f *fakeServerSender) SendServer(code uint32, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, struct {
		code uint32
		body []byte
	}{code, body})
	return nil
}

func Test_PeerManager_EstablishesDirectConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	addrLookup := func(ctx context.Context, username string) (net.IP, int32, error) {
		return addr.IP, int32(addr.Port), nil
	}

	pm := NewPeerManager("me", slsktest.NopLogger{}, NewInvoker(), NewRegistry(), NewTokenAllocator(), &fakeServerSender{}, 4, time.Second, 0)

	conn, err := pm.GetMessageConnection(context.Background(), "peer1", addrLookup)
	if err != nil {
		t.Fatalf("GetMessageConnection: %v", err)
	}
	defer conn.Close()

	select {
	case raw := <-accepted:
		defer raw.Close()
		body, err := protocol.ReadFrame(raw)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		init, err := protocol.DecodePeerInit(body[1:])
		if err != nil {
			t.Fatalf("DecodePeerInit: %v", err)
		}
		if init.Username != "me" || init.Type != protocol.PeerInitTypeMessage {
			t.Errorf("got %+v", init)
		}
	case <-time.After(time.Second):
		t.Fatal("peer never accepted the direct dial")
	}
}

func Test_PeerManager_SingleFlightPerPeer(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			protocol.ReadFrame(c)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	var lookups int32
	addrLookup := func(ctx context.Context, username string) (net.IP, int32, error) {
		atomic.AddInt32(&lookups, 1)
		time.Sleep(30 * time.Millisecond) // widen the race window for concurrent callers to join
		return addr.IP, int32(addr.Port), nil
	}

	pm := NewPeerManager("me", slsktest.NopLogger{}, NewInvoker(), NewRegistry(), NewTokenAllocator(), &fakeServerSender{}, 4, time.Second, 0)

	const n = 5
	conns := make(chan *Connection, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := pm.GetMessageConnection(context.Background(), "sharedpeer", addrLookup)
			if err != nil {
				t.Errorf("GetMessageConnection: %v", err)
				return
			}
			conns <- c
		}()
	}
	wg.Wait()
	close(conns)

	var first *Connection
	for c := range conns {
		if first == nil {
			first = c
		} else if c != first {
			t.Error("concurrent callers for the same peer got different connections")
		}
	}
	first.Close()

	// establish() only races direct vs. indirect once per establish call,
	// but dialDirect itself calls addrLookup once; single-flight means
	// only the winning attempt's addrLookup call should have happened
	// (not one per caller).
	if got := atomic.LoadInt32(&lookups); got != 1 {
		t.Errorf("addrLookup called %d times, want 1 (single-flight)", got)
	}
}

func Test_PeerManager_IndirectSolicitationAndPierceFirewall(t *testing.T) {
	defer goleak.VerifyNone(t)

	// a direct dial that always fails forces the indirect path to win
	addrLookup := func(ctx context.Context, username string) (net.IP, int32, error) {
		return nil, 0, types.NewError(types.UserEndpointLookupFailed, "no address on file")
	}

	server := &fakeServerSender{}
	pm := NewPeerManager("me", slsktest.NopLogger{}, NewInvoker(), NewRegistry(), NewTokenAllocator(), server, 4, 2*time.Second, 0)

	resultC := make(chan *Connection, 1)
	errC := make(chan error, 1)
	go func() {
		c, err := pm.GetMessageConnection(context.Background(), "peer2", addrLookup)
		if err != nil {
			errC <- err
			return
		}
		resultC <- c
	}()

	// wait for the ConnectToPeerRequest to reach the fake server, then
	// extract the token it carried and complete the PierceFirewall wait.
	var token int32
	deadline := time.After(time.Second)
waitForSolicit:
	for {
		select {
		case <-deadline:
			t.Fatal("no ConnectToPeerRequest ever reached the server")
		default:
		}
		server.mu.Lock()
		if len(server.sent) > 0 {
			r := protocol.NewMessageReader(server.sent[0].body)
			tok, err := r.GetInt32()
			server.mu.Unlock()
			if err != nil {
				t.Fatalf("decoding ConnectToPeerRequest: %v", err)
			}
			token = tok
			break waitForSolicit
		}
		server.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}

	a, b := net.Pipe()
	if !pm.CompletePierceFirewall(token, a) {
		t.Fatal("CompletePierceFirewall found no pending solicitation")
	}

	select {
	case c := <-resultC:
		c.Close()
		b.Close()
	case err := <-errC:
		t.Fatalf("GetMessageConnection failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("indirect establishment never completed")
	}
}

func Test_PeerManager_AttachIncomingMessageConnection_ReusedByGetMessageConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	pm := NewPeerManager("me", slsktest.NopLogger{}, NewInvoker(), NewRegistry(), NewTokenAllocator(), &fakeServerSender{}, 4, time.Second, 0)

	a, b := net.Pipe()
	defer b.Close()
	attached := pm.AttachIncomingMessageConnection("peer3", a)
	defer attached.Close()

	got, err := pm.GetMessageConnection(context.Background(), "peer3", func(ctx context.Context, username string) (net.IP, int32, error) {
		t.Fatal("addrLookup should not be called when a live connection already exists")
		return nil, 0, nil
	})
	if err != nil {
		t.Fatalf("GetMessageConnection: %v", err)
	}
	if got != attached {
		t.Error("expected the already-attached connection to be reused")
	}
}
