package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/metrics"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// ServerSender is the thin slice of the server connection the peer
// manager needs: framing and sending a server-bound message. The
// dispatcher owns the actual server Connection; the peer manager only
// ever needs to emit GetPeerAddress/ConnectToPeerRequest through it.
type ServerSender interface {
	SendServer(code uint32, body []byte) error
}

// PeerManager establishes and reuses peer message connections,
// racing a direct dial against an indirect, server-brokered rendezvous
// exactly as spec.md §4.F requires, and hands file-transfer sockets off
// to whichever caller is waiting on the matching token.
type PeerManager struct {
	username string // our own username, sent in every outbound PeerInit
	log      types.Logger
	invoker  Invoker
	waits    *Registry
	tokens   *TokenAllocator
	server   ServerSender

	dialTimeout   time.Duration
	watchdog      time.Duration
	maxConcurrent chan struct{} // counting semaphore, spec.md's ConcurrentMessageConnectionLimit

	records map[string]*peerRecord
	recMu   sync.RWMutex

	metrics *metrics.Metrics

	// onMessage, when set, is invoked once per decoded frame arriving
	// on any peer message connection this manager owns, regardless of
	// whether it was established by us or attached from an inbound
	// PeerInit. The transfer and search engines subscribe through this
	// single hook instead of each owning their own connection fan-out.
	onMessage func(username string, conn *Connection, msg Message)
}

// OnMessage registers the callback invoked for every frame received on
// any peer message connection. Must be called before any connection is
// established; the client façade wires it once at construction.
func (m *PeerManager) OnMessage(fn func(username string, conn *Connection, msg Message)) {
	m.onMessage = fn
}

func (m *PeerManager) superviseConnection(rec *peerRecord, conn *Connection) {
	m.metrics.PeerConnectionOpened()
	m.invoker.Spawn(func() {
		defer m.metrics.PeerConnectionClosed()
		defer m.releaseConnection(rec, conn)
		for {
			select {
			case msg, ok := <-conn.Inbox():
				if !ok {
					return
				}
				if m.onMessage != nil {
					m.onMessage(rec.username, conn, msg)
				}
			case <-conn.Done():
				return
			}
		}
	})
}

// releaseConnection runs once a supervised connection's read loop exits
// for any reason, clearing it from rec and releasing the capacity
// permit it held, if any, so a fresh establish for the same peer (or a
// different one waiting on ctx.Done in GetMessageConnection) can claim
// the slot immediately (spec.md §4.F: total live message connections
// never exceed ConcurrentMessageConnectionLimit).
func (m *PeerManager) releaseConnection(rec *peerRecord, conn *Connection) {
	rec.clearConnectionIfCurrent(conn)
	if rec.clearPermit() {
		<-m.maxConcurrent
	}
}

// SetMetrics wires an optional Prometheus collector set; nil (the
// zero value) leaves every instrumentation call a no-op.
func (m *PeerManager) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// SetUsername updates the username advertised in outbound PeerInit
// frames. The client façade constructs the manager before login (when
// the username is not yet known) and calls this once login succeeds;
// safe to call only before any peer connection has been established.
func (m *PeerManager) SetUsername(username string) {
	m.username = username
}

func NewPeerManager(username string, log types.Logger, invoker Invoker, waits *Registry, tokens *TokenAllocator, server ServerSender, concurrencyLimit int, dialTimeout, watchdog time.Duration) *PeerManager {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 1
	}
	return &PeerManager{
		username:      username,
		log:           log,
		invoker:       invoker,
		waits:         waits,
		tokens:        tokens,
		server:        server,
		dialTimeout:   dialTimeout,
		watchdog:      watchdog,
		maxConcurrent: make(chan struct{}, concurrencyLimit),
		records:       make(map[string]*peerRecord),
	}
}

func (m *PeerManager) recordFor(username string) *peerRecord {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	r, ok := m.records[username]
	if !ok {
		r = newPeerRecord(username)
		m.records[username] = r
	}
	return r
}

// GetMessageConnection returns an open peer message connection to
// username, establishing one if necessary. Concurrent callers for the
// same username share a single in-flight attempt (spec.md invariant:
// single-flight per peer).
func (m *PeerManager) GetMessageConnection(ctx context.Context, username string, addrLookup func(context.Context, string) (net.IP, int32, error)) (*Connection, error) {
	rec := m.recordFor(username)
	if c := rec.liveConnection(); c != nil {
		return c, nil
	}

	attempt, started := rec.joinOrStartEstablish()
	if !started {
		select {
		case <-attempt.done:
			return attempt.conn, attempt.err
		case <-ctx.Done():
			return nil, types.Wrap(types.Cancelled, ctx.Err(), "waiting for peer connection establishment")
		}
	}

	select {
	case m.maxConcurrent <- struct{}{}:
		rec.markPermitHeld()
	case <-ctx.Done():
		rec.finishEstablish(attempt, nil, ctx.Err())
		return nil, types.Wrap(types.Cancelled, ctx.Err(), "waiting for a connection slot")
	}

	conn, err := m.establish(ctx, username, rec, addrLookup)
	if err != nil {
		// Nothing came of the permit; release it now instead of
		// leaking it until some later connection for this peer happens
		// to tear down.
		if rec.clearPermit() {
			<-m.maxConcurrent
		}
	}
	rec.finishEstablish(attempt, conn, err)
	return conn, err
}

// establish races a direct dial (we look the peer's address up and
// connect to it) against an indirect one (we ask the server to ask the
// peer to dial us, then wait for its PierceFirewall). Whichever
// succeeds first wins; spec.md §4.F requires both to be attempted
// concurrently rather than serially with a fallback, since a peer
// behind a firewall never answers the direct attempt at all.
func (m *PeerManager) establish(parent context.Context, username string, rec *peerRecord, addrLookup func(context.Context, string) (net.IP, int32, error)) (*Connection, error) {
	ctx, cancel := context.WithTimeout(parent, m.dialTimeout)
	defer cancel()

	token := m.tokens.Next()
	type result struct {
		conn *Connection
		err  error
	}
	direct := make(chan result, 1)
	indirect := make(chan result, 1)

	m.invoker.Spawn(func() {
		c, err := m.dialDirect(ctx, username, rec, token, addrLookup)
		direct <- result{c, err}
	})
	m.invoker.Spawn(func() {
		c, err := m.solicitIndirect(ctx, username, rec, token)
		indirect <- result{c, err}
	})

	var firstErr error
	for i := 0; i < 2; i++ {
		select {
		case r := <-direct:
			if r.err == nil {
				return r.conn, nil
			}
			firstErr = r.err
		case r := <-indirect:
			if r.err == nil {
				return r.conn, nil
			}
			firstErr = r.err
		}
	}
	return nil, types.Wrap(types.ConnectionFailed, firstErr, fmt.Sprintf("could not establish a connection to %s", username))
}

func (m *PeerManager) dialDirect(ctx context.Context, username string, rec *peerRecord, token int32, addrLookup func(context.Context, string) (net.IP, int32, error)) (*Connection, error) {
	ip, port, err := addrLookup(ctx, username)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, types.NewError(types.ConnectionFailed, "peer advertised port 0")
	}
	addr := fmt.Sprintf("%s:%d", ip.String(), port)
	d := net.Dialer{}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, types.Wrap(types.ConnectionFailed, err, "direct dial failed")
	}
	init := protocol.EncodePeerInit(protocol.PeerInit{
		Username: m.username,
		Type:     protocol.PeerInitTypeMessage,
		Token:    token,
	})
	if err := protocol.WriteFrame(raw, init); err != nil {
		raw.Close()
		return nil, types.Wrap(types.ConnectionFailed, err, "direct PeerInit write failed")
	}
	conn := NewConnection(raw, m.log, m.watchdog)
	m.superviseConnection(rec, conn)
	return conn, nil
}

func (m *PeerManager) solicitIndirect(ctx context.Context, username string, rec *peerRecord, token int32) (*Connection, error) {
	req := protocol.EncodeConnectToPeerRequestOut(protocol.ConnectToPeerRequestOut{
		Token:    token,
		Username: username,
		Type:     protocol.PeerInitTypeMessage,
	})
	if err := m.server.SendServer(protocol.CodeConnectToPeer, req[4:]); err != nil {
		return nil, err
	}
	key := types.NewWaitKey(types.WaitSolicitedConnection, fmt.Sprintf("%d", token))
	raw, err := WaitIndefinite[net.Conn](ctx, m.waits, key)
	if err != nil {
		return nil, err
	}
	conn := NewConnection(raw, m.log, m.watchdog)
	m.superviseConnection(rec, conn)
	return conn, nil
}

// CompletePierceFirewall is called by the dispatcher when an inbound
// socket's leading frame turns out to be PierceFirewall, matching a
// token this manager is waiting on indirectly.
func (m *PeerManager) CompletePierceFirewall(token int32, conn net.Conn) bool {
	key := types.NewWaitKey(types.WaitSolicitedConnection, fmt.Sprintf("%d", token))
	return Complete[net.Conn](m.waits, key, conn)
}

// AttachIncomingMessageConnection adopts a peer-initiated socket
// (PeerInit with type "P") as username's live message connection,
// replacing anything already on file for them.
func (m *PeerManager) AttachIncomingMessageConnection(username string, raw net.Conn) *Connection {
	rec := m.recordFor(username)
	conn := NewConnection(raw, m.log, m.watchdog)
	rec.setConnection(conn)
	m.superviseConnection(rec, conn)
	return conn
}

// PeekLiveConnection returns username's currently live message
// connection without establishing a new one, for best-effort
// notifications that must never block on a fresh dial.
func (m *PeerManager) PeekLiveConnection(username string) (*Connection, bool) {
	c := m.recordFor(username).liveConnection()
	return c, c != nil
}

// HandleConnectToPeerRequest is the dispatcher's hook for a
// server-pushed rendezvous naming a message connection: we dial the
// soliciting peer directly, announce ourselves with PierceFirewall, and
// adopt the resulting socket as their live message connection
// (spec.md §4.F/G).
func (m *PeerManager) HandleConnectToPeerRequest(in protocol.ConnectToPeerRequestIn) {
	d := net.Dialer{}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	raw, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", in.IP.String(), in.Port))
	if err != nil {
		m.log.Warnf("could not dial back %s for token %d: %v", in.Username, in.Token, err)
		return
	}
	pierce := protocol.EncodePierceFirewall(protocol.PierceFirewall{Token: in.Token})
	if err := protocol.WriteFrame(raw, pierce); err != nil {
		raw.Close()
		return
	}
	m.AttachIncomingMessageConnection(in.Username, raw)
}

// Forget drops any connection on file for username, used when the
// server reports them offline or a transfer hard-fails. Closing the
// connection here also triggers its own superviseConnection goroutine
// to release the same permit, so clearPermit's once-only guard is what
// keeps the two from double-releasing the semaphore.
func (m *PeerManager) Forget(username string) {
	rec := m.recordFor(username)
	if c := rec.liveConnection(); c != nil {
		c.Close()
	}
	rec.setConnection(nil)
	if rec.clearPermit() {
		<-m.maxConcurrent
	}
}
