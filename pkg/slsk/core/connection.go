package core

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// Message is one decoded frame delivered off a Connection's read loop,
// tagged with the code so a single subscriber channel can demux
// everything without a second parse pass.
type Message struct {
	Code uint32
	Body []byte
}

// Connection wraps a net.Conn with the framing, watchdog, and lifecycle
// behavior every server/peer/transfer socket in the client shares
// (spec.md §4.D). A context+CancelFunc pair drives shutdown, and a
// single background goroutine feeds a buffered channel that callers
// select on.
type Connection struct {
	ID   string
	conn net.Conn
	log  types.Logger

	inbox  chan Message
	closed chan struct{}
	once   sync.Once

	context context.Context
	finish  context.CancelFunc

	watchdog time.Duration
	lastSeen atomic64

	writeMu sync.Mutex
}

// atomic64 stores a unix-nano timestamp behind a mutex, read by the
// watchdog goroutine and written by the read/write paths.
type atomic64 struct {
	mu sync.Mutex
	v  int64
}

func (a *atomic64) set(v int64) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomic64) get() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// NewConnection takes ownership of conn: its read loop starts
// immediately and Close tears the socket down. watchdog is the
// inactivity timeout: once no frame has been read or written for longer
// than that, the connection closes itself through Close, which records
// no reason or error. Zero or a negative value disables the watchdog.
func NewConnection(conn net.Conn, log types.Logger, watchdog time.Duration) *Connection {
	ctx, done := context.WithCancel(context.Background())
	c := &Connection{
		ID:       uuid.NewString(),
		conn:     conn,
		log:      log.WithFields(types.Fields{"connection": conn.RemoteAddr().String()}),
		inbox:    make(chan Message, 64),
		closed:   make(chan struct{}),
		context:  ctx,
		finish:   done,
		watchdog: watchdog,
	}
	c.touch()
	go c.readLoop()
	if watchdog > 0 {
		go c.watch()
	}
	return c
}

func (c *Connection) touch() {
	c.lastSeen.set(time.Now().UnixNano())
}

// Inbox is the single subscriber channel for decoded frames. Only one
// goroutine should range over it; the connection does not fan out to
// multiple readers.
func (c *Connection) Inbox() <-chan Message {
	return c.inbox
}

// Done closes when the connection has torn down, for callers that want
// to select on connection loss without reading Inbox.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send frames and writes body. Writes are serialized so concurrent
// callers never interleave frame bytes on the wire.
func (c *Connection) Send(code uint32, body []byte) error {
	full := protocol.Frame(prefixCode(code, body))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return types.NewError(types.ConnectionFailed, "connection closed")
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write(full)
	if err != nil {
		c.Close()
		return types.Wrap(types.ConnectionFailed, err, "write failed")
	}
	c.touch()
	return nil
}

// SendRaw frames and writes body verbatim, without prefixing a code.
// Used for peer-init messages, which carry their own single-byte code
// already embedded by the caller's MessageBuilder.
func (c *Connection) SendRaw(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return types.NewError(types.ConnectionFailed, "connection closed")
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return err
	}
	if _, err := c.conn.Write(protocol.Frame(body)); err != nil {
		c.Close()
		return types.Wrap(types.ConnectionFailed, err, "write failed")
	}
	c.touch()
	return nil
}

func prefixCode(code uint32, body []byte) []byte {
	b := protocol.NewServerMessageBuilder(code)
	b2 := b.Bytes()
	return append(b2, body...)
}

func (c *Connection) readLoop() {
	defer c.Close()
	for {
		body, err := protocol.ReadFrame(c.conn)
		if err != nil {
			c.log.Debugf("read loop ending: %v", err)
			return
		}
		c.touch()
		r := protocol.NewMessageReader(body)
		code, err := r.GetUint32Code()
		if err != nil {
			c.log.Warnf("dropping undersized frame: %v", err)
			continue
		}
		msg := Message{Code: code, Body: body[4:]}
		select {
		case c.inbox <- msg:
		case <-c.context.Done():
			return
		}
	}
}

func (c *Connection) watch() {
	ticker := time.NewTicker(c.watchdog / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.context.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastSeen.get()))
			if idle > c.watchdog {
				c.log.Warnf("closing idle connection after %s", idle)
				c.Close()
				return
			}
		}
	}
}

// Close tears the connection down. Safe to call more than once and
// from multiple goroutines.
func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		c.finish()
		err = c.conn.Close()
		close(c.closed)
	})
	return err
}

// RawConn exposes the underlying net.Conn for the transfer engine,
// which needs to read/write raw byte streams outside the framed
// protocol once a transfer connection has been established (spec.md
// §4.H).
func (c *Connection) RawConn() net.Conn {
	return c.conn
}
