package core

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// IncomingKind classifies an accepted socket by its first frame, before
// a Connection is handed off to the peer manager (spec.md §4.E).
type IncomingKind int

const (
	IncomingUnknown IncomingKind = iota
	IncomingPeerMessage
	IncomingTransfer
)

// Incoming is one accepted, classified socket ready for handoff.
type Incoming struct {
	Kind     IncomingKind
	Username string // only set for IncomingPeerMessage/IncomingTransfer via PeerInit
	Token    int32  // token from the PeerInit or PierceFirewall frame
	Conn     net.Conn
	FirstMsg []byte // not filled in by classify; always nil
}

// Listener accepts inbound TCP connections on the port advertised to
// the server via SetListenPort and classifies each one by its first
// frame: a PeerInit frame (0x05) carries a username, type tag and token
// (on a transfer "F" socket the token follows again, raw and unframed),
// a PierceFirewall frame (0x01) answers a ConnectToPeerRequest we
// issued, and any other first frame closes the socket (spec.md §4.E/H).
type Listener struct {
	listener net.Listener
	log      types.Logger
	invoker  Invoker
	incoming chan Incoming
}

func NewListener(ln net.Listener, log types.Logger, invoker Invoker) *Listener {
	l := &Listener{
		listener: ln,
		log:      log,
		invoker:  invoker,
		incoming: make(chan Incoming, 16),
	}
	invoker.Spawn(l.acceptLoop)
	return l
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) Incoming() <-chan Incoming {
	return l.incoming
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.log.Infof("listener stopped accepting: %v", err)
			return
		}
		l.invoker.Spawn(func() {
			l.classify(conn)
		})
	}
}

func (l *Listener) classify(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		conn.Close()
		return
	}
	body, err := protocol.ReadFrame(conn)
	if err != nil {
		l.log.Debugf("discarding unclassifiable connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	r := protocol.NewMessageReader(body)
	code, err := r.GetUint8Code()
	if err != nil {
		conn.Close()
		return
	}

	switch code {
	case protocol.CodePeerInit:
		init, err := protocol.DecodePeerInit(body[1:])
		if err != nil {
			l.log.Warnf("bad PeerInit from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		kind := IncomingPeerMessage
		if init.Type == protocol.PeerInitTypeTransfer {
			kind = IncomingTransfer
			// The official client repeats the token once more, raw and
			// unframed, immediately after PeerInit on a transfer socket
			// (spec.md §4.F, §8 scenario 3) — redundant with the one
			// already inside PeerInit, but we must consume it before the
			// downloader's stream reader gets at the file bytes.
			remote, err := readTransferToken(conn)
			if err != nil {
				l.log.Warnf("reading transfer token from %s: %v", conn.RemoteAddr(), err)
				conn.Close()
				return
			}
			if remote != init.Token {
				l.log.Warnf("transfer token mismatch from %s: PeerInit said %d, socket said %d", conn.RemoteAddr(), init.Token, remote)
				conn.Close()
				return
			}
		}
		_ = conn.SetReadDeadline(time.Time{})
		l.deliver(Incoming{Kind: kind, Username: init.Username, Token: init.Token, Conn: conn})
	case protocol.CodePierceFirewall:
		pierce, err := protocol.DecodePierceFirewall(body[1:])
		if err != nil {
			l.log.Warnf("bad PierceFirewall from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Time{})
		l.deliver(Incoming{Kind: IncomingUnknown, Token: pierce.Token, Conn: conn})
	default:
		l.log.Warnf("unrecognized init code %#x from %s", code, conn.RemoteAddr())
		conn.Close()
	}
}

// readTransferToken reads the 4-byte little-endian token a peer writes,
// unframed, right after PeerInit on a transfer ("F") connection.
func readTransferToken(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (l *Listener) deliver(in Incoming) {
	select {
	case l.incoming <- in:
	case <-time.After(time.Second):
		l.log.Warnf("incoming connection dropped: backlog full")
		in.Conn.Close()
	}
}
