package core

import (
	"sync"

	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// peerRecord holds one username's live message connection and
// coordinates concurrent callers that all want to talk to the same
// peer at once. A single mutex per record makes connection
// establishment single-flight without a separate lock manager.
type peerRecord struct {
	mu sync.Mutex

	username string
	conn     *Connection

	// heldPermit is true while this record's connection (or the
	// in-flight establish that will produce it) counts against the
	// manager's ConcurrentMessageConnectionLimit semaphore. Cleared
	// exactly once, by whichever of disconnect or Forget notices first.
	heldPermit bool

	// establishing is non-nil while a dial is in flight; concurrent
	// callers join it instead of starting a second dial.
	establishing *establishAttempt
}

type establishAttempt struct {
	done chan struct{}
	conn *Connection
	err  error
}

func newPeerRecord(username string) *peerRecord {
	return &peerRecord{username: username}
}

// liveConnection returns the record's connection if it is still open,
// clearing it first if the peer side closed it.
func (p *peerRecord) liveConnection() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	select {
	case <-p.conn.Done():
		p.conn = nil
		return nil
	default:
		return p.conn
	}
}

func (p *peerRecord) setConnection(c *Connection) {
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
}

// clearConnectionIfCurrent drops c from the record, but only if c is
// still the live connection on file — a newer connection that already
// replaced it (a fresh establish racing a slow teardown) is left alone.
func (p *peerRecord) clearConnectionIfCurrent(c *Connection) {
	p.mu.Lock()
	if p.conn == c {
		p.conn = nil
	}
	p.mu.Unlock()
}

// markPermitHeld records that this record now owns a capacity permit,
// acquired by the caller just before calling establish.
func (p *peerRecord) markPermitHeld() {
	p.mu.Lock()
	p.heldPermit = true
	p.mu.Unlock()
}

// clearPermit reports whether this record was holding a capacity
// permit and, if so, clears the flag. It returns true only once per
// permit acquired, so a natural disconnect racing an explicit Forget
// never releases the same slot twice.
func (p *peerRecord) clearPermit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.heldPermit {
		return false
	}
	p.heldPermit = false
	return true
}

// joinOrStartEstablish returns (attempt, started). When started is
// true the caller owns the attempt and must call finishEstablish; otherwise
// the caller should wait on attempt.done.
func (p *peerRecord) joinOrStartEstablish() (*establishAttempt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.establishing != nil {
		return p.establishing, false
	}
	a := &establishAttempt{done: make(chan struct{})}
	p.establishing = a
	return a, true
}

func (p *peerRecord) finishEstablish(a *establishAttempt, conn *Connection, err error) {
	a.conn = conn
	a.err = err
	close(a.done)
	p.mu.Lock()
	if err == nil {
		p.conn = conn
	}
	p.establishing = nil
	p.mu.Unlock()
}

func (p *peerRecord) errorf(kind types.Kind, msg string) error {
	return types.NewError(kind, p.username+": "+msg)
}
