package types

import (
	"sync"
	"time"
)

// TransferDirection distinguishes a download from an upload.
type TransferDirection int

const (
	Download TransferDirection = iota
	Upload
)

func (d TransferDirection) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// TransferState is the non-terminal state of a transfer's lifecycle.
type TransferState int

const (
	TransferNone TransferState = iota
	TransferQueued
	TransferRequested
	TransferInitializing
	TransferInProgress
	TransferCompleted
)

func (s TransferState) String() string {
	switch s {
	case TransferNone:
		return "None"
	case TransferQueued:
		return "Queued"
	case TransferRequested:
		return "Requested"
	case TransferInitializing:
		return "Initializing"
	case TransferInProgress:
		return "InProgress"
	case TransferCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// TerminalState refines TransferCompleted into the exact outcome.
// It is the zero value (TerminalNone) until the transfer reaches
// TransferCompleted, at which point exactly one of the other values is
// set, never more than once.
type TerminalState int

const (
	TerminalNone TerminalState = iota
	Succeeded
	Errored
	TimedOut
	TransferCancelled
	Rejected
)

func (t TerminalState) String() string {
	switch t {
	case TerminalNone:
		return "None"
	case Succeeded:
		return "Succeeded"
	case Errored:
		return "Errored"
	case TimedOut:
		return "TimedOut"
	case TransferCancelled:
		return "Cancelled"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// TransferInternal is the per-transfer record a Client keeps in its
// downloads/uploads map under Token, inserted on operation start and
// removed in the cleanup path regardless of outcome.
type TransferInternal struct {
	mu sync.Mutex

	Direction TransferDirection
	Username  string
	Filename  string
	Token     int32

	// RemoteToken is the peer's own token for this transfer, learned
	// either from the immediate-path handshake (4 bytes read off the
	// transfer connection) or from the peer's own TransferRequest on
	// the queued path. Zero until known.
	RemoteToken int32

	Size             int64
	StartOffset      int64
	BytesTransferred int64

	State    TransferState
	Terminal TerminalState

	// WaitKey is the key under which a completion wait is held for the
	// duration of the transfer (§4.H.1 "Completion wait").
	WaitKey WaitKey

	StartTime time.Time
	EndTime   time.Time

	RejectionMessage string
	FailureMessage   string
}

// NewTransferInternal constructs a TransferInternal in state None.
func NewTransferInternal(direction TransferDirection, username, filename string, token int32, startOffset int64) *TransferInternal {
	return &TransferInternal{
		Direction:   direction,
		Username:    username,
		Filename:    filename,
		Token:       token,
		StartOffset: startOffset,
		State:       TransferNone,
	}
}

// Snapshot returns a copy of the fields safe to hand to a progress/state
// observer without holding the transfer's lock while the observer runs.
type TransferSnapshot struct {
	Direction        TransferDirection
	Username         string
	Filename         string
	Token            int32
	Size             int64
	StartOffset      int64
	BytesTransferred int64
	State            TransferState
	Terminal         TerminalState
	StartTime        time.Time
	EndTime          time.Time
}

// WithLock runs fn with the transfer's mutex held and returns a snapshot
// taken after fn returns, so callers never observe a torn intermediate
// state and never hold the lock while invoking a caller-supplied
// observer (spec.md §5, "never hold a lock while invoking caller-supplied
// observers").
func (t *TransferInternal) WithLock(fn func(*TransferInternal)) TransferSnapshot {
	t.mu.Lock()
	fn(t)
	snap := t.snapshotLocked()
	t.mu.Unlock()
	return snap
}

func (t *TransferInternal) Snapshot() TransferSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *TransferInternal) snapshotLocked() TransferSnapshot {
	return TransferSnapshot{
		Direction:        t.Direction,
		Username:         t.Username,
		Filename:         t.Filename,
		Token:            t.Token,
		Size:             t.Size,
		StartOffset:      t.StartOffset,
		BytesTransferred: t.BytesTransferred,
		State:            t.State,
		Terminal:         t.Terminal,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
	}
}

// PercentComplete reports progress as a value in [0, 100]. Zero-byte
// transfers report 0 even once Succeeded (spec.md §8 boundary behavior).
func (s TransferSnapshot) PercentComplete() float64 {
	if s.Size <= 0 {
		return 0
	}
	pct := float64(s.BytesTransferred) / float64(s.Size) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// AverageSpeed is bytes/second since StartTime, or 0 before InProgress
// has been entered or before any time has elapsed.
func (s TransferSnapshot) AverageSpeed() float64 {
	if s.StartTime.IsZero() {
		return 0
	}
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.BytesTransferred) / elapsed
}

// RemainingTime is undefined (ok=false) unless AverageSpeed > 0.
func (s TransferSnapshot) RemainingTime() (time.Duration, bool) {
	speed := s.AverageSpeed()
	if speed <= 0 {
		return 0, false
	}
	remaining := float64(s.Size-s.BytesTransferred) / speed
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining * float64(time.Second)), true
}
