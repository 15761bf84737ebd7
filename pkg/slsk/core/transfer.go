package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/metrics"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// writeStartOffset writes the 8-byte little-endian start offset every
// transfer connection begins with, downloader-side (spec.md §9 Open
// Question #1: always 8 bytes, on both the immediate and queued paths).
// Shared by download.go so there is exactly one call site to get wrong.
func writeStartOffset(w io.Writer, offset int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	_, err := w.Write(buf[:])
	return err
}

// readStartOffset reads the downloader's 8-byte offset, uploader-side,
// before seeking the shared file and streaming from there.
func readStartOffset(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// TransferEngine owns every in-flight upload and download, correlating
// peer-session messages arriving on message connections with the
// matching transfer connection handoffs (spec.md §4.H). It depends on
// the peer manager for message connections and the wait registry for
// every asynchronous handoff a transfer goes through.
type TransferEngine struct {
	log     types.Logger
	invoker Invoker
	waits   *Registry
	tokens  *TokenAllocator
	peers   *PeerManager

	lookupPeerAddress func(context.Context, string) (net.IP, int32, error)
	server            ServerSender

	mu        sync.Mutex
	transfers map[int32]*types.TransferInternal

	shareLookup func(username, filename string) (size int64, ok bool)
	shareOpen   func(username, filename string, offset int64) (ReadSeekCloser, error)

	uploadLocksMu sync.Mutex
	uploadLocks   map[string]*sync.Mutex

	metrics *metrics.Metrics
}

// uploadLockFor returns the mutex serializing uploads to username. The
// official network never multiplexes two transfer connections to the
// same peer, so at most one upload handshake runs per peer at a time
// (spec.md §4.H.2 invariant #5).
func (e *TransferEngine) uploadLockFor(username string) *sync.Mutex {
	e.uploadLocksMu.Lock()
	defer e.uploadLocksMu.Unlock()
	if e.uploadLocks == nil {
		e.uploadLocks = make(map[string]*sync.Mutex)
	}
	lk, ok := e.uploadLocks[username]
	if !ok {
		lk = &sync.Mutex{}
		e.uploadLocks[username] = lk
	}
	return lk
}

// SetMetrics wires an optional Prometheus collector set; nil (the
// zero value) leaves every instrumentation call a no-op.
func (e *TransferEngine) SetMetrics(mx *metrics.Metrics) {
	e.metrics = mx
}

// ReadSeekCloser is the minimal file handle the upload path needs to
// serve a requested byte range.
type ReadSeekCloser interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

func NewTransferEngine(log types.Logger, invoker Invoker, waits *Registry, tokens *TokenAllocator, peers *PeerManager, server ServerSender, lookupPeerAddress func(context.Context, string) (net.IP, int32, error)) *TransferEngine {
	return &TransferEngine{
		log:               log,
		invoker:           invoker,
		waits:             waits,
		tokens:            tokens,
		peers:             peers,
		server:            server,
		lookupPeerAddress: lookupPeerAddress,
		transfers:         make(map[int32]*types.TransferInternal),
	}
}

// SetShareProvider wires the local file share backing uploads: a
// lookup for a requested file's size and an opener that seeks to the
// requested start offset. Without a provider, incoming upload requests
// are rejected.
func (e *TransferEngine) SetShareProvider(
	lookup func(username, filename string) (size int64, ok bool),
	open func(username, filename string, offset int64) (ReadSeekCloser, error),
) {
	e.shareLookup = lookup
	e.shareOpen = open
}

func (e *TransferEngine) register(t *types.TransferInternal) {
	e.mu.Lock()
	e.transfers[t.Token] = t
	e.mu.Unlock()
	e.metrics.TransferStarted(t.Direction.String())
}

func (e *TransferEngine) Lookup(token int32) (*types.TransferInternal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[token]
	return t, ok
}

func (e *TransferEngine) fail(t *types.TransferInternal, kind types.Kind, cause error, message string) {
	t.WithLock(func(ti *types.TransferInternal) {
		ti.State = types.TransferCompleted
		ti.Terminal = types.Errored
		ti.FailureMessage = message
		ti.EndTime = time.Now()
	})
	e.metrics.TransferFinished(t.Direction.String(), types.Errored.String())
	e.log.Warnf("transfer %d failed: %s: %v", t.Token, message, cause)
	e.notifyUploadFailed(t.Direction, t.Username, t.Filename)
}

// notifyUploadFailed best-effort informs the peer that an upload we were
// serving them has ended abnormally, matching the official client's
// UploadFailed push (spec.md §4.H.2 scenario 5). It never establishes a
// new connection and swallows send errors: the peer will notice the
// dead transfer connection regardless.
func (e *TransferEngine) notifyUploadFailed(direction types.TransferDirection, username, filename string) {
	if direction != types.Upload {
		return
	}
	conn, ok := e.peers.PeekLiveConnection(username)
	if !ok {
		return
	}
	_ = conn.Send(protocol.CodePeerUploadFailed, protocol.EncodeUploadFailed(protocol.UploadFailed{Filename: filename})[4:])
}

func (e *TransferEngine) succeed(t *types.TransferInternal) {
	t.WithLock(func(ti *types.TransferInternal) {
		ti.State = types.TransferCompleted
		ti.Terminal = types.Succeeded
		ti.EndTime = time.Now()
	})
	e.metrics.TransferFinished(t.Direction.String(), types.Succeeded.String())
	Complete[types.TransferSnapshot](e.waits, types.NewWaitKey(types.WaitTransferCompletion, fmt.Sprintf("%d", t.Token)), t.Snapshot())
}

func (e *TransferEngine) reject(t *types.TransferInternal, message string) {
	t.WithLock(func(ti *types.TransferInternal) {
		ti.State = types.TransferCompleted
		ti.Terminal = types.Rejected
		ti.RejectionMessage = message
		ti.EndTime = time.Now()
	})
	e.metrics.TransferFinished(t.Direction.String(), types.Rejected.String())
	e.notifyUploadFailed(t.Direction, t.Username, t.Filename)
}

// Cancel marks an in-progress or queued transfer Completed/Cancelled.
// It does not close the transfer's connection or stop a wait or stream
// already running for it; those go on until they end by themselves.
// Bytes already written to the caller's sink/reader are left as-is;
// cancellation is not a rollback.
func (e *TransferEngine) Cancel(token int32) error {
	t, ok := e.Lookup(token)
	if !ok {
		return types.NewError(types.TransferNotFound, fmt.Sprintf("no transfer with token %d", token))
	}
	var alreadyDone bool
	t.WithLock(func(ti *types.TransferInternal) {
		if ti.State == types.TransferCompleted {
			alreadyDone = true
			return
		}
		ti.State = types.TransferCompleted
		ti.Terminal = types.TransferCancelled
		ti.EndTime = time.Now()
	})
	if alreadyDone {
		return types.NewError(types.InvalidState, "transfer already finished")
	}
	return nil
}

// RouteDirectTransferConnection hands conn to whichever transfer is
// waiting on token under WaitDirectTransfer and reports whether one
// was. The dispatcher calls it for an incoming PeerInit "F" socket,
// whose token the listener has already read and checked, and
// HandleConnectToPeerRequest calls it for a socket it dialed back
// (spec.md §4.E/H boundary).
func (e *TransferEngine) RouteDirectTransferConnection(token int32, conn net.Conn) bool {
	key := types.NewWaitKey(types.WaitDirectTransfer, fmt.Sprintf("%d", token))
	return Complete[net.Conn](e.waits, key, conn)
}

// HandlePeerTransferRequest is invoked by whatever owns a peer message
// connection's read loop when a TransferRequest frame arrives, routing
// it to either a pending download (peer notifying us it's ready to
// send) or the upload acceptance path (peer asking to receive). msgConn
// is the connection the request arrived on, needed to answer directly
// when the peer is requesting an upload from us.
func (e *TransferEngine) HandlePeerTransferRequest(username string, msgConn *Connection, body []byte) {
	r := protocol.NewMessageReader(body)
	req, err := protocol.DecodeTransferRequest(r)
	if err != nil {
		e.log.Warnf("bad TransferRequest from %s: %v", username, err)
		return
	}
	if req.Direction == 1 {
		// Direction 1: the peer is ready to upload to us. This completes
		// the queued-path wait StartDownload parked on after the peer
		// answered "Queued.".
		Complete(e.waits, types.NewWaitKey(types.WaitTransferRequest, username, req.Filename), req)
		return
	}
	e.acceptUploadRequest(username, msgConn, req)
}

// HandleUploadFailed unblocks a pending StartDownload when the peer
// reports it cannot serve the file it was asked to queue.
func (e *TransferEngine) HandleUploadFailed(username string, body []byte) {
	r := protocol.NewMessageReader(body)
	failed, err := protocol.DecodeUploadFailed(r)
	if err != nil {
		e.log.Warnf("bad UploadFailed from %s: %v", username, err)
		return
	}
	Throw[protocol.TransferRequest](e.waits, types.NewWaitKey(types.WaitTransferRequest, username, failed.Filename),
		types.NewError(types.TransferRejected, "peer reports upload failed: "+failed.Filename))
}

// HandleQueueFailed unblocks a pending StartDownload when the peer
// rejects the QueueUpload request outright, naming a reason.
func (e *TransferEngine) HandleQueueFailed(username string, body []byte) {
	r := protocol.NewMessageReader(body)
	failed, err := protocol.DecodeQueueFailed(r)
	if err != nil {
		e.log.Warnf("bad QueueFailed from %s: %v", username, err)
		return
	}
	Throw[protocol.TransferRequest](e.waits, types.NewWaitKey(types.WaitTransferRequest, username, failed.Filename),
		types.NewError(types.TransferRejected, failed.Reason))
}

// GetPlaceInQueue asks the remote peer where a queued download currently
// sits in their upload queue (spec.md §6 get-download-place-in-queue).
func (e *TransferEngine) GetPlaceInQueue(ctx context.Context, token int32) (int32, error) {
	t, ok := e.Lookup(token)
	if !ok {
		return 0, types.NewError(types.TransferNotFound, fmt.Sprintf("no transfer with token %d", token))
	}
	var username, filename string
	t.WithLock(func(ti *types.TransferInternal) {
		username = ti.Username
		filename = ti.Filename
	})

	msgConn, err := e.peers.GetMessageConnection(ctx, username, e.lookupPeerAddress)
	if err != nil {
		return 0, err
	}
	if err := msgConn.Send(protocol.CodePeerPlaceInQueueRequest, protocol.EncodePlaceInQueueRequest(protocol.PlaceInQueueRequest{Filename: filename})[4:]); err != nil {
		return 0, types.Wrap(types.ConnectionFailed, err, "failed sending PlaceInQueueRequest")
	}

	key := types.NewWaitKey(types.WaitPlaceInQueue, username, filename)
	resp, err := Wait[protocol.PlaceInQueueResponse](ctx, e.waits, key, 15*time.Second)
	if err != nil {
		return 0, err
	}
	return resp.Place, nil
}

// HandlePlaceInQueueResponse completes whichever GetPlaceInQueue call is
// waiting on username+filename.
func (e *TransferEngine) HandlePlaceInQueueResponse(username string, body []byte) {
	r := protocol.NewMessageReader(body)
	resp, err := protocol.DecodePlaceInQueueResponse(r)
	if err != nil {
		e.log.Warnf("bad PlaceInQueueResponse from %s: %v", username, err)
		return
	}
	Complete(e.waits, types.NewWaitKey(types.WaitPlaceInQueue, username, resp.Filename), resp)
}

// EstablishTransferConnection races a direct outbound dial against an
// indirect, server-brokered rendezvous for a transfer socket tagged
// with token, mirroring PeerManager.establish for message connections
// (spec.md §4.F/H share the same rendezvous shape).
func (e *TransferEngine) EstablishTransferConnection(parent context.Context, username string, token int32) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	type result struct {
		conn net.Conn
		err  error
	}
	direct := make(chan result, 1)
	indirect := make(chan result, 1)

	e.invoker.Spawn(func() {
		c, err := e.dialTransferDirect(ctx, username, token)
		direct <- result{c, err}
	})
	e.invoker.Spawn(func() {
		c, err := e.solicitTransferIndirect(ctx, username, token)
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
	return nil, types.Wrap(types.ConnectionFailed, firstErr, fmt.Sprintf("could not open a transfer connection to %s", username))
}

func (e *TransferEngine) dialTransferDirect(ctx context.Context, username string, token int32) (net.Conn, error) {
	ip, port, err := e.lookupPeerAddress(ctx, username)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, types.NewError(types.ConnectionFailed, "peer advertised port 0")
	}
	d := net.Dialer{}
	raw, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip.String(), port))
	if err != nil {
		return nil, types.Wrap(types.ConnectionFailed, err, "direct transfer dial failed")
	}
	init := protocol.EncodePeerInit(protocol.PeerInit{Username: e.peers.username, Type: protocol.PeerInitTypeTransfer, Token: token})
	if err := protocol.WriteFrame(raw, init); err != nil {
		raw.Close()
		return nil, types.Wrap(types.ConnectionFailed, err, "direct transfer PeerInit write failed")
	}
	return raw, nil
}

func (e *TransferEngine) solicitTransferIndirect(ctx context.Context, username string, token int32) (net.Conn, error) {
	req := protocol.EncodeConnectToPeerRequestOut(protocol.ConnectToPeerRequestOut{
		Token:    token,
		Username: username,
		Type:     protocol.PeerInitTypeTransfer,
	})
	if err := e.server.SendServer(protocol.CodeConnectToPeer, req[4:]); err != nil {
		return nil, err
	}
	key := types.NewWaitKey(types.WaitDirectTransfer, fmt.Sprintf("%d", token))
	return WaitIndefinite[net.Conn](ctx, e.waits, key)
}

// HandleConnectToPeerRequest is the dispatcher's hook for a
// server-pushed rendezvous that names a transfer connection. It dials
// the soliciting peer directly and announces itself with
// PierceFirewall, then hands the raw socket to whichever transfer is
// waiting on the token (spec.md §4.G/H).
func (e *TransferEngine) HandleConnectToPeerRequest(in protocol.ConnectToPeerRequestIn) {
	d := net.Dialer{}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	raw, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", in.IP.String(), in.Port))
	if err != nil {
		e.log.Warnf("could not dial back %s for transfer token %d: %v", in.Username, in.Token, err)
		return
	}
	pierce := protocol.EncodePierceFirewall(protocol.PierceFirewall{Token: in.Token})
	if err := protocol.WriteFrame(raw, pierce); err != nil {
		raw.Close()
		return
	}
	if !e.RouteDirectTransferConnection(in.Token, raw) {
		e.log.Warnf("dialed back %s for transfer token %d but nothing was waiting on it", in.Username, in.Token)
		raw.Close()
	}
}
