package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// acceptUploadRequest handles a peer's direct TransferRequest
// (direction 0: they want to pull a file from us without going through
// QueueUpload first). We answer immediately since there is no queueing
// concept without a configured queue depth limit in this engine
// (spec.md §4.H Non-goals: no upload slot scheduling).
func (e *TransferEngine) acceptUploadRequest(username string, msgConn *Connection, req protocol.TransferRequest) {
	var size int64
	ok := false
	if e.shareLookup != nil && e.shareOpen != nil {
		size, ok = e.shareLookup(username, req.Filename)
	}
	if !ok {
		_ = msgConn.Send(protocol.CodePeerTransferResponse, protocol.EncodeTransferResponse(protocol.TransferResponse{
			Token:   req.Token,
			Allowed: false,
			Message: "File not shared.",
		})[4:])
		return
	}

	// The official network never multiplexes two transfer connections to
	// the same peer; a TryLock here keeps this synchronous, inline on
	// the peer's shared message-dispatch goroutine, from ever blocking
	// it for the duration of someone else's upload.
	lock := e.uploadLockFor(username)
	if !lock.TryLock() {
		_ = msgConn.Send(protocol.CodePeerTransferResponse, protocol.EncodeTransferResponse(protocol.TransferResponse{
			Token:   req.Token,
			Allowed: false,
			Message: "Cannot multiplex uploads.",
		})[4:])
		return
	}

	t := types.NewTransferInternal(types.Upload, username, req.Filename, req.Token, 0)
	t.WithLock(func(ti *types.TransferInternal) {
		ti.Size = size
		ti.State = types.TransferRequested
	})
	e.register(t)

	if err := msgConn.Send(protocol.CodePeerTransferResponse, protocol.EncodeTransferResponse(protocol.TransferResponse{
		Token:   req.Token,
		Allowed: true,
		Size:    size,
	})[4:]); err != nil {
		e.fail(t, types.ConnectionFailed, err, "failed sending TransferResponse")
		lock.Unlock()
		return
	}

	t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferInitializing })
	e.invoker.Spawn(func() {
		defer lock.Unlock()
		e.serveUpload(context.Background(), t, username, req.Filename)
	})
}

// HandleQueueUpload processes an incoming QueueUpload (a peer asking us
// to upload req.Filename to them). It looks the file up in the share
// provider, allocates a transfer token, and sends the peer a
// TransferRequest so they can answer with a TransferResponse.
func (e *TransferEngine) HandleQueueUpload(ctx context.Context, username string, req protocol.QueueUpload) {
	msgConn, err := e.peers.GetMessageConnection(ctx, username, e.lookupPeerAddress)
	if err != nil {
		e.log.Warnf("cannot reach %s to answer QueueUpload: %v", username, err)
		return
	}

	var size int64
	ok := false
	if e.shareLookup != nil && e.shareOpen != nil {
		size, ok = e.shareLookup(username, req.Filename)
	}
	if !ok {
		_ = msgConn.Send(protocol.CodePeerUploadFailed, protocol.EncodeUploadFailed(protocol.UploadFailed{Filename: req.Filename})[4:])
		return
	}

	lock := e.uploadLockFor(username)
	if !lock.TryLock() {
		_ = msgConn.Send(protocol.CodePeerUploadFailed, protocol.EncodeUploadFailed(protocol.UploadFailed{Filename: req.Filename})[4:])
		return
	}

	token := e.tokens.Next()
	t := types.NewTransferInternal(types.Upload, username, req.Filename, token, 0)
	t.WithLock(func(ti *types.TransferInternal) {
		ti.Size = size
		ti.State = types.TransferQueued
	})
	e.register(t)

	if err := msgConn.Send(protocol.CodePeerTransferRequest, protocol.EncodeTransferRequest(protocol.TransferRequest{
		Direction: 1,
		Token:     token,
		Filename:  req.Filename,
		Size:      size,
	})[4:]); err != nil {
		e.fail(t, types.ConnectionFailed, err, "failed sending TransferRequest")
		lock.Unlock()
		return
	}

	respKey := types.NewWaitKey(types.WaitTransferResponse, fmt.Sprintf("%d", token))
	resp, err := WaitIndefinite[protocol.TransferResponse](ctx, e.waits, respKey)
	if err != nil {
		e.fail(t, types.Timeout, err, "peer never answered TransferResponse")
		lock.Unlock()
		return
	}
	if !resp.Allowed {
		e.reject(t, resp.Message)
		lock.Unlock()
		return
	}

	t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferInitializing })
	e.invoker.Spawn(func() {
		defer lock.Unlock()
		e.serveUpload(ctx, t, username, req.Filename)
	})
}

// HandlePeerTransferResponse completes whichever upload (HandleQueueUpload)
// or download (StartDownload) is waiting on the matching token.
func (e *TransferEngine) HandlePeerTransferResponse(body []byte) {
	r := protocol.NewMessageReader(body)
	resp, err := protocol.DecodeTransferResponse(r)
	if err != nil {
		e.log.Warnf("bad TransferResponse: %v", err)
		return
	}
	Complete(e.waits, types.NewWaitKey(types.WaitTransferResponse, fmt.Sprintf("%d", resp.Token)), resp)
}

func (e *TransferEngine) serveUpload(ctx context.Context, t *types.TransferInternal, username, filename string) {
	conn, err := e.EstablishTransferConnection(ctx, username, t.Token)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "could not open transfer connection")
		return
	}
	defer conn.Close()

	offset, err := readStartOffset(conn)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "failed reading start offset")
		return
	}
	t.WithLock(func(ti *types.TransferInternal) { ti.StartOffset = offset })

	file, err := e.shareOpen(username, filename, offset)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "could not open local share file")
		return
	}
	defer file.Close()

	t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferInProgress })
	n, err := io.Copy(conn, file)
	t.WithLock(func(ti *types.TransferInternal) { ti.BytesTransferred = offset + n })
	e.metrics.BytesTransferred(types.Upload.String(), n)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "upload stream failed")
		return
	}

	// The downloader closes its side once it has read everything; wait
	// for that close here so the connection drains cleanly instead of
	// racing our own Close against its last read. Bounded so a peer that
	// never closes (crash, dead link, bad actor) can't pin this upload
	// open forever.
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var discard [1]byte
	_, _ = conn.Read(discard[:])
	e.succeed(t)
}
