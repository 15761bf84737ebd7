package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// DownloadRequest describes a caller's intent to pull one file from a
// peer. The file size is learned from the peer's answer (its
// TransferResponse on the immediate path, its own TransferRequest on
// the queued path) and recorded on the returned TransferInternal.
type DownloadRequest struct {
	Username string
	Filename string
	Sink     io.Writer // receives the raw bytes as they arrive
	// StartOffset resumes a partial download; the peer is expected to
	// seek its share file forward by this many bytes before streaming
	// (spec.md §9 Open Question #1 / scenario 4).
	StartOffset int64
}

// StartDownload drives a download through whichever of the two paths
// spec.md §4.H.1 the peer chooses: we always ask first with our own
// TransferRequest{Download,token,filename}, but register the queued-path
// wait before sending it so a peer that answers allowed=false/"Queued."
// and then immediately follows up with its own TransferRequest is never
// missed (spec.md: "the caller registers an indefinite wait ... before
// sending its own request").
func (e *TransferEngine) StartDownload(ctx context.Context, req DownloadRequest) (*types.TransferInternal, error) {
	token := e.tokens.Next()
	t := types.NewTransferInternal(types.Download, req.Username, req.Filename, token, req.StartOffset)
	t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferRequested })
	e.register(t)

	msgConn, err := e.peers.GetMessageConnection(ctx, req.Username, e.lookupPeerAddress)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "could not reach peer to request download")
		return t, err
	}

	queueCtx, cancelQueueWait := context.WithCancel(context.Background())
	defer cancelQueueWait()
	queuedKey := types.NewWaitKey(types.WaitTransferRequest, req.Username, req.Filename)
	type queuedResult struct {
		req protocol.TransferRequest
		err error
	}
	queuedC := make(chan queuedResult, 1)
	e.invoker.Spawn(func() {
		peerReq, err := WaitIndefinite[protocol.TransferRequest](queueCtx, e.waits, queuedKey)
		queuedC <- queuedResult{peerReq, err}
	})

	if err := msgConn.Send(protocol.CodePeerTransferRequest, protocol.EncodeTransferRequest(protocol.TransferRequest{
		Direction: 0,
		Token:     token,
		Filename:  req.Filename,
	})[4:]); err != nil {
		e.fail(t, types.ConnectionFailed, err, "failed sending TransferRequest")
		return t, err
	}

	respKey := types.NewWaitKey(types.WaitTransferResponse, fmt.Sprintf("%d", token))
	resp, err := Wait[protocol.TransferResponse](ctx, e.waits, respKey, 30*time.Second)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "peer never answered TransferResponse")
		return t, err
	}

	if !resp.Allowed {
		if resp.Message == "File not shared." {
			e.reject(t, resp.Message)
			return t, nil
		}
		// Queued path: park until the peer's own TransferRequest supplies
		// size and remoteToken (spec.md §4.H.1 "Queued path").
		t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferQueued })
		select {
		case qr := <-queuedC:
			if qr.err != nil {
				e.fail(t, types.Timeout, qr.err, "peer never requested the transfer")
				return t, qr.err
			}
			return e.finishQueuedDownload(ctx, t, msgConn, qr.req, req)
		case <-ctx.Done():
			e.fail(t, types.Cancelled, ctx.Err(), "cancelled while queued")
			return t, ctx.Err()
		}
	}

	// Immediate path: allowed=true, we open the transfer connection
	// ourselves (spec.md §4.H.1 "Immediate path").
	t.WithLock(func(ti *types.TransferInternal) {
		ti.Size = resp.Size
		ti.State = types.TransferInitializing
	})

	raw, err := e.EstablishTransferConnection(ctx, req.Username, token)
	if err != nil {
		e.fail(t, types.ConnectionFailed, err, "could not open transfer connection")
		return t, err
	}

	e.invoker.Spawn(func() {
		e.runDownloadStream(ctx, t, raw, req.Sink, req.StartOffset)
	})
	return t, nil
}

// finishQueuedDownload answers the peer's own TransferRequest (received
// after we were told "Queued.") and parks for the transfer connection
// the peer opens to us, keyed by the remote token it carried.
func (e *TransferEngine) finishQueuedDownload(ctx context.Context, t *types.TransferInternal, msgConn *Connection, peerReq protocol.TransferRequest, req DownloadRequest) (*types.TransferInternal, error) {
	t.WithLock(func(ti *types.TransferInternal) {
		ti.RemoteToken = peerReq.Token
		ti.Size = peerReq.Size
		ti.State = types.TransferRequested
	})

	if err := msgConn.Send(protocol.CodePeerTransferResponse, protocol.EncodeTransferResponse(protocol.TransferResponse{
		Token:   peerReq.Token,
		Allowed: true,
		Size:    peerReq.Size,
	})[4:]); err != nil {
		e.fail(t, types.ConnectionFailed, err, "failed sending TransferResponse")
		return t, err
	}

	t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferInitializing })

	transferConnKey := types.NewWaitKey(types.WaitDirectTransfer, fmt.Sprintf("%d", peerReq.Token))
	raw, err := WaitIndefinite[net.Conn](ctx, e.waits, transferConnKey)
	if err != nil {
		e.fail(t, types.Timeout, err, "peer never opened the transfer connection")
		return t, err
	}

	e.invoker.Spawn(func() {
		e.runDownloadStream(ctx, t, raw, req.Sink, req.StartOffset)
	})
	return t, nil
}

func (e *TransferEngine) runDownloadStream(ctx context.Context, t *types.TransferInternal, raw net.Conn, sink io.Writer, startOffset int64) {
	defer raw.Close()

	if err := writeStartOffset(raw, startOffset); err != nil {
		e.fail(t, types.ConnectionFailed, err, "failed writing start offset")
		return
	}
	t.WithLock(func(ti *types.TransferInternal) { ti.State = types.TransferInProgress })

	counted := &countingWriter{w: sink, n: startOffset}
	_, err := io.Copy(counted, raw)
	t.WithLock(func(ti *types.TransferInternal) {
		ti.BytesTransferred = counted.n
	})
	e.metrics.BytesTransferred(types.Download.String(), counted.n-startOffset)
	if err != nil && err != io.EOF {
		e.fail(t, types.ConnectionFailed, err, "transfer connection failed mid-stream")
		return
	}
	e.succeed(t)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
