package core

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gosoulseek/slsk/internal/slsktest"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// fakeShareFile adapts a strings.Reader into the ReadSeekCloser the
// upload path expects from a local share provider.
type fakeShareFile struct {
	*strings.Reader
}

func (fakeShareFile) Close() error { return nil }

func waitForSolicitedToken(t *testing.T, server *fakeServerSender, timeout time.Duration) int32 {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		server.mu.Lock()
		if len(server.sent) > 0 {
			r := protocol.NewMessageReader(server.sent[0].body)
			tok, err := r.GetInt32()
			server.mu.Unlock()
			if err != nil {
				t.Fatalf("decoding ConnectToPeerRequest: %v", err)
			}
			return tok
		}
		server.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never solicited an indirect transfer connection")
	return 0
}

func Test_AcceptUploadRequest_ServesSharedFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine, peerSide, server := newTestTransferSetup(t, "downloader1")
	defer peerSide.Close()

	const content = "hello world"
	engine.SetShareProvider(
		func(username, filename string) (int64, bool) {
			if filename == "track.flac" {
				return int64(len(content)), true
			}
			return 0, false
		},
		func(username, filename string, offset int64) (ReadSeekCloser, error) {
			r := strings.NewReader(content)
			r.Seek(offset, io.SeekStart)
			return fakeShareFile{r}, nil
		},
	)

	const requestToken = int32(42)
	if err := protocol.WriteFrame(peerSide, protocol.EncodeTransferRequest(protocol.TransferRequest{
		Direction: 0,
		Token:     requestToken,
		Filename:  "track.flac",
	})); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	respBody, err := protocol.ReadFrame(peerSide)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	r := protocol.NewMessageReader(respBody)
	if _, err := r.GetUint32Code(); err != nil {
		t.Fatalf("GetUint32Code: %v", err)
	}
	resp, err := protocol.DecodeTransferResponse(r)
	if err != nil {
		t.Fatalf("DecodeTransferResponse: %v", err)
	}
	if !resp.Allowed || resp.Size != int64(len(content)) {
		t.Fatalf("got %+v", resp)
	}

	token := waitForSolicitedToken(t, server, time.Second)
	if token != requestToken {
		t.Fatalf("solicited token %d, want %d", token, requestToken)
	}

	transferConn, remote := net.Pipe()
	if !engine.RouteDirectTransferConnection(token, transferConn) {
		t.Fatal("RouteDirectTransferConnection found nothing waiting")
	}
	defer remote.Close()

	if err := writeStartOffset(remote, 0); err != nil {
		t.Fatalf("writeStartOffset: %v", err)
	}

	gotC := make(chan string, 1)
	go func() {
		buf := make([]byte, len(content))
		_, err := io.ReadFull(remote, buf)
		// The real downloader knows the file size up front and closes
		// its side once it has read that many bytes; the uploader's
		// trailing discard read (serveUpload) is what then notices the
		// close and lets it return.
		remote.Close()
		if err != nil {
			gotC <- ""
			return
		}
		gotC <- string(buf)
	}()

	select {
	case got := <-gotC:
		if got != content {
			t.Errorf("got body %q, want %q", got, content)
		}
	case <-time.After(time.Second):
		t.Fatal("upload never streamed its content")
	}

	transfer, ok := engine.Lookup(requestToken)
	if !ok {
		t.Fatal("transfer not registered under its token")
	}
	snap := waitForTerminal(t, transfer, time.Second)
	if snap.Terminal != types.Succeeded {
		t.Errorf("got terminal %v, want Succeeded", snap.Terminal)
	}
}

func Test_AcceptUploadRequest_RejectsUnsharedFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine, peerSide, _ := newTestTransferSetup(t, "downloader2")
	defer peerSide.Close()

	engine.SetShareProvider(
		func(username, filename string) (int64, bool) { return 0, false },
		func(username, filename string, offset int64) (ReadSeekCloser, error) { panic("not reached") },
	)

	if err := protocol.WriteFrame(peerSide, protocol.EncodeTransferRequest(protocol.TransferRequest{
		Direction: 0,
		Token:     7,
		Filename:  "nope.flac",
	})); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	respBody, err := protocol.ReadFrame(peerSide)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	r := protocol.NewMessageReader(respBody)
	if _, err := r.GetUint32Code(); err != nil {
		t.Fatalf("GetUint32Code: %v", err)
	}
	resp, err := protocol.DecodeTransferResponse(r)
	if err != nil {
		t.Fatalf("DecodeTransferResponse: %v", err)
	}
	if resp.Allowed || resp.Message != "File not shared." {
		t.Fatalf("got %+v", resp)
	}

	if _, ok := engine.Lookup(7); ok {
		t.Error("a rejected upload should never be registered as a transfer")
	}
}

func Test_HandleQueueUpload_RequestsAndServes(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine, peerSide, server := newTestTransferSetup(t, "downloader3")
	defer peerSide.Close()

	const content = "queued bytes"
	engine.SetShareProvider(
		func(username, filename string) (int64, bool) { return int64(len(content)), true },
		func(username, filename string, offset int64) (ReadSeekCloser, error) {
			r := strings.NewReader(content)
			r.Seek(offset, io.SeekStart)
			return fakeShareFile{r}, nil
		},
	)

	go engine.HandleQueueUpload(context.Background(), "downloader3", protocol.QueueUpload{Filename: "queued.flac"})

	reqBody, err := protocol.ReadFrame(peerSide)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	rr := protocol.NewMessageReader(reqBody)
	if _, err := rr.GetUint32Code(); err != nil {
		t.Fatalf("GetUint32Code: %v", err)
	}
	req, err := protocol.DecodeTransferRequest(rr)
	if err != nil {
		t.Fatalf("DecodeTransferRequest: %v", err)
	}
	if req.Direction != 1 || req.Size != int64(len(content)) {
		t.Fatalf("got %+v", req)
	}

	if err := protocol.WriteFrame(peerSide, protocol.EncodeTransferResponse(protocol.TransferResponse{
		Token:   req.Token,
		Allowed: true,
	})); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	token := waitForSolicitedToken(t, server, time.Second)
	if token != req.Token {
		t.Fatalf("solicited token %d, want %d", token, req.Token)
	}

	transferConn, remote := net.Pipe()
	if !engine.RouteDirectTransferConnection(token, transferConn) {
		t.Fatal("RouteDirectTransferConnection found nothing waiting")
	}
	defer remote.Close()

	if err := writeStartOffset(remote, 0); err != nil {
		t.Fatalf("writeStartOffset: %v", err)
	}
	got := make([]byte, len(content))
	if _, err := io.ReadFull(remote, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	// The uploader's trailing discard read waits for us to close before
	// it calls this transfer done; close now so serveUpload can finish.
	remote.Close()
	if string(got) != content {
		t.Errorf("got body %q, want %q", got, content)
	}

	transfer, ok := engine.Lookup(req.Token)
	if !ok {
		t.Fatal("transfer not registered under its token")
	}
	snap := waitForTerminal(t, transfer, time.Second)
	if snap.Terminal != types.Succeeded {
		t.Errorf("got terminal %v, want Succeeded", snap.Terminal)
	}
}
