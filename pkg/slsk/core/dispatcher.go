package core

import (
	"context"

	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// EventHandlers collects the callbacks a client façade registers for
// server-pushed broadcasts the dispatcher cannot resolve through the
// wait registry alone (spec.md §4.G). The connect-to-peer rendezvous
// push is not among them: it always gets an active response (dial back
// and PierceFirewall), handled internally by the peer manager and
// transfer engine rather than surfaced as an optional callback.
type EventHandlers struct {
	OnUserStatusChanged  func(types.UserStatus)
	OnPrivateMessage     func(protocol.PrivateMessageEvent)
	OnRoomMessage        func(protocol.SayInRoomEvent)
	OnGlobalAdminMessage func(string)
	OnKicked             func()
}

// Dispatcher owns the server Connection's read loop and routes every
// decoded frame either into the wait registry (request/response
// exchanges) or out to the registered event handlers (unsolicited
// pushes). One goroutine drains the transport; a second layer
// interprets message semantics.
type Dispatcher struct {
	conn      *Connection
	log       types.Logger
	waits     *Registry
	invoker   Invoker
	handlers  EventHandlers
	peers     *PeerManager
	transfers *TransferEngine
}

func NewDispatcher(conn *Connection, log types.Logger, waits *Registry, invoker Invoker, handlers EventHandlers, peers *PeerManager, transfers *TransferEngine) *Dispatcher {
	d := &Dispatcher{conn: conn, log: log, waits: waits, invoker: invoker, handlers: handlers, peers: peers, transfers: transfers}
	invoker.Spawn(d.run)
	return d
}

func (d *Dispatcher) SendServer(code uint32, body []byte) error {
	return d.conn.Send(code, body)
}

func (d *Dispatcher) run() {
	for {
		select {
		case msg, ok := <-d.conn.Inbox():
			if !ok {
				return
			}
			d.invoker.Spawn(func() {
				d.route(msg)
			})
		case <-d.conn.Done():
			d.waits.CancelEverything("server connection closed")
			return
		}
	}
}

func (d *Dispatcher) route(msg Message) {
	r := protocol.NewMessageReader(msg.Body)
	switch msg.Code {
	case protocol.CodeLogin:
		resp, err := protocol.DecodeLoginResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitLoginResponse), resp, err)

	case protocol.CodeGetPeerAddress:
		resp, err := protocol.DecodeGetPeerAddressResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitPeerAddress, resp.Username), resp, err)

	case protocol.CodeGetUserStatus:
		resp, err := protocol.DecodeGetUserStatusResponse(r)
		if err != nil {
			d.log.Warnf("bad GetUserStatus response: %v", err)
			return
		}
		// Code 7 doubles as both the GetUserStatus reply and the
		// server's unsolicited status-change push for watched users;
		// Complete is a no-op if nothing is waiting on this username.
		d.completeOrThrow(types.NewWaitKey(types.WaitUserStatus, resp.Username), resp, nil)
		if d.handlers.OnUserStatusChanged != nil {
			d.handlers.OnUserStatusChanged(types.UserStatus{
				Username:   resp.Username,
				Status:     types.UserStatusValue(resp.Status),
				Privileged: resp.Privileged,
			})
		}

	case protocol.CodeAddUser:
		resp, err := protocol.DecodeAddUserResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitAddUser, resp.Username), resp, err)

	case protocol.CodeGetUserStats:
		resp, err := protocol.DecodeGetUserStatsResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitUserStats, resp.Username), resp, err)

	case protocol.CodeCheckPrivileges:
		resp, err := protocol.DecodeCheckPrivilegesResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitUserPrivileges), resp, err)

	case protocol.CodeChangePassword:
		resp, err := protocol.DecodeChangePasswordResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitChangePassword), resp, err)

	case protocol.CodeGetRoomList:
		resp, err := protocol.DecodeRoomListResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitRoomList), resp, err)

	case protocol.CodePrivilegedUsers:
		resp, err := protocol.DecodePrivilegedUsersResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitPrivilegedUsers), resp, err)

	case protocol.CodeWishlistInterval:
		resp, err := protocol.DecodeWishlistIntervalResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitWishlistInterval), resp, err)

	case protocol.CodeServerPing:
		resp, err := protocol.DecodeServerPingResponse(r)
		d.completeOrThrow(types.NewWaitKey(types.WaitServerPing), resp, err)

	case protocol.CodeConnectToPeer:
		in, err := protocol.DecodeConnectToPeerRequestIn(r)
		if err != nil {
			d.log.Warnf("bad ConnectToPeer push: %v", err)
			return
		}
		switch in.Type {
		case protocol.PeerInitTypeTransfer:
			d.transfers.HandleConnectToPeerRequest(in)
		default:
			d.peers.HandleConnectToPeerRequest(in)
		}

	case protocol.CodeUserJoinedRoom, protocol.CodeUserLeftRoom:
		// room membership churn; surfaced through room-scoped handlers
		// a caller may add later. Not wired to an event today because
		// SPEC_FULL.md's room support is read/write but not roster-tracking.

	case protocol.CodeSayInChatRoom:
		ev, err := protocol.DecodeSayInRoomEvent(r)
		if err != nil {
			d.log.Warnf("bad room message: %v", err)
			return
		}
		if d.handlers.OnRoomMessage != nil {
			d.handlers.OnRoomMessage(ev)
		}

	case protocol.CodePrivateMessage:
		ev, err := protocol.DecodePrivateMessageEvent(r)
		if err != nil {
			d.log.Warnf("bad private message: %v", err)
			return
		}
		if d.handlers.OnPrivateMessage != nil {
			d.handlers.OnPrivateMessage(ev)
		}
		_ = d.conn.Send(protocol.CodeAckPrivateMessage, protocol.EncodeAckPrivateMessage(protocol.AckPrivateMessage{ID: ev.ID})[4:])

	case protocol.CodeGlobalAdminMessage:
		ev, err := protocol.DecodeGlobalAdminMessageEvent(r)
		if err != nil {
			return
		}
		if d.handlers.OnGlobalAdminMessage != nil {
			d.handlers.OnGlobalAdminMessage(ev.Message)
		}

	case protocol.CodeKicked:
		if d.handlers.OnKicked != nil {
			d.handlers.OnKicked()
		}

	case protocol.CodeParentMinSpeed, protocol.CodeParentSpeedRatio:
		// distributed-network bookkeeping the client acknowledges but
		// does not act on; this client never joins the parent pool as
		// a branch root (spec.md Non-goals).

	default:
		d.log.Debugf("unhandled server message code %d (%d bytes)", msg.Code, len(msg.Body))
	}
}

func completeWait[T any](d *Dispatcher, key types.WaitKey, v T, err error) {
	if err != nil {
		Throw[T](d.waits, key, err)
		return
	}
	Complete[T](d.waits, key, v)
}

func (d *Dispatcher) completeOrThrow(key types.WaitKey, v interface{}, err error) {
	switch val := v.(type) {
	case protocol.LoginResponse:
		completeWait(d, key, val, err)
	case protocol.GetPeerAddressResponse:
		completeWait(d, key, val, err)
	case protocol.GetUserStatusResponse:
		completeWait(d, key, val, err)
	case protocol.AddUserResponse:
		completeWait(d, key, val, err)
	case protocol.GetUserStatsResponse:
		completeWait(d, key, val, err)
	case protocol.CheckPrivilegesResponse:
		completeWait(d, key, val, err)
	case protocol.ChangePasswordResponse:
		completeWait(d, key, val, err)
	case protocol.RoomListResponse:
		completeWait(d, key, val, err)
	case protocol.PrivilegedUsersResponse:
		completeWait(d, key, val, err)
	case protocol.WishlistIntervalResponse:
		completeWait(d, key, val, err)
	case protocol.ServerPingResponse:
		completeWait(d, key, val, err)
	default:
		d.log.Warnf("completeOrThrow: unhandled response type %T", v)
	}
}

// HandleIncoming is fed every accepted, classified socket from the
// client's Listener. PeerInit-carrying sockets are attached to the peer
// manager directly or routed to the transfer engine by their token;
// PierceFirewall sockets complete whatever indirect solicitation is
// waiting on that token, whether it was a message or transfer
// connection (spec.md §4.E/F/H).
func (d *Dispatcher) HandleIncoming(_ context.Context, in Incoming) {
	switch in.Kind {
	case IncomingPeerMessage:
		d.peers.AttachIncomingMessageConnection(in.Username, in.Conn)
	case IncomingTransfer:
		if !d.transfers.RouteDirectTransferConnection(in.Token, in.Conn) {
			d.log.Warnf("transfer connection token %d matched nothing waiting", in.Token)
			in.Conn.Close()
		}
	case IncomingUnknown:
		if d.peers.CompletePierceFirewall(in.Token, in.Conn) {
			return
		}
		if !d.transfers.RouteDirectTransferConnection(in.Token, in.Conn) {
			d.log.Warnf("PierceFirewall token %d matched no pending solicitation", in.Token)
			in.Conn.Close()
		}
	}
}
