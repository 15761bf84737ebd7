// Package slsk is the client façade (component I): it wires the wait
// registry, token allocator, peer manager, transfer engine, search
// engine, and server dispatcher behind the one-shot operations spec.md
// §6 lists, and owns the top-level connection state machine.
package slsk

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/core"
	"github.com/gosoulseek/slsk/pkg/slsk/definition"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// Client is the entry point: one instance per network session. State
// transitions strictly Disconnected -> Connected -> LoggedIn, reset to
// Disconnected on any disconnect, per types.ClientState.
type Client struct {
	opts ClientOptions
	log  types.Logger

	state atomic.Int32 // types.ClientState, lock-free for the hot precondition check every public method takes

	waits   *core.Registry
	tokens  *core.TokenAllocator
	invoker core.Invoker

	conn      *core.Connection
	peers     *core.PeerManager
	transfers *core.TransferEngine
	search    *core.SearchEngine
	dispatch  *core.Dispatcher
	listener  *core.Listener

	username string

	shareLookup func(username, filename string) (int64, bool)
	shareOpen   func(username, filename string, offset int64) (core.ReadSeekCloser, error)

	handlers core.EventHandlers
}

// NewClient builds an unconnected Client. Call Connect then Login
// before any other operation; every public method below enforces its
// own precondition and returns InvalidState otherwise.
func NewClient(opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = definition.NewDefaultLogger()
	}
	if opts.ServerAddress == "" {
		d := DefaultClientOptions()
		opts.ServerAddress = d.ServerAddress
	}
	if opts.ConcurrentMessageConnectionLimit <= 0 {
		opts.ConcurrentMessageConnectionLimit = 32
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	c := &Client{
		opts:    opts,
		log:     opts.Logger,
		waits:   core.NewRegistry(),
		tokens:  core.NewTokenAllocator(),
		invoker: core.NewInvoker(),
	}
	c.state.Store(int32(types.Disconnected))
	return c
}

// State reports the client's current top-level connection state.
func (c *Client) State() types.ClientState {
	return types.ClientState(c.state.Load())
}

// SetEventHandlers installs the callbacks for server-pushed broadcasts
// (room messages, private messages, kicks, status changes). Must be
// called before Connect.
func (c *Client) SetEventHandlers(h core.EventHandlers) {
	c.handlers = h
}

// SetShareProvider wires the local file share backing uploads: a
// lookup for a requested file's size and an opener seeking to a
// requested start offset. Must be called before Connect to take effect
// on incoming upload requests.
func (c *Client) SetShareProvider(
	lookup func(username, filename string) (size int64, ok bool),
	open func(username, filename string, offset int64) (core.ReadSeekCloser, error),
) {
	c.shareLookup = lookup
	c.shareOpen = open
}

func (c *Client) requireState(min types.ClientState) error {
	if c.State() < min {
		return types.NewError(types.InvalidState, fmt.Sprintf("operation requires state >= %s, have %s", min, c.State()))
	}
	return nil
}

// Connect dials the configured server address and wires every core
// component together. It does not log in; call Login afterward.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() != types.Disconnected {
		return types.NewError(types.InvalidState, "already connected")
	}
	d := net.Dialer{}
	raw, err := d.DialContext(ctx, "tcp", c.opts.ServerAddress)
	if err != nil {
		return types.Wrap(types.ConnectionFailed, err, "dialing server")
	}

	c.conn = core.NewConnection(raw, c.log, 0) // no inactivity watchdog on the server connection (spec.md §6)
	c.waits.SetMetrics(c.opts.Metrics)

	c.peers = core.NewPeerManager(c.username, c.log, c.invoker, c.waits, c.tokens, c,
		c.opts.ConcurrentMessageConnectionLimit, c.opts.DialTimeout, c.opts.ConnectionWatchdog)
	c.peers.SetMetrics(c.opts.Metrics)
	c.peers.OnMessage(c.routePeerMessage)

	c.transfers = core.NewTransferEngine(c.log, c.invoker, c.waits, c.tokens, c.peers, c, c.lookupPeerAddress)
	c.transfers.SetMetrics(c.opts.Metrics)
	if c.shareLookup != nil && c.shareOpen != nil {
		c.transfers.SetShareProvider(c.shareLookup, c.shareOpen)
	}

	c.search = core.NewSearchEngine(c.log, c.invoker, c.tokens, c)
	c.search.SetMetrics(c.opts.Metrics)

	c.dispatch = core.NewDispatcher(c.conn, c.log, c.waits, c.invoker, c.handlers, c.peers, c.transfers)

	if c.opts.ListenPort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.opts.ListenPort))
		if err != nil {
			c.conn.Close()
			c.state.Store(int32(types.Disconnected))
			return types.Wrap(types.ConnectionFailed, err, "opening listener")
		}
		c.listener = core.NewListener(ln, c.log, c.invoker)
		c.invoker.Spawn(c.acceptLoop)
	}

	c.state.Store(int32(types.Connected))
	return nil
}

func (c *Client) acceptLoop() {
	for in := range c.listener.Incoming() {
		c.dispatch.HandleIncoming(context.Background(), in)
	}
}

// SendServer implements core.ServerSender for the peer manager, the
// transfer engine, and the search engine, all of which only ever need
// to emit a server-bound frame through the one connection Client owns.
func (c *Client) SendServer(code uint32, body []byte) error {
	return c.conn.Send(code, body)
}

// routePeerMessage is PeerManager's single fan-out hook, demuxing every
// frame arriving on any peer message connection to whichever engine
// owns that message code (spec.md §4.F/H/I boundary).
func (c *Client) routePeerMessage(username string, conn *core.Connection, msg core.Message) {
	switch msg.Code {
	case protocol.CodePeerTransferRequest:
		c.transfers.HandlePeerTransferRequest(username, conn, msg.Body)
	case protocol.CodePeerTransferResponse:
		c.transfers.HandlePeerTransferResponse(msg.Body)
	case protocol.CodePeerQueueDownload:
		r := protocol.NewMessageReader(msg.Body)
		req, err := protocol.DecodeQueueUpload(r)
		if err != nil {
			c.log.Warnf("bad QueueUpload from %s: %v", username, err)
			return
		}
		c.invoker.Spawn(func() {
			c.transfers.HandleQueueUpload(context.Background(), username, req)
		})
	case protocol.CodePeerFileSearchResponse:
		c.search.HandleResponse(msg.Body)
	case protocol.CodePeerPlaceInQueueResponse:
		c.transfers.HandlePlaceInQueueResponse(username, msg.Body)
	case protocol.CodePeerUploadFailed:
		c.transfers.HandleUploadFailed(username, msg.Body)
	case protocol.CodePeerQueueFailed:
		c.transfers.HandleQueueFailed(username, msg.Body)
	default:
		c.log.Debugf("unhandled peer message code %d from %s (%d bytes)", msg.Code, username, len(msg.Body))
	}
}

func (c *Client) lookupPeerAddress(ctx context.Context, username string) (net.IP, int32, error) {
	addr, err := c.GetUserAddress(ctx, username)
	if err != nil {
		return nil, 0, err
	}
	ip := net.ParseIP(addr.IP)
	if ip == nil || ip.IsUnspecified() {
		return nil, 0, types.NewError(types.UserOffline, fmt.Sprintf("%s reports no reachable address", username))
	}
	return ip, int32(addr.Port), nil
}

// Login authenticates and, on success, advances the client to LoggedIn
// and announces the listen port (and HaveNoParents, if configured).
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.requireState(types.Connected); err != nil {
		return err
	}
	if c.State() == types.LoggedIn {
		return types.NewError(types.InvalidState, "already logged in")
	}
	if username == "" || password == "" {
		return types.NewError(types.InvalidArgument, "username and password are required")
	}

	body := protocol.EncodeLoginRequest(protocol.LoginRequest{Username: username, Password: password, Version: 181})
	if err := c.conn.Send(protocol.CodeLogin, body[4:]); err != nil {
		return types.Wrap(types.ConnectionFailed, err, "sending LoginRequest")
	}

	resp, err := core.Wait[protocol.LoginResponse](ctx, c.waits, types.NewWaitKey(types.WaitLoginResponse), 30*time.Second)
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return types.NewError(types.LoginRejected, resp.Message)
	}

	c.username = username
	c.peers.SetUsername(username)
	c.state.Store(int32(types.LoggedIn))

	if c.opts.ListenPort > 0 {
		_ = c.conn.Send(protocol.CodeSetListenPort, protocol.EncodeSetListenPort(protocol.SetListenPort{Port: int32(c.opts.ListenPort)})[4:])
	}
	if c.opts.DistributedNetwork {
		_ = c.conn.Send(protocol.CodeHaveNoParents, protocol.EncodeHaveNoParents(true)[4:])
	}
	return nil
}

// Disconnect tears the session down. Idempotent: calling it more than
// once, or before Connect, is a no-op.
func (c *Client) Disconnect() error {
	if c.State() == types.Disconnected {
		return nil
	}
	c.waits.CancelEverything("client disconnected")
	if c.listener != nil {
		c.listener.Close()
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.state.Store(int32(types.Disconnected))
	return err
}

// GetUserAddress resolves username's advertised IP:port.
func (c *Client) GetUserAddress(ctx context.Context, username string) (types.UserAddress, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return types.UserAddress{}, err
	}
	if err := c.conn.Send(protocol.CodeGetPeerAddress, protocol.EncodeGetPeerAddressRequest(protocol.GetPeerAddressRequest{Username: username})[4:]); err != nil {
		return types.UserAddress{}, types.Wrap(types.ConnectionFailed, err, "sending GetPeerAddress")
	}
	resp, err := core.Wait[protocol.GetPeerAddressResponse](ctx, c.waits, types.NewWaitKey(types.WaitPeerAddress, username), 15*time.Second)
	if err != nil {
		return types.UserAddress{}, err
	}
	if resp.IP == nil || resp.IP.IsUnspecified() {
		return types.UserAddress{}, types.NewError(types.UserOffline, username+" reports no reachable address")
	}
	return types.UserAddress{Username: resp.Username, IP: resp.IP.String(), Port: int(resp.Port)}, nil
}

// GetUserStatus queries a user's online/away/offline presence.
func (c *Client) GetUserStatus(ctx context.Context, username string) (types.UserStatus, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return types.UserStatus{}, err
	}
	if err := c.conn.Send(protocol.CodeGetUserStatus, protocol.EncodeGetUserStatusRequest(protocol.GetUserStatusRequest{Username: username})[4:]); err != nil {
		return types.UserStatus{}, types.Wrap(types.ConnectionFailed, err, "sending GetUserStatus")
	}
	resp, err := core.Wait[protocol.GetUserStatusResponse](ctx, c.waits, types.NewWaitKey(types.WaitUserStatus, username), 15*time.Second)
	if err != nil {
		return types.UserStatus{}, err
	}
	return types.UserStatus{Username: resp.Username, Status: types.UserStatusValue(resp.Status), Privileged: resp.Privileged}, nil
}

// AddUser watches username, receiving their online status going
// forward, and returns their current status/stats snapshot.
func (c *Client) AddUser(ctx context.Context, username string) (types.AddUserResult, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return types.AddUserResult{}, err
	}
	if err := c.conn.Send(protocol.CodeAddUser, protocol.EncodeAddUserRequest(protocol.AddUserRequest{Username: username})[4:]); err != nil {
		return types.AddUserResult{}, types.Wrap(types.ConnectionFailed, err, "sending AddUser")
	}
	resp, err := core.Wait[protocol.AddUserResponse](ctx, c.waits, types.NewWaitKey(types.WaitAddUser, username), 15*time.Second)
	if err != nil {
		return types.AddUserResult{}, err
	}
	if !resp.Exists {
		return types.AddUserResult{Username: resp.Username, Exists: false}, types.NewError(types.UserNotFound, username+" does not exist")
	}
	return types.AddUserResult{
		Username: resp.Username,
		Exists:   true,
		Status:   types.UserStatus{Username: resp.Username, Status: types.UserStatusValue(resp.Status), Privileged: false},
		Stats: types.UserStats{
			Username:       resp.Username,
			AverageSpeed:   resp.AverageSpeed,
			DownloadCount:  resp.DownloadCount,
			FileCount:      resp.FileCount,
			DirectoryCount: resp.DirectoryCount,
		},
	}, nil
}

// GetUserStats fetches a user's aggregate sharing statistics.
func (c *Client) GetUserStats(ctx context.Context, username string) (types.UserStats, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return types.UserStats{}, err
	}
	if err := c.conn.Send(protocol.CodeGetUserStats, protocol.EncodeGetUserStatsRequest(protocol.GetUserStatsRequest{Username: username})[4:]); err != nil {
		return types.UserStats{}, types.Wrap(types.ConnectionFailed, err, "sending GetUserStats")
	}
	resp, err := core.Wait[protocol.GetUserStatsResponse](ctx, c.waits, types.NewWaitKey(types.WaitUserStats, username), 15*time.Second)
	if err != nil {
		return types.UserStats{}, err
	}
	return types.UserStats{
		Username:       resp.Username,
		AverageSpeed:   resp.AverageSpeed,
		DownloadCount:  resp.DownloadCount,
		FileCount:      resp.FileCount,
		DirectoryCount: resp.DirectoryCount,
	}, nil
}

// CheckPrivileges returns the number of days of privileged status
// remaining on our own account.
func (c *Client) CheckPrivileges(ctx context.Context) (int32, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return 0, err
	}
	if err := c.conn.Send(protocol.CodeCheckPrivileges, nil); err != nil {
		return 0, types.Wrap(types.ConnectionFailed, err, "sending CheckPrivileges")
	}
	resp, err := core.Wait[protocol.CheckPrivilegesResponse](ctx, c.waits, types.NewWaitKey(types.WaitUserPrivileges), 15*time.Second)
	if err != nil {
		return 0, err
	}
	return resp.Days, nil
}

// GivePrivileges gifts days of privileged status to username.
func (c *Client) GivePrivileges(ctx context.Context, username string, days int32) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	if days <= 0 {
		return types.NewError(types.InvalidArgument, "days must be positive")
	}
	return c.conn.Send(protocol.CodeGivePrivileges, protocol.EncodeGivePrivilegesRequest(protocol.GivePrivilegesRequest{Username: username, Days: days})[4:])
}

// ChangePassword updates our account password.
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	if newPassword == "" {
		return types.NewError(types.InvalidArgument, "password must not be blank")
	}
	if err := c.conn.Send(protocol.CodeChangePassword, protocol.EncodeChangePasswordRequest(protocol.ChangePasswordRequest{Password: newPassword})[4:]); err != nil {
		return types.Wrap(types.ConnectionFailed, err, "sending ChangePassword")
	}
	_, err := core.Wait[protocol.ChangePasswordResponse](ctx, c.waits, types.NewWaitKey(types.WaitChangePassword), 15*time.Second)
	return err
}

// GetRoomList returns the public rooms the server lists, with live user
// counts. The private-room part of the server's reply is not decoded,
// so PrivateRooms is always empty.
func (c *Client) GetRoomList(ctx context.Context) (types.RoomList, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return types.RoomList{}, err
	}
	if err := c.conn.Send(protocol.CodeGetRoomList, nil); err != nil {
		return types.RoomList{}, types.Wrap(types.ConnectionFailed, err, "sending GetRoomList")
	}
	resp, err := core.Wait[protocol.RoomListResponse](ctx, c.waits, types.NewWaitKey(types.WaitRoomList), 15*time.Second)
	if err != nil {
		return types.RoomList{}, err
	}
	out := types.RoomList{UserCounts: make(map[string]int32, len(resp.Rooms))}
	for i, name := range resp.Rooms {
		count := int32(0)
		if i < len(resp.UserCounts) {
			count = resp.UserCounts[i]
		}
		out.Rooms = append(out.Rooms, types.Room{Name: name, UserCount: count})
		out.UserCounts[name] = count
	}
	for _, name := range resp.PrivateRooms {
		out.PrivateRooms = append(out.PrivateRooms, types.Room{Name: name})
	}
	return out, nil
}

// JoinRoom joins a chat room.
func (c *Client) JoinRoom(ctx context.Context, room string) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	return c.conn.Send(protocol.CodeJoinRoom, protocol.EncodeJoinRoom(room)[4:])
}

// LeaveRoom leaves a chat room.
func (c *Client) LeaveRoom(ctx context.Context, room string) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	return c.conn.Send(protocol.CodeLeaveRoom, protocol.EncodeLeaveRoom(room)[4:])
}

// SendRoomMessage posts a chat message to a room we've joined.
func (c *Client) SendRoomMessage(ctx context.Context, room, message string) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	return c.conn.Send(protocol.CodeSayInChatRoom, protocol.EncodeSayInRoom(room, message)[4:])
}

// SendPrivateMessage sends a direct message to username.
func (c *Client) SendPrivateMessage(ctx context.Context, username, message string) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	return c.conn.Send(protocol.CodePrivateMessage, protocol.EncodePrivateMessage(username, message)[4:])
}

// PingServer round-trips a keepalive ping.
func (c *Client) PingServer(ctx context.Context) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	if err := c.conn.Send(protocol.CodeServerPing, protocol.EncodeServerPing()[4:]); err != nil {
		return types.Wrap(types.ConnectionFailed, err, "sending ServerPing")
	}
	_, err := core.Wait[protocol.ServerPingResponse](ctx, c.waits, types.NewWaitKey(types.WaitServerPing), 15*time.Second)
	return err
}

// Search starts a network/room/user-scoped file search and returns
// immediately; each accepted response is passed to the returned
// SearchInternal's OnResponse callback, once the caller sets it, until
// the search's inactivity timer fires or a limit is reached.
func (c *Client) Search(ctx context.Context, text string, scope types.SearchScope, opts types.SearchOptions) (*types.SearchInternal, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, types.NewError(types.InvalidArgument, "search text must not be blank")
	}
	return c.search.Start(ctx, text, scope, opts), nil
}

// Download pulls a file from username, streaming bytes into sink as
// they arrive. The returned *types.TransferInternal is safe to poll or
// cancel concurrently while the download runs in the background.
func (c *Client) Download(ctx context.Context, username, filename string, sink io.Writer) (*types.TransferInternal, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return nil, err
	}
	if username == "" || filename == "" || sink == nil {
		return nil, types.NewError(types.InvalidArgument, "username, filename, and sink are required")
	}
	return c.transfers.StartDownload(ctx, core.DownloadRequest{Username: username, Filename: filename, Sink: sink})
}

// GetPlaceInQueue asks the remote peer where a queued download sits in
// their upload queue right now.
func (c *Client) GetPlaceInQueue(ctx context.Context, token int32) (int32, error) {
	if err := c.requireState(types.LoggedIn); err != nil {
		return 0, err
	}
	return c.transfers.GetPlaceInQueue(ctx, token)
}

// CancelTransfer cancels an in-flight download or upload by token.
func (c *Client) CancelTransfer(token int32) error {
	if err := c.requireState(types.LoggedIn); err != nil {
		return err
	}
	return c.transfers.Cancel(token)
}
