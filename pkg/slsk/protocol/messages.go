package protocol

import "net"

// -- peer-init messages (spec.md §4.E, §6) ----------------------------

type PeerInit struct {
	Username string
	Type     PeerInitType
	Token    int32
}

func EncodePeerInit(m PeerInit) []byte {
	b := NewPeerInitMessageBuilder(CodePeerInit)
	b.PutString(m.Username)
	b.PutString(string(m.Type))
	b.PutInt32(m.Token)
	return b.Bytes()
}

func DecodePeerInit(body []byte) (PeerInit, error) {
	r := NewMessageReader(body)
	// caller already consumed the leading code byte
	var m PeerInit
	username, err := r.GetString()
	if err != nil {
		return m, err
	}
	typ, err := r.GetString()
	if err != nil {
		return m, err
	}
	token, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	m.Username = username
	m.Type = PeerInitType(typ)
	m.Token = token
	return m, nil
}

type PierceFirewall struct {
	Token int32
}

func EncodePierceFirewall(m PierceFirewall) []byte {
	b := NewPeerInitMessageBuilder(CodePierceFirewall)
	b.PutInt32(m.Token)
	return b.Bytes()
}

func DecodePierceFirewall(body []byte) (PierceFirewall, error) {
	r := NewMessageReader(body)
	token, err := r.GetInt32()
	return PierceFirewall{Token: token}, err
}

// -- server messages ----------------------------------------------------

type LoginRequest struct {
	Username string
	Password string
	Version  int32
}

func EncodeLoginRequest(m LoginRequest) []byte {
	b := NewServerMessageBuilder(CodeLogin)
	b.PutString(m.Username)
	b.PutString(m.Password)
	b.PutInt32(m.Version)
	return b.Bytes()
}

type LoginResponse struct {
	Succeeded bool
	Message   string
	IP        net.IP
}

func DecodeLoginResponse(r *MessageReader) (LoginResponse, error) {
	var m LoginResponse
	ok, err := r.GetBool()
	if err != nil {
		return m, err
	}
	m.Succeeded = ok
	msg, err := r.GetString()
	if err != nil {
		return m, err
	}
	m.Message = msg
	if ok && r.Remaining() >= 4 {
		ip, err := r.GetIP()
		if err != nil {
			return m, err
		}
		m.IP = ip
	}
	return m, nil
}

type SetListenPort struct {
	Port int32
}

func EncodeSetListenPort(m SetListenPort) []byte {
	b := NewServerMessageBuilder(CodeSetListenPort)
	b.PutInt32(m.Port)
	return b.Bytes()
}

type GetPeerAddressRequest struct {
	Username string
}

func EncodeGetPeerAddressRequest(m GetPeerAddressRequest) []byte {
	b := NewServerMessageBuilder(CodeGetPeerAddress)
	b.PutString(m.Username)
	return b.Bytes()
}

type GetPeerAddressResponse struct {
	Username string
	IP       net.IP
	Port     int32
}

func DecodeGetPeerAddressResponse(r *MessageReader) (GetPeerAddressResponse, error) {
	var m GetPeerAddressResponse
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	ip, err := r.GetIP()
	if err != nil {
		return m, err
	}
	port, err := r.GetUint32()
	if err != nil {
		return m, err
	}
	m.Username = u
	m.IP = ip
	m.Port = int32(port)
	return m, nil
}

// ConnectToPeerRequestOut is sent by us to solicit an indirect
// connection (spec.md §4.F).
type ConnectToPeerRequestOut struct {
	Token    int32
	Username string
	Type     PeerInitType
}

func EncodeConnectToPeerRequestOut(m ConnectToPeerRequestOut) []byte {
	b := NewServerMessageBuilder(CodeConnectToPeer)
	b.PutInt32(m.Token)
	b.PutString(m.Username)
	b.PutString(string(m.Type))
	return b.Bytes()
}

// ConnectToPeerRequestIn is the server-pushed rendezvous, asking us to
// dial out to a peer that could not reach us directly (spec.md §4.G).
type ConnectToPeerRequestIn struct {
	Username string
	Type     PeerInitType
	IP       net.IP
	Port     int32
	Token    int32
}

func DecodeConnectToPeerRequestIn(r *MessageReader) (ConnectToPeerRequestIn, error) {
	var m ConnectToPeerRequestIn
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	typ, err := r.GetString()
	if err != nil {
		return m, err
	}
	ip, err := r.GetIP()
	if err != nil {
		return m, err
	}
	port, err := r.GetUint32()
	if err != nil {
		return m, err
	}
	token, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	m.Username = u
	m.Type = PeerInitType(typ)
	m.IP = ip
	m.Port = int32(port)
	m.Token = token
	return m, nil
}

type GetUserStatusRequest struct {
	Username string
}

func EncodeGetUserStatusRequest(m GetUserStatusRequest) []byte {
	b := NewServerMessageBuilder(CodeGetUserStatus)
	b.PutString(m.Username)
	return b.Bytes()
}

type GetUserStatusResponse struct {
	Username   string
	Status     int32
	Privileged bool
}

func DecodeGetUserStatusResponse(r *MessageReader) (GetUserStatusResponse, error) {
	var m GetUserStatusResponse
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	status, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	priv, err := r.GetBool()
	if err != nil {
		return m, err
	}
	m.Username = u
	m.Status = status
	m.Privileged = priv
	return m, nil
}

type AddUserRequest struct {
	Username string
}

func EncodeAddUserRequest(m AddUserRequest) []byte {
	b := NewServerMessageBuilder(CodeAddUser)
	b.PutString(m.Username)
	return b.Bytes()
}

type AddUserResponse struct {
	Username       string
	Exists         bool
	Status         int32
	AverageSpeed   int32
	DownloadCount  int64
	FileCount      int32
	DirectoryCount int32
}

func DecodeAddUserResponse(r *MessageReader) (AddUserResponse, error) {
	var m AddUserResponse
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	m.Username = u
	exists, err := r.GetBool()
	if err != nil {
		return m, err
	}
	m.Exists = exists
	if !exists {
		return m, nil
	}
	status, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	speed, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	downloads, err := r.GetInt64()
	if err != nil {
		return m, err
	}
	files, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	dirs, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	m.Status = status
	m.AverageSpeed = speed
	m.DownloadCount = downloads
	m.FileCount = files
	m.DirectoryCount = dirs
	return m, nil
}

type GetUserStatsRequest struct {
	Username string
}

func EncodeGetUserStatsRequest(m GetUserStatsRequest) []byte {
	b := NewServerMessageBuilder(CodeGetUserStats)
	b.PutString(m.Username)
	return b.Bytes()
}

type GetUserStatsResponse struct {
	Username       string
	AverageSpeed   int32
	DownloadCount  int64
	FileCount      int32
	DirectoryCount int32
}

func DecodeGetUserStatsResponse(r *MessageReader) (GetUserStatsResponse, error) {
	var m GetUserStatsResponse
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	speed, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	downloads, err := r.GetInt64()
	if err != nil {
		return m, err
	}
	files, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	dirs, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	m.Username = u
	m.AverageSpeed = speed
	m.DownloadCount = downloads
	m.FileCount = files
	m.DirectoryCount = dirs
	return m, nil
}

// CheckPrivilegesResponse answers code 92 (CheckPrivileges), a
// self-only query with no username argument: the server always
// answers about our own account, never another user's.
type CheckPrivilegesResponse struct {
	Days int32
}

func DecodeCheckPrivilegesResponse(r *MessageReader) (CheckPrivilegesResponse, error) {
	days, err := r.GetInt32()
	return CheckPrivilegesResponse{Days: days}, err
}

type GivePrivilegesRequest struct {
	Username string
	Days     int32
}

func EncodeGivePrivilegesRequest(m GivePrivilegesRequest) []byte {
	b := NewServerMessageBuilder(CodeGivePrivileges)
	b.PutString(m.Username)
	b.PutInt32(m.Days)
	return b.Bytes()
}

type ChangePasswordRequest struct {
	Password string
}

func EncodeChangePasswordRequest(m ChangePasswordRequest) []byte {
	b := NewServerMessageBuilder(CodeChangePassword)
	b.PutString(m.Password)
	return b.Bytes()
}

type ChangePasswordResponse struct {
	Password string
}

func DecodeChangePasswordResponse(r *MessageReader) (ChangePasswordResponse, error) {
	p, err := r.GetString()
	return ChangePasswordResponse{Password: p}, err
}

type RoomListResponse struct {
	Rooms        []string
	UserCounts   []int32
	PrivateRooms []string
}

func DecodeRoomListResponse(r *MessageReader) (RoomListResponse, error) {
	var m RoomListResponse
	count, err := r.GetUint32()
	if err != nil {
		return m, err
	}
	rooms := make([]string, count)
	for i := range rooms {
		if rooms[i], err = r.GetString(); err != nil {
			return m, err
		}
	}
	countUsers, err := r.GetUint32()
	if err != nil {
		return m, err
	}
	counts := make([]int32, countUsers)
	for i := range counts {
		if counts[i], err = r.GetInt32(); err != nil {
			return m, err
		}
	}
	m.Rooms = rooms
	m.UserCounts = counts
	return m, nil
}

type PrivilegedUsersResponse struct {
	Usernames []string
}

func DecodePrivilegedUsersResponse(r *MessageReader) (PrivilegedUsersResponse, error) {
	var m PrivilegedUsersResponse
	count, err := r.GetUint32()
	if err != nil {
		return m, err
	}
	users := make([]string, count)
	for i := range users {
		if users[i], err = r.GetString(); err != nil {
			return m, err
		}
	}
	m.Usernames = users
	return m, nil
}

type WishlistIntervalResponse struct {
	Seconds int32
}

func DecodeWishlistIntervalResponse(r *MessageReader) (WishlistIntervalResponse, error) {
	s, err := r.GetInt32()
	return WishlistIntervalResponse{Seconds: s}, err
}

type ServerPingResponse struct{}

func DecodeServerPingResponse(*MessageReader) (ServerPingResponse, error) {
	return ServerPingResponse{}, nil
}

func EncodeServerPing() []byte {
	return NewServerMessageBuilder(CodeServerPing).Bytes()
}

// -- search --------------------------------------------------------------

type SearchRequest struct {
	Token int32
	Text  string
}

func EncodeSearchRequest(m SearchRequest) []byte {
	b := NewServerMessageBuilder(CodeFileSearch)
	b.PutInt32(m.Token)
	b.PutString(m.Text)
	return b.Bytes()
}

type UserSearchRequest struct {
	Username string
	Token    int32
	Text     string
}

func EncodeUserSearchRequest(m UserSearchRequest) []byte {
	b := NewServerMessageBuilder(CodeUserSearch)
	b.PutString(m.Username)
	b.PutInt32(m.Token)
	b.PutString(m.Text)
	return b.Bytes()
}

type RoomSearchRequest struct {
	Room  string
	Token int32
	Text  string
}

func EncodeRoomSearchRequest(m RoomSearchRequest) []byte {
	b := NewServerMessageBuilder(CodeRoomSearch)
	b.PutString(m.Room)
	b.PutInt32(m.Token)
	b.PutString(m.Text)
	return b.Bytes()
}

// FileSearchResponse is the peer-session message bearing search
// results, received over a peer message connection rather than the
// server connection.
type FileSearchResultFile struct {
	Filename string
	Size     int64
	Extension string
}

type FileSearchResponse struct {
	Username    string
	Token       int32
	Files       []FileSearchResultFile
	FreeUploads bool
	UploadSpeed int32
	QueueLength int64
}

func DecodeFileSearchResponse(r *MessageReader) (FileSearchResponse, error) {
	var m FileSearchResponse
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	token, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	count, err := r.GetUint32()
	if err != nil {
		return m, err
	}
	files := make([]FileSearchResultFile, count)
	for i := range files {
		if _, err = r.GetUint8(); err != nil { // code byte preceding each entry
			return m, err
		}
		name, err := r.GetString()
		if err != nil {
			return m, err
		}
		size, err := r.GetInt64()
		if err != nil {
			return m, err
		}
		ext, err := r.GetString()
		if err != nil {
			return m, err
		}
		files[i] = FileSearchResultFile{Filename: name, Size: size, Extension: ext}
	}
	freeUploads, err := r.GetBool()
	if err != nil {
		return m, err
	}
	speed, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	queue, err := r.GetInt64()
	if err != nil {
		return m, err
	}
	m.Username = u
	m.Token = token
	m.Files = files
	m.FreeUploads = freeUploads
	m.UploadSpeed = speed
	m.QueueLength = queue
	return m, nil
}

func EncodeFileSearchResponse(m FileSearchResponse) []byte {
	b := NewPeerMessageBuilder(CodePeerFileSearchResponse)
	b.PutString(m.Username)
	b.PutInt32(m.Token)
	b.PutUint32(uint32(len(m.Files)))
	for _, f := range m.Files {
		b.PutUint8(1)
		b.PutString(f.Filename)
		b.PutInt64(f.Size)
		b.PutString(f.Extension)
	}
	b.PutBool(m.FreeUploads)
	b.PutInt32(m.UploadSpeed)
	b.PutInt64(m.QueueLength)
	return b.Bytes()
}

// -- transfers (peer-session messages, spec.md §4.H) ---------------------

type TransferRequest struct {
	Direction int32 // 0 = download (the sender asks to receive the file), 1 = upload (the sender offers to send it)
	Token     int32
	Filename  string
	Size      int64 // meaningful when Direction == 1 (upload request carries size)
}

func EncodeTransferRequest(m TransferRequest) []byte {
	b := NewPeerMessageBuilder(CodePeerTransferRequest)
	b.PutInt32(m.Direction)
	b.PutInt32(m.Token)
	b.PutString(m.Filename)
	if m.Direction == 1 {
		b.PutInt64(m.Size)
	}
	return b.Bytes()
}

func DecodeTransferRequest(r *MessageReader) (TransferRequest, error) {
	var m TransferRequest
	dir, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	token, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	name, err := r.GetString()
	if err != nil {
		return m, err
	}
	m.Direction = dir
	m.Token = token
	m.Filename = name
	if dir == 1 && r.Remaining() >= 8 {
		size, err := r.GetInt64()
		if err != nil {
			return m, err
		}
		m.Size = size
	}
	return m, nil
}

type TransferResponse struct {
	Token   int32
	Allowed bool
	Size    int64  // present when Allowed == true
	Message string // present when Allowed == false
}

func EncodeTransferResponse(m TransferResponse) []byte {
	b := NewPeerMessageBuilder(CodePeerTransferResponse)
	b.PutInt32(m.Token)
	b.PutBool(m.Allowed)
	if m.Allowed {
		b.PutInt64(m.Size)
	} else {
		b.PutString(m.Message)
	}
	return b.Bytes()
}

func DecodeTransferResponse(r *MessageReader) (TransferResponse, error) {
	var m TransferResponse
	token, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	allowed, err := r.GetBool()
	if err != nil {
		return m, err
	}
	m.Token = token
	m.Allowed = allowed
	if allowed {
		size, err := r.GetInt64()
		if err != nil {
			return m, err
		}
		m.Size = size
	} else if r.Remaining() > 0 {
		msg, err := r.GetString()
		if err != nil {
			return m, err
		}
		m.Message = msg
	}
	return m, nil
}

type UploadFailed struct {
	Filename string
}

func EncodeUploadFailed(m UploadFailed) []byte {
	b := NewPeerMessageBuilder(CodePeerUploadFailed)
	b.PutString(m.Filename)
	return b.Bytes()
}

func DecodeUploadFailed(r *MessageReader) (UploadFailed, error) {
	name, err := r.GetString()
	return UploadFailed{Filename: name}, err
}

type QueueUpload struct {
	Filename string
}

func EncodeQueueUpload(m QueueUpload) []byte {
	b := NewPeerMessageBuilder(CodePeerQueueDownload)
	b.PutString(m.Filename)
	return b.Bytes()
}

func DecodeQueueUpload(r *MessageReader) (QueueUpload, error) {
	name, err := r.GetString()
	return QueueUpload{Filename: name}, err
}

type PlaceInQueueRequest struct {
	Filename string
}

func EncodePlaceInQueueRequest(m PlaceInQueueRequest) []byte {
	b := NewPeerMessageBuilder(CodePeerPlaceInQueueRequest)
	b.PutString(m.Filename)
	return b.Bytes()
}

type PlaceInQueueResponse struct {
	Filename string
	Place    int32
}

func EncodePlaceInQueueResponse(m PlaceInQueueResponse) []byte {
	b := NewPeerMessageBuilder(CodePeerPlaceInQueueResponse)
	b.PutString(m.Filename)
	b.PutInt32(m.Place)
	return b.Bytes()
}

func DecodePlaceInQueueResponse(r *MessageReader) (PlaceInQueueResponse, error) {
	var m PlaceInQueueResponse
	name, err := r.GetString()
	if err != nil {
		return m, err
	}
	place, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	m.Filename = name
	m.Place = place
	return m, nil
}

type QueueFailed struct {
	Filename string
	Reason   string
}

func DecodeQueueFailed(r *MessageReader) (QueueFailed, error) {
	var m QueueFailed
	name, err := r.GetString()
	if err != nil {
		return m, err
	}
	reason, err := r.GetString()
	if err != nil {
		return m, err
	}
	m.Filename = name
	m.Reason = reason
	return m, nil
}

// -- broadcast events ------------------------------------------------------

type PrivateMessageEvent struct {
	ID        int32
	Timestamp int32
	Username  string
	Message   string
	IsAdmin   bool
}

func DecodePrivateMessageEvent(r *MessageReader) (PrivateMessageEvent, error) {
	var m PrivateMessageEvent
	id, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	ts, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	user, err := r.GetString()
	if err != nil {
		return m, err
	}
	msg, err := r.GetString()
	if err != nil {
		return m, err
	}
	admin, err := r.GetBool()
	if err != nil {
		return m, err
	}
	m.ID = id
	m.Timestamp = ts
	m.Username = user
	m.Message = msg
	m.IsAdmin = admin
	return m, nil
}

type AckPrivateMessage struct {
	ID int32
}

func EncodeAckPrivateMessage(m AckPrivateMessage) []byte {
	b := NewServerMessageBuilder(CodeAckPrivateMessage)
	b.PutInt32(m.ID)
	return b.Bytes()
}

type UserStatusChangeEvent struct {
	Username   string
	Status     int32
	Privileged bool
}

func DecodeUserStatusChangeEvent(r *MessageReader) (UserStatusChangeEvent, error) {
	var m UserStatusChangeEvent
	u, err := r.GetString()
	if err != nil {
		return m, err
	}
	status, err := r.GetInt32()
	if err != nil {
		return m, err
	}
	priv, err := r.GetBool()
	if err != nil {
		return m, err
	}
	m.Username = u
	m.Status = status
	m.Privileged = priv
	return m, nil
}

type SayInRoomEvent struct {
	Room     string
	Username string
	Message  string
}

func DecodeSayInRoomEvent(r *MessageReader) (SayInRoomEvent, error) {
	var m SayInRoomEvent
	room, err := r.GetString()
	if err != nil {
		return m, err
	}
	user, err := r.GetString()
	if err != nil {
		return m, err
	}
	msg, err := r.GetString()
	if err != nil {
		return m, err
	}
	m.Room = room
	m.Username = user
	m.Message = msg
	return m, nil
}

type GlobalAdminMessageEvent struct {
	Message string
}

func DecodeGlobalAdminMessageEvent(r *MessageReader) (GlobalAdminMessageEvent, error) {
	msg, err := r.GetString()
	return GlobalAdminMessageEvent{Message: msg}, err
}

type KickedEvent struct{}

func DecodeKickedEvent(*MessageReader) (KickedEvent, error) {
	return KickedEvent{}, nil
}

// -- room operations ---------------------------------------------------

func EncodeJoinRoom(room string) []byte {
	b := NewServerMessageBuilder(CodeJoinRoom)
	b.PutString(room)
	return b.Bytes()
}

func EncodeLeaveRoom(room string) []byte {
	b := NewServerMessageBuilder(CodeLeaveRoom)
	b.PutString(room)
	return b.Bytes()
}

func EncodeSayInRoom(room, message string) []byte {
	b := NewServerMessageBuilder(CodeSayInChatRoom)
	b.PutString(room)
	b.PutString(message)
	return b.Bytes()
}

func EncodePrivateMessage(username, message string) []byte {
	b := NewServerMessageBuilder(CodePrivateMessage)
	b.PutString(username)
	b.PutString(message)
	return b.Bytes()
}

// -- distributed-network bookkeeping (parent pool) ------------------------

func EncodeHaveNoParents(have bool) []byte {
	b := NewServerMessageBuilder(CodeHaveNoParents)
	b.PutBool(have)
	return b.Bytes()
}

type ParentMinSpeedEvent struct {
	Speed int32
}

func DecodeParentMinSpeedEvent(r *MessageReader) (ParentMinSpeedEvent, error) {
	v, err := r.GetInt32()
	return ParentMinSpeedEvent{Speed: v}, err
}

type ParentSpeedRatioEvent struct {
	Ratio int32
}

func DecodeParentSpeedRatioEvent(r *MessageReader) (ParentSpeedRatioEvent, error) {
	v, err := r.GetInt32()
	return ParentSpeedRatioEvent{Ratio: v}, err
}
