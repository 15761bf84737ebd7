package protocol

// Peer-init codes (spec.md §6): these prefix a single byte, not the
// 4-byte code every other message uses.
const (
	CodePierceFirewall uint8 = 0x01
	CodePeerInit       uint8 = 0x05
)

// PeerInitType is the one-character transfer-type tag a PeerInit
// carries: "P" for a peer message connection, "F" for a file transfer
// connection.
type PeerInitType string

const (
	PeerInitTypeMessage  PeerInitType = "P"
	PeerInitTypeTransfer PeerInitType = "F"
)

// Server message codes. Reply-correlation messages complete a wait;
// server-pushed rendezvous and broadcast events are handled specially
// by the dispatcher (spec.md §4.G).
const (
	CodeLogin              uint32 = 1
	CodeSetListenPort       uint32 = 2
	CodeGetPeerAddress      uint32 = 3
	CodeAddUser             uint32 = 5
	CodeRemoveUser          uint32 = 6
	CodeGetUserStatus       uint32 = 7
	CodeSayInChatRoom       uint32 = 13
	CodeJoinRoom            uint32 = 14
	CodeLeaveRoom           uint32 = 15
	CodeUserJoinedRoom      uint32 = 16
	CodeUserLeftRoom        uint32 = 17
	CodeConnectToPeer       uint32 = 18
	CodePrivateMessage      uint32 = 22
	CodeAckPrivateMessage   uint32 = 23
	CodeFileSearch          uint32 = 26
	CodeSetStatus           uint32 = 28
	CodeServerPing          uint32 = 32
	CodeGetUserStats        uint32 = 36
	CodeKicked              uint32 = 41
	CodeUserSearch          uint32 = 42
	CodeGetRoomList         uint32 = 64
	CodeGlobalAdminMessage  uint32 = 66
	CodePrivilegedUsers     uint32 = 69
	CodeHaveNoParents       uint32 = 71
	CodeParentMinSpeed      uint32 = 83
	CodeParentSpeedRatio    uint32 = 84
	CodeWishlistInterval    uint32 = 104
	CodeRoomSearch          uint32 = 120
	CodeGivePrivileges      uint32 = 123
	CodeChangePassword      uint32 = 142
	CodeCheckPrivileges     uint32 = 92
	CodePlaceInQueueRequestServer uint32 = 51
)

// Peer-session message codes, used once a PeerInit handshake has
// established a message connection.
const (
	CodePeerSharedFileListRequest uint32 = 4
	CodePeerSharedFileList        uint32 = 5
	CodePeerFileSearchRequest     uint32 = 8
	CodePeerFileSearchResponse    uint32 = 9
	CodePeerUserInfoRequest       uint32 = 15
	CodePeerUserInfoResponse      uint32 = 16
	CodePeerTransferRequest       uint32 = 40
	CodePeerTransferResponse      uint32 = 41
	CodePeerQueueDownload         uint32 = 43
	CodePeerPlaceInQueueResponse  uint32 = 44
	CodePeerUploadFailed          uint32 = 46
	CodePeerQueueFailed           uint32 = 50
	CodePeerPlaceInQueueRequest   uint32 = 51
)
