package types

// UserStatusValue is the three-valued presence status the server
// reports for a user. The "online"/"away"/"offline" distinction and the
// privileged bit are both carried on the same wire message; spec.md's
// table names the operation ("user-status") without enumerating the
// values, so both are represented here (SPEC_FULL.md, client façade
// supplement).
type UserStatusValue int32

const (
	StatusOffline UserStatusValue = 0
	StatusAway    UserStatusValue = 1
	StatusOnline  UserStatusValue = 2
)

func (v UserStatusValue) String() string {
	switch v {
	case StatusOffline:
		return "Offline"
	case StatusAway:
		return "Away"
	case StatusOnline:
		return "Online"
	default:
		return "Unknown"
	}
}

// UserStatus is the decoded reply to get-user-status.
type UserStatus struct {
	Username   string
	Status     UserStatusValue
	Privileged bool
}

// UserAddress is the decoded reply to get-peer-address.
type UserAddress struct {
	Username string
	IP       string
	Port     int
}

// UserStats is the decoded reply to get-user-info/stats.
type UserStats struct {
	Username      string
	AverageSpeed  int32
	DownloadCount int64
	FileCount     int32
	DirectoryCount int32
}

// AddUserResult is the decoded reply to AddUser/WatchUser.
type AddUserResult struct {
	Username string
	Exists   bool
	Status   UserStatus
	Stats    UserStats
}

// Room is one entry in a room-list reply. UserCount is carried on the
// wire as a parallel array alongside the room-name array; decoding
// "room list" without it discards half the frame (SPEC_FULL.md supplement).
type Room struct {
	Name      string
	UserCount int32
}

// RoomList is the decoded reply to get-room-list.
type RoomList struct {
	Rooms           []Room
	UserCounts      map[string]int32
	PrivateRooms    []Room
}

// PrivateMessage is a broadcast event from the server.
type PrivateMessage struct {
	ID        int32
	Timestamp int64
	Username  string
	Message   string
	IsAdmin   bool
}
