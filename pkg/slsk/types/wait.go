package types

import "fmt"

// WaitTag names the class of message a WaitKey identifies. Tags are
// opaque to holders; only the registry and the components that build
// keys need to know their shape.
type WaitTag string

const (
	WaitLoginResponse         WaitTag = "login-response"
	WaitPeerAddress           WaitTag = "peer-address"
	WaitUserStatus            WaitTag = "user-status"
	WaitAddUser               WaitTag = "add-user"
	WaitPlaceInQueue          WaitTag = "place-in-queue"
	WaitRoomList              WaitTag = "room-list"
	WaitPrivilegedUsers       WaitTag = "privileged-users"
	WaitUserPrivileges        WaitTag = "user-privileges"
	WaitUserStats             WaitTag = "user-stats"
	WaitWishlistInterval      WaitTag = "wishlist-interval"
	WaitChangePassword        WaitTag = "change-password"
	WaitServerPing            WaitTag = "server-ping"
	WaitSolicitedConnection   WaitTag = "solicited-connection"
	WaitTransferResponse      WaitTag = "transfer-response"
	WaitTransferRequest       WaitTag = "transfer-request"
	// WaitDirectTransfer is the single key both a listener-accepted
	// direct transfer connection and a dispatcher-dialed indirect one
	// complete: spec.md §4.F/G describe these as two separate keys
	// (DirectTransfer, IndirectTransfer) raced together, but since both
	// are already disambiguated by the globally unique transfer token,
	// one key gives the same "whichever resolves first" semantics with
	// one rendezvous instead of two.
	WaitDirectTransfer     WaitTag = "direct-transfer"
	WaitTransferCompletion WaitTag = "transfer-completion"
)

// WaitKey is the identity of a pending rendezvous: an ordered tuple of
// a message class tag and up to three discriminators. Map keys in Go
// must be comparable, so discriminators are held in a fixed array
// rather than a slice; count records how many are meaningful.
type WaitKey struct {
	Tag            WaitTag
	discriminators [3]string
	count          int
}

// NewWaitKey builds a WaitKey from a tag and zero or more discriminators.
// Discriminators are stringified by the caller (usernames are already
// strings; tokens/ints should be formatted with fmt.Sprint by the
// caller so the key stays a plain comparable struct).
func NewWaitKey(tag WaitTag, discriminators ...string) WaitKey {
	if len(discriminators) > 3 {
		panic("types: WaitKey supports at most 3 discriminators")
	}
	var k WaitKey
	k.Tag = tag
	k.count = len(discriminators)
	copy(k.discriminators[:], discriminators)
	return k
}

// Discriminators returns the discriminator values in order.
func (k WaitKey) Discriminators() []string {
	return append([]string(nil), k.discriminators[:k.count]...)
}

func (k WaitKey) String() string {
	return fmt.Sprintf("%s%v", k.Tag, k.Discriminators())
}
