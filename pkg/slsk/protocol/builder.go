package protocol

import (
	"encoding/binary"
	"net"
)

// MessageBuilder accumulates a message body. Server and peer-session
// messages prefix a 4-byte little-endian code; peer-init messages
// prefix a single byte. Callers pick the right constructor; Bytes()
// never adds a length prefix (that's Frame's job) so a builder's output
// composes directly with Frame/WriteFrame.
type MessageBuilder struct {
	buf []byte
}

// NewServerMessageBuilder starts a body with a 4-byte little-endian code.
func NewServerMessageBuilder(code uint32) *MessageBuilder {
	b := &MessageBuilder{buf: make([]byte, 0, 64)}
	b.PutUint32(code)
	return b
}

// NewPeerInitMessageBuilder starts a body with a single-byte code, used
// only for PeerInit (0x05) and PierceFirewall (0x01), spec.md §6.
func NewPeerInitMessageBuilder(code uint8) *MessageBuilder {
	b := &MessageBuilder{buf: make([]byte, 0, 32)}
	b.PutUint8(code)
	return b
}

// NewPeerMessageBuilder starts a body with a 4-byte little-endian code,
// used for peer-session messages after PeerInit completes.
func NewPeerMessageBuilder(code uint32) *MessageBuilder {
	return NewServerMessageBuilder(code)
}

func (b *MessageBuilder) Bytes() []byte {
	return b.buf
}

func (b *MessageBuilder) PutUint8(v uint8) *MessageBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *MessageBuilder) PutBool(v bool) *MessageBuilder {
	if v {
		return b.PutUint8(1)
	}
	return b.PutUint8(0)
}

func (b *MessageBuilder) PutUint16(v uint16) *MessageBuilder {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *MessageBuilder) PutUint32(v uint32) *MessageBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *MessageBuilder) PutInt32(v int32) *MessageBuilder {
	return b.PutUint32(uint32(v))
}

func (b *MessageBuilder) PutUint64(v uint64) *MessageBuilder {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *MessageBuilder) PutInt64(v int64) *MessageBuilder {
	return b.PutUint64(uint64(v))
}

// PutString writes a 32-bit length followed by the raw bytes.
func (b *MessageBuilder) PutString(s string) *MessageBuilder {
	b.PutUint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *MessageBuilder) PutIP(ip net.IP) *MessageBuilder {
	wire := WriteIP(ip)
	b.buf = append(b.buf, wire[:]...)
	return b
}
