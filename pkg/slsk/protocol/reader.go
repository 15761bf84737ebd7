package protocol

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// MessageReader decodes a message body sequentially. Every Get* method
// surfaces a *types.Error{Kind: ProtocolError} on underrun instead of
// panicking, so a malformed frame degrades to a dispatcher-level
// warning (spec.md §4.G) rather than tearing down the connection.
type MessageReader struct {
	buf []byte
	pos int
}

// NewMessageReader wraps a decoded frame body. If the body carries a
// leading code, callers read it first via GetUint32Code/GetUint8Code
// before decoding the rest.
func NewMessageReader(body []byte) *MessageReader {
	return &MessageReader{buf: body}
}

func (r *MessageReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return types.NewError(types.ProtocolError, fmt.Sprintf("message underrun: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)))
	}
	return nil
}

func (r *MessageReader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *MessageReader) GetUint8Code() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *MessageReader) GetUint32Code() (uint32, error) {
	return r.GetUint32()
}

func (r *MessageReader) GetBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *MessageReader) GetUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *MessageReader) GetUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *MessageReader) GetUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *MessageReader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}

func (r *MessageReader) GetUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *MessageReader) GetInt64() (int64, error) {
	v, err := r.GetUint64()
	return int64(v), err
}

func (r *MessageReader) GetString() (string, error) {
	n, err := r.GetUint32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *MessageReader) GetIP() (net.IP, error) {
	if err := r.need(4); err != nil {
		return nil, err
	}
	var b [4]byte
	copy(b[:], r.buf[r.pos:r.pos+4])
	r.pos += 4
	return ReadIP(b), nil
}
