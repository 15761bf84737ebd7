// Package protocol implements the Soulseek wire format: the
// length-prefixed binary frame codec (spec.md §4.A) and the message
// catalogue the core needs to parse or emit to drive components F, G,
// and H end-to-end. It deliberately does not attempt to cover every
// message type the full network protocol defines — concrete byte-codec
// helpers for message types the core never touches are an external
// collaborator's concern (spec.md §1).
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// MaxFrameLength bounds the length prefix accepted from the wire,
// guarding against a malicious or corrupt peer claiming a multi-gigabyte
// body and exhausting memory on ReadFrame.
const MaxFrameLength = 128 * 1024 * 1024

// ReadFrame reads one length-prefixed frame: a 4-byte little-endian
// length followed by exactly that many bytes of body (spec.md §4.A).
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return nil, types.NewError(types.ProtocolError, fmt.Sprintf("frame length %d exceeds maximum %d", n, MaxFrameLength))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame prepends the 4-byte little-endian length of body and
// writes the result to w in one call.
func WriteFrame(w io.Writer, body []byte) error {
	_, err := w.Write(Frame(body))
	return err
}

// Frame returns the length-prefixed bytes for body without writing
// anywhere, for callers assembling a buffer before a single Write call
// (spec.md §4.A).
func Frame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

// ReadIP decodes a 4-byte address field. The wire carries the octets in
// reverse network order; spec.md §4.A requires reversing them before
// constructing the IPv4 address.
func ReadIP(b [4]byte) net.IP {
	return net.IPv4(b[3], b[2], b[1], b[0]).To4()
}

// WriteIP encodes ip into the reversed-octet wire form. An address
// with no IPv4 form encodes as four zero bytes.
func WriteIP(ip net.IP) [4]byte {
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}
	}
	return [4]byte{v4[3], v4[2], v4[1], v4[0]}
}
