// Package packet frames and unframes the binary envelope every message
// travels in:
//
//	[u16 head_magic][u16 cmd_id][u16 head_len][u32 body_len][head][body][u16 tail_magic]
//
// All integers are big-endian. The package knows nothing about encryption or
// session state.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	HeadMagic = 0x4567
	TailMagic = 0x89AB

	// Overhead is the fixed number of bytes framing adds around head and body.
	Overhead = 12

	MaxHeadLen = 0xFFFF
)

var (
	ErrTruncated   = errors.New("packet: truncated")
	ErrHeadMagic   = errors.New("packet: head magic mismatch")
	ErrOutOfBounds = errors.New("packet: lengths exceed buffer")
	ErrTailMagic   = errors.New("packet: tail magic mismatch")
)

// FrameError describes why a datagram was rejected.
type FrameError struct {
	Kind    error
	BufLen  int
	HeadLen int
	BodyLen int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v (buf=%d head=%d body=%d)", e.Kind, e.BufLen, e.HeadLen, e.BodyLen)
}

func (e *FrameError) Unwrap() error { return e.Kind }

// Frame is an unframed datagram. Head and Body alias the input buffer.
type Frame struct {
	CmdID uint16
	Head  []byte
	Body  []byte
}

// Pack writes a complete datagram.
func Pack(cmdID uint16, head, body []byte) ([]byte, error) {
	if len(head) > MaxHeadLen {
		return nil, errors.Errorf("packet: head too large: %d", len(head))
	}
	if uint64(len(body)) > 0xFFFFFFFF {
		return nil, errors.Errorf("packet: body too large: %d", len(body))
	}
	buf := make([]byte, Overhead+len(head)+len(body))
	binary.BigEndian.PutUint16(buf[0:], HeadMagic)
	binary.BigEndian.PutUint16(buf[2:], cmdID)
	binary.BigEndian.PutUint16(buf[4:], uint16(len(head)))
	binary.BigEndian.PutUint32(buf[6:], uint32(len(body)))
	n := 10
	n += copy(buf[n:], head)
	n += copy(buf[n:], body)
	binary.BigEndian.PutUint16(buf[n:], TailMagic)
	return buf, nil
}

// Unpack validates data and splits it into head and body.
// Checks run in order: minimum length, head magic, declared lengths, tail magic.
func Unpack(data []byte) (Frame, error) {
	if len(data) < Overhead {
		return Frame{}, &FrameError{Kind: ErrTruncated, BufLen: len(data)}
	}
	if binary.BigEndian.Uint16(data) != HeadMagic {
		return Frame{}, &FrameError{Kind: ErrHeadMagic, BufLen: len(data)}
	}
	headLen := int(binary.BigEndian.Uint16(data[4:]))
	bodyLen := int(binary.BigEndian.Uint32(data[6:]))
	fe := &FrameError{BufLen: len(data), HeadLen: headLen, BodyLen: bodyLen}
	end := Overhead + headLen + bodyLen
	if end > len(data) || end < Overhead {
		fe.Kind = ErrOutOfBounds
		return Frame{}, fe
	}
	tail := 10 + headLen + bodyLen
	if binary.BigEndian.Uint16(data[tail:]) != TailMagic {
		fe.Kind = ErrTailMagic
		return Frame{}, fe
	}
	return Frame{
		CmdID: binary.BigEndian.Uint16(data[2:]),
		Head:  data[10 : 10+headLen],
		Body:  data[10+headLen : tail],
	}, nil
}

// PeekCmdID reads only the command id after checking the head magic.
func PeekCmdID(data []byte) (uint16, bool) {
	if len(data) < 4 || binary.BigEndian.Uint16(data) != HeadMagic {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[2:]), true
}
