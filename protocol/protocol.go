// Package protocol implements the binary frame protocol spoken over a request socket.
//
// Every message (control sentinel or real payload) travels as one frame: a fixed-size
// 13-byte header followed by a variable-length body. The receiver reads the header first
// to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5         9         13
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │mt│   seq   │ bodyLen │    body ...    │
//	│ lzp  │01│  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "lzp" (lazy pirate).
// Used to reject peers that are not speaking this protocol (e.g. an HTTP client on the wrong port).
const (
	MagicNumber byte = 0x6c // 'l'
	MagicByte2  byte = 0x7a // 'z'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 13 // 3 (magic) + 1 (version) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body so a corrupt header cannot trigger a huge allocation.
	MaxBodyLen uint32 = 64 << 20
)

// ErrMalformed is wrapped by every Decode error caused by a bad header (as opposed to an I/O error).
var ErrMalformed = errors.New("protocol: malformed frame")

// MsgType distinguishes request and reply frames.
type MsgType byte

const (
	MsgTypeRequest MsgType = 0 // client → broker
	MsgTypeReply   MsgType = 1 // broker → client
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeReply:
		return "reply"
	default:
		return fmt.Sprintf("msgtype(%d)", byte(t))
	}
}

// Header represents the fixed 13-byte frame header.
type Header struct {
	MsgType MsgType // Request or Reply
	Seq     uint32  // A reply carries the seq of the request it answers
	BodyLen uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// Header and body go out in a single Write so a deadline either covers the whole frame or none of it.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("%w: body of %d bytes exceeds limit", ErrMalformed, len(body))
	}
	buf := make([]byte, HeaderSize+len(body))

	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = byte(h.MsgType)
	// network byte order
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version and message type. I/O errors are returned
// unchanged so callers can tell a timeout or closed peer apart from a malformed frame.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: invalid magic number %x", ErrMalformed, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, headerBuf[3])
	}
	msgType := MsgType(headerBuf[4])
	if msgType != MsgTypeRequest && msgType != MsgTypeReply {
		return nil, nil, fmt.Errorf("%w: unsupported message type %d", ErrMalformed, headerBuf[4])
	}

	seq := binary.BigEndian.Uint32(headerBuf[5:9])
	bodyLen := binary.BigEndian.Uint32(headerBuf[9:13])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: body length %d exceeds limit", ErrMalformed, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		MsgType: msgType,
		Seq:     seq,
		BodyLen: bodyLen,
	}, body, nil
}
