// Package protocol implements the binary frame carried in every WebSocket message.
//
// A WebSocket already delimits messages, but the frame still starts with a fixed
// header so that a peer can reject foreign traffic early (magic + version), learn
// which codec produced the body, and route the frame (op + tag) before touching
// the body at all.
//
// Frame format:
//
//	0      3  4  5  6         10        14        18
//	┌──────┬──┬──┬──┬─────────┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   op    │   tag   │ bodyLen │    body ...    │
//	│ slk  │01│  │  │  int32  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"spacelink/codec"
)

// Magic number bytes: "slk" (spacelink).
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x6c // 'l'
	MagicByte3  byte = 0x6b // 'k'
	Version     byte = 0x01
	HeaderSize  int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (op) + 4 (tag) + 4 (bodyLen)

	// MaxBodyLen guards against a corrupt length field allocating absurd buffers.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request, response, and notify frames.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 0 // expects a reply when Tag != 0
	MsgTypeResponse MsgType = 1 // answers a request, Tag copied from it
	MsgTypeNotify   MsgType = 2 // fire-and-forget, Tag is always 0
)

var (
	ErrInvalidMagic       = errors.New("protocol: invalid magic number")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrBodyTooLarge       = errors.New("protocol: body too large")
)

// Header represents the fixed 18-byte frame header.
type Header struct {
	CodecType codec.CodecType
	MsgType   MsgType
	Op        int32  // operation code, see message.Op
	Tag       uint32 // correlation tag, 0 = none
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(h.Op))
	binary.BigEndian.PutUint32(buf[10:14], h.Tag)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(body)))

	// One Write per frame: callers hand the result to a single WebSocket message.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, headerBuf[3])
	}
	codecType := codec.CodecType(headerBuf[4])
	if _, ok := codec.Lookup(codecType); !ok {
		return nil, nil, fmt.Errorf("protocol: unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeNotify {
		return nil, nil, fmt.Errorf("protocol: unsupported message type: %d", headerBuf[5])
	}

	h := &Header{
		CodecType: codecType,
		MsgType:   msgType,
		Op:        int32(binary.BigEndian.Uint32(headerBuf[6:10])),
		Tag:       binary.BigEndian.Uint32(headerBuf[10:14]),
		BodyLen:   binary.BigEndian.Uint32(headerBuf[14:18]),
	}
	if h.MsgType == MsgTypeNotify && h.Tag != 0 {
		return nil, nil, fmt.Errorf("protocol: notify frame carries tag %d", h.Tag)
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
