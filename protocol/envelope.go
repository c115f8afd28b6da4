package protocol

import (
	"bytes"
	"fmt"

	"spacelink/codec"
	"spacelink/message"
)

// Marshal encodes env into one frame using c for the body.
func Marshal(env *message.Envelope, c codec.Codec) ([]byte, error) {
	var body []byte
	if env.Payload != nil {
		var err error
		body, err = c.Encode(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %v body: %w", env.Op, err)
		}
	}

	h := Header{
		CodecType: c.Type(),
		MsgType:   msgTypeOf(env),
		Op:        int32(env.Op),
		Tag:       env.Tag,
	}
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(body))
	if err := Encode(&buf, &h, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes one frame into an Envelope. The frame must contain exactly
// one header and body; trailing bytes are treated as corruption.
func Unmarshal(frame []byte) (*message.Envelope, error) {
	r := bytes.NewReader(frame)
	h, body, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("protocol: %d trailing bytes after frame", r.Len())
	}

	op := message.Op(h.Op)
	if op.Known() && op.IsResponse() != (h.MsgType == MsgTypeResponse) {
		return nil, fmt.Errorf("protocol: message type %d does not match op %v", h.MsgType, op)
	}

	payload := &message.Payload{}
	if len(body) > 0 {
		// Decode validated the codec type already.
		c, _ := codec.Lookup(h.CodecType)
		if err := c.Decode(body, payload); err != nil {
			return nil, fmt.Errorf("protocol: decode %v body: %w", op, err)
		}
	}
	return &message.Envelope{Op: op, Tag: h.Tag, Payload: payload}, nil
}

func msgTypeOf(env *message.Envelope) MsgType {
	switch {
	case env.Op.IsResponse():
		return MsgTypeResponse
	case env.Tag == 0:
		return MsgTypeNotify
	default:
		return MsgTypeRequest
	}
}
