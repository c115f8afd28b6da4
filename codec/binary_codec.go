package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// BinaryCodec encodes payloads with msgpack. Struct fields use the short
// `msgpack:"x"` keys declared on the message types, which keeps frames compact
// while still tolerating fields added by newer peers.
type BinaryCodec struct{}

func (*BinaryCodec) Type() CodecType { return CodecTypeBinary }

func (*BinaryCodec) Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: msgpack encode: %w", err)
	}
	return data, nil
}

func (*BinaryCodec) Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: msgpack decode: %w", err)
	}
	return nil
}
