package codec

import (
	"encoding/json"
	"fmt"
)

// JSONCodec writes payloads as JSON text inside binary frames, for peers and
// tools that want to read bodies without a msgpack decoder.
type JSONCodec struct{}

func (*JSONCodec) Type() CodecType { return CodecTypeJSON }

func (*JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return data, nil
}

func (*JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: json decode: %w", err)
	}
	return nil
}
