// Package codec serializes envelope payloads.
//
// The frame header records which codec produced the body, so both peers can
// decode a frame without negotiating up front. Binary (msgpack) is the default;
// JSON exists for debugging peers and tooling that prefer readable bodies.
package codec

import (
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

// Lookup returns the codec registered for codecType.
func Lookup(codecType CodecType) (Codec, bool) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, true
	case CodecTypeBinary:
		return &BinaryCodec{}, true
	}
	return nil, false
}

// GetCodec returns the codec for codecType, falling back to Binary.
func GetCodec(codecType CodecType) Codec {
	if c, ok := Lookup(codecType); ok {
		return c
	}
	return &BinaryCodec{}
}

// ByName maps a configuration name to a codec: "binary" or "msgpack", and "json".
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "binary", "msgpack":
		return &BinaryCodec{}, nil
	case "json":
		return &JSONCodec{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}
