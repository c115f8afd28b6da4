package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"spacelink/codec"
	"spacelink/registry"
	"spacelink/transport"
)

type options struct {
	logger      *zap.Logger
	path        string
	codec       codec.Codec
	checkOrigin func(*http.Request) bool
	transport   []transport.Option

	registry      registry.Registry
	serviceName   string
	advertiseAddr string
	weight        int
	ttl           int64
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPath sets the HTTP path that accepts WebSocket upgrades. Default "/ws".
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithCheckOrigin replaces the upgrader's same-origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(o *options) { o.checkOrigin = fn }
}

// WithTransportOptions is applied to the transport of every accepted peer.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
}

// WithRegistry advertises the server under serviceName while it serves.
// An empty advertiseAddr is derived from the listener as ws://host:port/path.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, weight int, ttl time.Duration) Option {
	return func(o *options) {
		o.registry = reg
		o.serviceName = serviceName
		o.advertiseAddr = advertiseAddr
		o.weight = weight
		o.ttl = int64(ttl / time.Second)
	}
}

func defaultOptions() options {
	return options{
		logger: zap.NewNop(),
		path:   "/ws",
		codec:  codec.GetCodec(codec.CodecTypeBinary),
		ttl:    10,
	}
}
