package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"spacelink/codec"
	"spacelink/middleware"
	"spacelink/transport"
)

type options struct {
	logger           *zap.Logger
	codec            codec.Codec
	middlewares      []middleware.Middleware
	transport        []transport.Option
	header           http.Header
	handshakeTimeout time.Duration
	setups           []SetupFunc
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMiddleware wraps the handlers this client registers for server-initiated requests.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
}

// WithHeader adds HTTP headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithSetup runs fn on every new Conn before its transport starts, so handlers
// for server-initiated requests are in place before the first frame arrives.
func WithSetup(fn SetupFunc) Option {
	return func(o *options) { o.setups = append(o.setups, fn) }
}

func defaultOptions() options {
	return options{
		logger:           zap.NewNop(),
		codec:            codec.GetCodec(codec.CodecTypeBinary),
		handshakeTimeout: 10 * time.Second,
	}
}
