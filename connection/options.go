package connection

import (
	"time"

	"go.uber.org/zap"

	"spacelink/codec"
	"spacelink/middleware"
)

type options struct {
	logger      *zap.Logger
	codec       codec.Codec
	middlewares []middleware.Middleware
	now         func() time.Time
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCodec selects the payload encoding for outbound envelopes. Inbound frames
// are decoded with whatever codec their header names.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMiddleware wraps every handler added afterwards. The first middleware runs outermost.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
