package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 16<<20 + 64

	closeGrace = time.Second
)

type options struct {
	logger       *zap.Logger
	name         string
	pingInterval time.Duration
	writeTimeout time.Duration
	readLimit    int64
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName overrides the transport name, which defaults to the remote address.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPingInterval sets how often a ping control frame is sent. Zero disables
// keepalive together with the read deadline that depends on it.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithReadLimit bounds the size of a single inbound WebSocket message.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}
