// Package client dials spacelink servers, either directly by URL or through a
// registry and a load balancer.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spacelink/connection"
	"spacelink/loadbalance"
	"spacelink/registry"
	"spacelink/transport"
)

// Conn is one dialed server: the connection used for calls plus the transport under it.
type Conn struct {
	*connection.Connection
	Transport *transport.Transport
	Addr      string
}

// SetupFunc prepares a Conn before it starts receiving frames.
type SetupFunc func(c *Conn) error

// Close disconnects in order and waits until the transport has closed or ctx ends.
func (c *Conn) Close(ctx context.Context) error {
	c.Transport.Disconnect()
	select {
	case <-c.Transport.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abort fails everything registered on a Conn whose transport never started.
func (c *Conn) abort(cause error) {
	c.Connection.Abort(cause)
	c.Transport.Disconnect()
}

// Done is closed once the transport has closed.
func (c *Conn) Done() <-chan struct{} {
	return c.Transport.Done()
}

// Dial opens a WebSocket to url and starts a connection on it.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return dial(ctx, url, &o)
}

func dial(ctx context.Context, url string, o *options) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, o.header)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	tr := transport.New(ws, append([]transport.Option{transport.WithLogger(o.logger)}, o.transport...)...)
	conn := connection.New(tr,
		connection.WithLogger(o.logger.With(zap.String("server", url))),
		connection.WithCodec(o.codec),
		connection.WithMiddleware(o.middlewares...),
	)
	c := &Conn{Connection: conn, Transport: tr, Addr: url}
	for _, setup := range o.setups {
		if err := setup(c); err != nil {
			c.abort(err)
			return nil, err
		}
	}
	if err := tr.Start(conn); err != nil {
		c.abort(err)
		return nil, err
	}
	return c, nil
}

// Client finds servers of one service in a registry and dials the one the
// balancer picks.
type Client struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	serviceName string
	opts        options
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, serviceName string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{registry: reg, balancer: bal, serviceName: serviceName, opts: o}
}

// Dial connects to an instance picked for key. An instance that refuses the
// dial is left out and the balancer picks again until none are left.
func (c *Client) Dial(ctx context.Context, key string) (*Conn, error) {
	instances, err := c.registry.Discover(ctx, c.serviceName)
	if err != nil {
		return nil, err
	}

	var errs []error
	for len(instances) > 0 {
		inst, err := c.balancer.Pick(key, instances)
		if err != nil {
			return nil, err
		}
		conn, err := dial(ctx, inst.Addr, &c.opts)
		if err == nil {
			return conn, nil
		}
		c.opts.logger.Warn("Instance unreachable", zap.String("service", c.serviceName), zap.String("addr", inst.Addr), zap.Error(err))
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		instances = without(instances, inst.Addr)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", registry.ErrNoInstances, c.serviceName)
	}
	return nil, errors.Join(errs...)
}

func without(instances []registry.ServiceInstance, addr string) []registry.ServiceInstance {
	out := make([]registry.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Addr != addr {
			out = append(out, inst)
		}
	}
	return out
}
