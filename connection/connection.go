// Package connection turns a stream of frames into typed RPC.
//
// A Connection sits on top of one transport. Outbound it assigns correlation
// tags, encodes envelopes and waits for the matching response. Inbound it
// decodes every frame and either completes the outstanding call the frame
// answers, or routes it to the handler registered for its op:
//
//	frame ──► Receive ──► response op, tag != 0 ──► correlator ──► Call returns
//	                  ╰─► request / notify ──► handler ──► response (same tag) ──► Send
//
// Receive runs on the transport's single worker goroutine, so handlers see
// frames one at a time in arrival order. A handler must not block on Call
// itself: the response it would wait for is delivered by that same goroutine.
// Handlers that need to call the peer should do so from their own goroutine.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"spacelink/codec"
	"spacelink/message"
	"spacelink/middleware"
	"spacelink/protocol"
)

var (
	ErrDuplicateHandler = errors.New("connection: handler already registered")
	// ErrConnectionAborted wraps the cause for every call failed by Abort.
	ErrConnectionAborted = errors.New("connection: aborted")
	ErrUnknownOp         = errors.New("connection: unknown op")

	errAbortRequested = errors.New("abort requested locally")
)

// Sender is the outbound half of a transport.
type Sender interface {
	Send(frame []byte)
	Disconnect()
}

type Connection struct {
	sender Sender
	codec  codec.Codec
	logger *zap.Logger
	wrap   middleware.Middleware
	now    func() time.Time

	dispatch *dispatchTable
	calls    *correlator

	// ctx is the parent of every handler context; Abort cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	stats counters
}

func New(s Sender, opts ...Option) *Connection {
	o := options{
		logger: zap.NewNop(),
		codec:  codec.GetCodec(codec.CodecTypeBinary),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		sender:   s,
		codec:    o.codec,
		logger:   o.logger,
		wrap:     middleware.Chain(o.middlewares...),
		now:      o.now,
		dispatch: newDispatchTable(),
		calls:    newCorrelator(o.logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddHandlers registers request handlers. If any op already has a handler the
// whole map is rejected with ErrDuplicateHandler and nothing is added.
func (c *Connection) AddHandlers(handlers map[message.Op]middleware.HandlerFunc) error {
	return c.dispatch.add(handlers, c.wrap)
}

// Handles reports whether a handler is registered for op.
func (c *Connection) Handles(op message.Op) bool {
	_, ok := c.dispatch.lookup(op)
	return ok
}

// OpName returns the registered name of op, for logs and errors.
func (c *Connection) OpName(op message.Op) string {
	return op.String()
}

// Call sends a request and waits for its response, an abort, or ctx to end.
// A response carrying an Exception is returned together with that Exception as the error.
func (c *Connection) Call(ctx context.Context, op message.Op, payload *message.Payload) (*message.Envelope, error) {
	if op.IsResponse() {
		return nil, fmt.Errorf("connection: cannot call response op %v", op)
	}
	if _, ok := op.Response(); !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOp, op)
	}

	// Nothing is sent for a call that is already over.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connection: %v: %w", op, err)
	}

	type result struct {
		env *message.Envelope
		err error
	}
	done := make(chan result, 1)
	tag, err := c.calls.register(op, c.now(),
		func(env *message.Envelope) { done <- result{env: env} },
		func(err error) { done <- result{err: err} },
	)
	if err != nil {
		return nil, err
	}

	frame, err := protocol.Marshal(&message.Envelope{Op: op, Tag: tag, Payload: payload}, c.codec)
	if err != nil {
		c.calls.remove(tag)
		return nil, err
	}
	c.stats.calls.Add(1)
	c.sender.Send(frame)

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		if c.calls.remove(tag) {
			c.stats.expired.Add(1)
			c.logger.Debug("Call expired", zap.Stringer("op", op), zap.Uint32("tag", tag), zap.Error(ctx.Err()))
			return nil, fmt.Errorf("connection: %v (tag %d): %w", op, tag, ctx.Err())
		}
		// Lost the race: the resolver or rejecter already owns this call.
		r = <-done
	}
	if r.err != nil {
		return nil, r.err
	}
	if exc := r.env.Payload.Exception; exc != nil {
		return r.env, exc
	}
	return r.env, nil
}

// Notify sends a request that expects no response.
func (c *Connection) Notify(op message.Op, payload *message.Payload) error {
	if err := c.calls.err(); err != nil {
		return err
	}
	frame, err := protocol.Marshal(&message.Envelope{Op: op, Payload: payload}, c.codec)
	if err != nil {
		return err
	}
	c.stats.notifies.Add(1)
	c.sender.Send(frame)
	return nil
}

// Receive handles one inbound frame. Nothing a peer sends can make it panic or
// return an error: malformed frames, unknown ops and failing handlers are logged
// and the connection carries on.
func (c *Connection) Receive(frame []byte) {
	env, err := protocol.Unmarshal(frame)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		c.logger.Warn("Dropping malformed frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}

	if env.Op.IsResponse() {
		if env.Tag == 0 {
			c.stats.unmatched.Add(1)
			c.logger.Warn("Dropping response without tag", zap.Stringer("op", env.Op))
			return
		}
		if c.calls.resolve(env) {
			c.stats.resolved.Add(1)
		} else {
			c.stats.unmatched.Add(1)
		}
		return
	}

	h, ok := c.dispatch.lookup(env.Op)
	if !ok {
		c.stats.unknownOps.Add(1)
		c.logger.Warn("No handler for op", zap.Stringer("op", env.Op), zap.Uint32("tag", env.Tag), zap.Error(ErrUnknownOp))
		return
	}
	c.stats.dispatched.Add(1)

	hooks := &replyHooks{}
	defer hooks.run()
	resp, err := c.invoke(context.WithValue(c.ctx, replyHooksKey{}, hooks), h, env)
	if err != nil {
		c.stats.handlerErrors.Add(1)
		c.logger.Warn("Handler failed", zap.Stringer("op", env.Op), zap.Uint32("tag", env.Tag), zap.Error(err))
		resp = &message.Payload{Exception: toException(err)}
	}
	if resp == nil || env.Tag == 0 {
		return
	}
	respOp, ok := env.Op.Response()
	if !ok {
		c.logger.Warn("Handler produced a response for an op without one", zap.Stringer("op", env.Op))
		return
	}
	c.reply(&message.Envelope{Op: respOp, Tag: env.Tag, Payload: resp})
}

// invoke runs one handler, converting a panic into an error.
func (c *Connection) invoke(ctx context.Context, h middleware.HandlerFunc, env *message.Envelope) (resp *message.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("%w: %v: %v", middleware.ErrHandlerPanic, env.Op, r)
		}
	}()
	return h(ctx, env)
}

func (c *Connection) reply(env *message.Envelope) {
	frame, err := protocol.Marshal(env, c.codec)
	if err != nil {
		c.logger.Error("Failed to encode response", zap.Stringer("op", env.Op), zap.Uint32("tag", env.Tag), zap.Error(err))
		return
	}
	c.sender.Send(frame)
}

// Abort fails every outstanding call with ErrConnectionAborted wrapping cause.
// Later calls fail immediately. The transport invokes it when it stops.
func (c *Connection) Abort(cause error) {
	err := fmt.Errorf("%w: %w", ErrConnectionAborted, cause)
	n := c.calls.rejectAll(err)
	c.cancel()
	c.stats.rejected.Add(uint64(n))
	if n > 0 {
		c.logger.Info("Rejected outstanding calls", zap.Int("count", n), zap.Error(cause))
	}
}

// AbortConnection aborts locally and disconnects the transport.
func (c *Connection) AbortConnection() {
	c.Abort(errAbortRequested)
	c.sender.Disconnect()
}

// Disconnect asks the transport for an orderly close. Outstanding calls are
// rejected once the transport reports that it has stopped.
func (c *Connection) Disconnect() {
	c.sender.Disconnect()
}

// Done is closed once the connection has been aborted.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) Outstanding() int {
	return c.calls.len()
}

func (c *Connection) Pending() []PendingCall {
	return c.calls.snapshot(c.now())
}

func (c *Connection) Stats() Stats {
	return Stats{
		Calls:         c.stats.calls.Load(),
		Notifies:      c.stats.notifies.Load(),
		Resolved:      c.stats.resolved.Load(),
		Rejected:      c.stats.rejected.Load(),
		Expired:       c.stats.expired.Load(),
		Unmatched:     c.stats.unmatched.Load(),
		Dispatched:    c.stats.dispatched.Load(),
		HandlerErrors: c.stats.handlerErrors.Load(),
		UnknownOps:    c.stats.unknownOps.Load(),
		DecodeErrors:  c.stats.decodeErrors.Load(),
		Outstanding:   c.calls.len(),
	}
}

func toException(err error) *message.Exception {
	var exc *message.Exception
	if errors.As(err, &exc) {
		return exc
	}
	return message.NewException(err.Error(), nil)
}
