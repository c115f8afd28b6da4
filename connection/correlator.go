package connection

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"spacelink/message"
)

type pendingCall struct {
	tag     uint32
	op      message.Op
	created time.Time
	resolve func(*message.Envelope)
	reject  func(error)
}

// PendingCall describes one call still waiting for its response.
type PendingCall struct {
	Tag uint32
	Op  message.Op
	Age time.Duration
}

// correlator owns the outstanding-call table. Every method takes the lock only
// to mutate the table; resolvers and rejecters always run after it is released,
// so a callback may safely call back into the correlator.
type correlator struct {
	mu     sync.Mutex
	next   uint32
	calls  map[uint32]*pendingCall
	closed error
	logger *zap.Logger
}

func newCorrelator(logger *zap.Logger) *correlator {
	return &correlator{calls: make(map[uint32]*pendingCall), logger: logger}
}

// register allocates a fresh tag and records the call under it. Tags increase
// monotonically, wrap around, and never take 0 or a value still outstanding.
func (c *correlator) register(op message.Op, now time.Time, resolve func(*message.Envelope), reject func(error)) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return 0, c.closed
	}
	for {
		c.next++
		if c.next == 0 {
			continue
		}
		if _, busy := c.calls[c.next]; !busy {
			break
		}
	}
	c.calls[c.next] = &pendingCall{tag: c.next, op: op, created: now, resolve: resolve, reject: reject}
	return c.next, nil
}

// resolve completes the call waiting on env.Tag. A tag nobody is waiting for
// (never issued, already answered, or expired) is logged and ignored. So is a
// response whose op does not answer the call's request op; that call keeps waiting.
func (c *correlator) resolve(env *message.Envelope) bool {
	c.mu.Lock()
	call, ok := c.calls[env.Tag]
	mismatch := false
	if ok {
		if req, _ := env.Op.Request(); req != call.op {
			ok, mismatch = false, true
		} else {
			delete(c.calls, env.Tag)
		}
	}
	c.mu.Unlock()

	if mismatch {
		c.logger.Warn("response op does not answer the outstanding request",
			zap.Uint32("tag", env.Tag), zap.Stringer("op", env.Op), zap.Stringer("request", call.op))
		return false
	}
	if !ok {
		c.logger.Warn("received response for unknown or expired session",
			zap.Uint32("tag", env.Tag), zap.Stringer("op", env.Op))
		return false
	}
	call.resolve(env)
	return true
}

// remove drops a call without completing it. It reports whether the call was
// still outstanding, i.e. whether the caller won the race against resolve.
func (c *correlator) remove(tag uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.calls[tag]; !ok {
		return false
	}
	delete(c.calls, tag)
	return true
}

// rejectAll fails every outstanding call with err and refuses new ones.
func (c *correlator) rejectAll(err error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	drained := c.calls
	c.calls = make(map[uint32]*pendingCall)
	c.mu.Unlock()

	for _, call := range drained {
		call.reject(err)
	}
	return len(drained)
}

// err returns the error rejectAll closed the table with, if any.
func (c *correlator) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *correlator) snapshot(now time.Time) []PendingCall {
	c.mu.Lock()
	out := make([]PendingCall, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, PendingCall{Tag: call.tag, Op: call.op, Age: now.Sub(call.created)})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
