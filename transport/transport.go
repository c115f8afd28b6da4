// Package transport owns one WebSocket and moves whole binary frames across it.
//
// A Transport never blocks its callers. Outbound frames are queued and written
// by a dedicated writer goroutine in the order Send was called; inbound frames are
// queued by the reader goroutine and handed to the Receiver by a separate worker,
// so a slow handler never stops the socket from being drained.
//
//	Send ──► outbound queue ──► writer ──► socket
//	socket ──► reader ──► inbound queue ──► worker ──► Receiver.Receive
//	pinger ──► ping control frames; pong extends the read deadline
//
// The four goroutines share one errgroup: the first to fail tears the rest down,
// and the Receiver is aborted exactly once with the cause.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is the cause reported for an orderly close from either side.
	ErrClosed = errors.New("transport: closed")
	// ErrTextFrame is logged when the peer sends a text message.
	ErrTextFrame = errors.New("transport: text frame on binary-only connection")
	// ErrNotInitializing is returned by Start on a transport that was already started or closed.
	ErrNotInitializing = errors.New("transport: not in initializing state")
)

// Socket is the subset of *websocket.Conn a Transport uses.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
	RemoteAddr() net.Addr
}

// Receiver is the layer above a Transport, normally a *connection.Connection.
type Receiver interface {
	// Receive is called on the worker goroutine, once per inbound binary frame, in arrival order.
	Receive(frame []byte)
	// Abort is called once when the transport stops, with ErrClosed or the fault that stopped it.
	Abort(err error)
}

type Transport struct {
	id     string
	sock   Socket
	opts   options
	logger *zap.Logger

	state    atomic.Int32
	outbound *frameQueue
	inbound  *frameQueue
	receiver Receiver

	ctx    context.Context
	cancel context.CancelFunc

	finishOnce sync.Once
	done       chan struct{}
	errMu      sync.Mutex
	err        error

	listenersMu sync.Mutex
	listeners   []func(*Transport)
	closed      bool

	stats counters
}

// New wraps an established socket. The transport stays in Initializing until Start.
func New(sock Socket, opts ...Option) *Transport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" && sock.RemoteAddr() != nil {
		o.name = sock.RemoteAddr().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:       uuid.NewString(),
		sock:     sock,
		opts:     o,
		outbound: newFrameQueue(),
		inbound:  newFrameQueue(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	t.logger = o.logger.With(zap.String("transport", t.id), zap.String("peer", o.name))
	return t
}

func (t *Transport) ID() string   { return t.id }
func (t *Transport) Name() string { return t.opts.name }

func (t *Transport) State() State { return State(t.state.Load()) }

// Done is closed once the transport reaches Closed and every OnDisconnect listener has returned.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns why the transport closed, or nil while it is still running.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// OnDisconnect registers fn to run once after the transport reaches Closed.
// Registering on an already closed transport runs fn immediately.
func (t *Transport) OnDisconnect(fn func(*Transport)) {
	t.listenersMu.Lock()
	if t.closed {
		t.listenersMu.Unlock()
		fn(t)
		return
	}
	t.listeners = append(t.listeners, fn)
	t.listenersMu.Unlock()
}

// Start opens the transport and begins delivering frames to r.
func (t *Transport) Start(r Receiver) error {
	if !t.state.CompareAndSwap(int32(StateInitializing), int32(StateOpen)) {
		t.logger.Error("Start called on transport", zap.Stringer("state", t.State()))
		return fmt.Errorf("%w: %v", ErrNotInitializing, t.State())
	}
	t.receiver = r
	t.onOpen()

	g, ctx := errgroup.WithContext(t.ctx)
	g.Go(func() error { return t.readLoop() })
	g.Go(func() error { return t.dispatchLoop() })
	g.Go(func() error { return t.writeLoop(ctx) })
	if t.opts.pingInterval > 0 {
		g.Go(func() error { return t.pingLoop(ctx) })
	}
	// Unblocks the reader once any goroutine has failed.
	g.Go(func() error {
		<-ctx.Done()
		t.sock.Close()
		return nil
	})

	go func() {
		t.finish(g.Wait())
	}()
	return nil
}

// Send queues frame for writing. Sends on a transport that is not Open are dropped.
func (t *Transport) Send(frame []byte) {
	if t.State() != StateOpen || !t.outbound.push(frame) {
		t.stats.dropped.Add(1)
		t.logger.Warn("Dropping outbound frame, transport not open",
			zap.Stringer("state", t.State()), zap.Int("bytes", len(frame)))
	}
}

// Disconnect starts an orderly close. Frames already queued are written first,
// then a close frame is sent. It is safe to call from any state, any number of times.
func (t *Transport) Disconnect() {
	if t.state.CompareAndSwap(int32(StateInitializing), int32(StateClosed)) {
		t.sock.Close()
		t.finishOnce.Do(func() { t.close(ErrClosed) })
		return
	}
	if t.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		t.logger.Debug("Disconnecting")
		t.outbound.close()
	}
}

func (t *Transport) onOpen() {
	if t.opts.readLimit > 0 {
		t.sock.SetReadLimit(t.opts.readLimit)
	}
	if t.opts.pingInterval > 0 {
		wait := t.pongWait()
		t.sock.SetReadDeadline(time.Now().Add(wait))
		t.sock.SetPongHandler(func(string) error {
			return t.sock.SetReadDeadline(time.Now().Add(wait))
		})
	}
	t.logger.Info("Transport open")
}

func (t *Transport) onTextFrame(data []byte) {
	t.stats.dropped.Add(1)
	t.logger.Error("Protocol violation, dropping frame", zap.Error(ErrTextFrame), zap.Int("bytes", len(data)))
}

func (t *Transport) onBinaryFrame(data []byte) {
	t.stats.framesIn.Add(1)
	t.stats.bytesIn.Add(uint64(len(data)))
	t.inbound.push(data)
}

func (t *Transport) onError(err error) {
	t.logger.Error("Transport fault", zap.Error(err))
}

func (t *Transport) onClose(err error) {
	t.logger.Info("Transport closed", zap.NamedError("cause", err))
}

// finish runs once the errgroup has drained and settles the final state.
func (t *Transport) finish(err error) {
	if err == nil {
		err = ErrClosed
	}
	for {
		prev := t.State()
		if prev == StateClosed {
			break
		}
		next := StateClosed
		if prev == StateClosing {
			// We asked for this; whatever ended the read is part of closing.
			err = ErrClosed
		} else if !errors.Is(err, ErrClosed) {
			next = StateError
		}
		if t.state.CompareAndSwap(int32(prev), int32(next)) {
			if next == StateError {
				t.onError(err)
				t.state.Store(int32(StateClosed))
			}
			break
		}
	}

	t.finishOnce.Do(func() {
		if t.receiver != nil {
			t.receiver.Abort(err)
		}
		t.close(err)
	})
}

func (t *Transport) close(err error) {
	t.cancel()
	t.outbound.close()
	t.inbound.close()

	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()

	t.onClose(err)

	t.listenersMu.Lock()
	t.closed = true
	listeners := t.listeners
	t.listeners = nil
	t.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	close(t.done)
}

func (t *Transport) pongWait() time.Duration {
	return t.opts.pingInterval * 2
}
