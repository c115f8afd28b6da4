package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// readLoop is the only goroutine that reads from the socket. It returns when the
// socket fails or the peer closes, which in turn cancels the other goroutines.
func (t *Transport) readLoop() error {
	defer t.inbound.close()
	for {
		kind, data, err := t.sock.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		switch kind {
		case websocket.BinaryMessage:
			t.onBinaryFrame(data)
		case websocket.TextMessage:
			t.onTextFrame(data)
		}
	}
}

// dispatchLoop hands inbound frames to the receiver one at a time. It drains
// everything the reader queued before it stopped.
func (t *Transport) dispatchLoop() error {
	for {
		frame, ok := t.inbound.pop(context.Background())
		if !ok {
			return nil
		}
		t.receiver.Receive(frame)
	}
}

// writeLoop is the only goroutine that writes data frames, so frames leave in
// exactly the order they were queued.
func (t *Transport) writeLoop(ctx context.Context) error {
	for {
		frame, ok := t.outbound.pop(ctx)
		if !ok {
			break
		}
		if err := t.write(frame); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	// The queue was closed by Disconnect: say goodbye and give the peer a moment to answer.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := t.sock.WriteControl(websocket.CloseMessage, msg, t.controlDeadline()); err != nil {
		t.logger.Debug("Failed to send close frame", zap.Error(err))
	}
	timer := time.NewTimer(closeGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		t.sock.Close()
	}
	return nil
}

func (t *Transport) write(frame []byte) error {
	if t.opts.writeTimeout > 0 {
		t.sock.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
	}
	if err := t.sock.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	t.stats.framesOut.Add(1)
	t.stats.bytesOut.Add(uint64(len(frame)))
	return nil
}

func (t *Transport) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.opts.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.sock.WriteControl(websocket.PingMessage, nil, t.controlDeadline()); err != nil {
				return fmt.Errorf("transport: ping: %w", err)
			}
		}
	}
}

// controlDeadline bounds a control frame write. Control frames always get a
// deadline, even when data writes do not.
func (t *Transport) controlDeadline() time.Time {
	d := t.opts.writeTimeout
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	return time.Now().Add(d)
}
