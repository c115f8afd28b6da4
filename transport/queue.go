package transport

import (
	"context"
	"sync"
)

// frameQueue is an unbounded FIFO with a single consumer. Producers never
// block, so a slow consumer cannot stall the goroutine feeding it.
type frameQueue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	ready  chan struct{} // capacity 1, signalled on push and close
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

// push appends a frame. It reports false once the queue has been closed.
func (q *frameQueue) push(frame []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()
	q.signal()
	return true
}

// pop waits for the next frame. After close it keeps returning queued frames
// until the queue is empty, then reports false.
func (q *frameQueue) pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			frame := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return frame, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *frameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *frameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
