package connection

import (
	"fmt"
	"sync"

	"spacelink/message"
	"spacelink/middleware"
)

// dispatchTable maps request ops to handlers. Entries are only ever added.
type dispatchTable struct {
	mu       sync.RWMutex
	handlers map[message.Op]middleware.HandlerFunc
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{handlers: make(map[message.Op]middleware.HandlerFunc)}
}

// add merges handlers into the table, all or nothing.
func (d *dispatchTable) add(handlers map[message.Op]middleware.HandlerFunc, wrap middleware.Middleware) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for op, h := range handlers {
		if _, exists := d.handlers[op]; exists {
			return fmt.Errorf("%w: %v", ErrDuplicateHandler, op)
		}
		if h == nil {
			return fmt.Errorf("connection: nil handler for %v", op)
		}
		if op.IsResponse() {
			return fmt.Errorf("connection: %v is a response op and cannot have a handler", op)
		}
	}
	for op, h := range handlers {
		d.handlers[op] = wrap(h)
	}
	return nil
}

func (d *dispatchTable) lookup(op message.Op) (middleware.HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[op]
	return h, ok
}
