package connection

import (
	"context"
	"sync"
)

type replyHooksKey struct{}

type replyHooks struct {
	mu   sync.Mutex
	fns  []func()
	done bool
}

// AfterReply schedules fn to run once the handler for the current request has
// returned and its response, if any, has been queued. A handler that has to
// tear the connection down uses it so the peer still receives the answer.
// Outside a handler, or after the reply went out, fn runs immediately.
func AfterReply(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(replyHooksKey{}).(*replyHooks)
	if !ok {
		fn()
		return
	}
	hooks.mu.Lock()
	if hooks.done {
		hooks.mu.Unlock()
		fn()
		return
	}
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
}

func (h *replyHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.done = true
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
