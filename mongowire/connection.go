package mongowire

import (
	"context"
	"sync"
)

// connection is the oplogfetcher.Connection for one cursor's lifetime. It
// holds the cancel func for whichever RunCommand is currently in flight so
// Interrupt can unblock it from any goroutine, matching
// shutdownAndDisallowReconnect in the original oplog_fetcher.h.
type connection struct {
	mu            sync.Mutex
	cancelCurrent context.CancelFunc
	closed        bool
}

func newConnection() *connection {
	return &connection{}
}

// withCancel derives a context for one blocking call and registers its
// cancel func so Interrupt can reach it. The returned done func must be
// called when the call returns, successful or not.
func (c *connection) withCancel(parent context.Context) (context.Context, func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ctx, cancel := context.WithCancel(parent)
		cancel()
		return ctx, func() {}
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancelCurrent = cancel
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		c.cancelCurrent = nil
		c.mu.Unlock()
		cancel()
	}
}

// Interrupt unblocks whatever call is currently using this connection, if
// any, and marks it closed so future calls fail fast instead of
// reconnecting. Safe to call with no call in flight and safe to call more
// than once.
func (c *connection) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancelCurrent != nil {
		c.cancelCurrent()
	}
}

// Close is equivalent to Interrupt for this transport: there is no
// separate socket-level teardown beyond cancelling the in-flight call.
func (c *connection) Close() error {
	c.Interrupt()
	return nil
}
