package h2mux

import (
	"context"
	"sync"
)

// creditWaiter is a parked request_credit call (§4.C). It is woken either
// by adjustCredit granting it bytes, or by its caller's context being
// cancelled.
type creditWaiter struct {
	requested int32
	grant     chan int32
	done      bool // guarded by the owning creditManager's mutex
}

// creditManager is the per-stream flow-control window with an async wait
// queue (§4.C / component C). The window is signed: a SETTINGS-driven
// InitialWindowSize decrease can push it negative, after which no further
// credit is granted until adjustments bring it back above zero.
type creditManager struct {
	mu      sync.Mutex
	window  int64
	waiters []*creditWaiter
}

func newCreditManager(initial uint32) *creditManager {
	return &creditManager{window: int64(initial)}
}

// requestCredit asks for up to n bytes of send window, returning a grant
// in [1, min(n, MaxFramePayload)]. It blocks until window > 0 or ctx is
// done. A cancelled wait never leaves a dangling reservation: the waiter is
// removed from the FIFO before returning.
func (c *creditManager) requestCredit(ctx context.Context, n int32) (int32, error) {
	if n <= 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.window > 0 {
		granted := grantAmount(n, c.window)
		c.window -= int64(granted)
		c.mu.Unlock()
		return granted, nil
	}

	w := &creditWaiter{requested: n, grant: make(chan int32, 1)}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case granted := <-w.grant:
		return granted, nil
	case <-ctx.Done():
		c.cancelWaiter(w)
		select {
		case granted := <-w.grant:
			// adjustCredit won the race after all; honor the grant rather
			// than silently dropping credit it already debited.
			return granted, nil
		default:
			return 0, ctx.Err()
		}
	}
}

func (c *creditManager) cancelWaiter(w *creditWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.done {
		return
	}
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
}

// adjustCredit applies delta to the window (positive or negative, e.g. a
// WINDOW_UPDATE or a SETTINGS-driven InitialWindowSize change) and, if the
// window becomes positive, wakes FIFO waiters granting up to
// min(requested, window, MaxFramePayload) each until the window is
// exhausted or there are no more waiters.
func (c *creditManager) adjustCredit(delta int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window += int64(delta)
	if c.window <= 0 {
		return
	}

	for len(c.waiters) > 0 {
		w := c.waiters[0]
		if c.window <= 0 {
			break
		}
		granted := grantAmount(w.requested, c.window)
		c.window -= int64(granted)
		w.done = true
		w.grant <- granted
		c.waiters = c.waiters[1:]
	}
}

// currentWindow reports the signed window, mainly for tests/diagnostics.
func (c *creditManager) currentWindow() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

func grantAmount(requested int32, window int64) int32 {
	granted := int64(requested)
	if window < granted {
		granted = window
	}
	if granted > MaxFramePayload {
		granted = MaxFramePayload
	}
	if granted < 1 {
		granted = 1
	}
	return int32(granted)
}
