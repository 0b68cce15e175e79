package h2mux

import (
	"context"
	"sync"
)

// streamRegistry owns the map of live streams and the concurrency gate
// described in §4.G. Lock-order discipline: the registry mutex is always
// acquired before any per-stream state, and callbacks (StreamCallbacks,
// coordinator aborts) are always invoked after releasing it — a stream
// callback re-entering the registry (e.g. to release its own slot) under
// the same lock would deadlock.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[uint32]*Stream

	inUse         uint32
	maxConcurrent uint32 // maxConcurrentStreamsUnset if the peer hasn't sent one

	nextStreamID uint32 // next client-initiated (odd) stream ID to hand out

	shutdownDrain bool  // GOAWAY received or Shutdown() called: no new streams
	aborted       bool  // final teardown has run
	abortErr      error

	waiters []chan struct{} // parked waitForAvailableStreams callers, FIFO
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{
		streams:       make(map[uint32]*Stream),
		maxConcurrent: maxConcurrentStreamsUnset,
		nextStreamID:  1,
	}
}

// setMaxConcurrentStreams applies a SETTINGS-driven concurrency limit
// change, waking waiters if the new limit (or a freed slot) allows it.
func (r *streamRegistry) setMaxConcurrentStreams(n uint32) {
	r.mu.Lock()
	r.maxConcurrent = n
	r.wakeWaitersLocked()
	r.mu.Unlock()
}

// tryReserveStream attempts to claim the next stream ID and a concurrency
// slot in one step. ok is false if the registry is draining or the
// concurrency limit is currently exhausted — callers should fall back to
// waitForAvailableStreams in the latter case.
func (r *streamRegistry) tryReserveStream(cb StreamCallbacks, initialSendWindow uint32, conn *Connection) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdownDrain || r.aborted {
		return nil, false
	}
	if r.inUse >= r.maxConcurrent {
		return nil, false
	}

	id := r.nextStreamID
	r.nextStreamID += 2
	r.inUse++

	s := newStream(id, conn, cb, initialSendWindow)
	s.setState(StreamOpen)
	r.streams[id] = s
	return s, true
}

// waitForAvailableStreams blocks until a concurrency slot is likely free (or
// ctx is cancelled, or the registry starts draining), then the caller should
// retry tryReserveStream — this does not itself reserve anything, avoiding a
// lost-wakeup race between many parked callers and a single freed slot.
func (r *streamRegistry) waitForAvailableStreams(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdownDrain || r.aborted {
		r.mu.Unlock()
		return ErrConnClosed
	}
	if r.inUse < r.maxConcurrent {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *streamRegistry) wakeWaitersLocked() {
	if len(r.waiters) == 0 {
		return
	}
	for _, ch := range r.waiters {
		close(ch)
	}
	r.waiters = nil
}

// lookup returns the stream for id, or nil if unknown/already released.
func (r *streamRegistry) lookup(id uint32) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[id]
}

// releaseStream drops id from the live set and frees its concurrency slot,
// waking every parked waiter so each can retry tryReserveStream. Idempotent.
func (r *streamRegistry) releaseStream(id uint32) {
	r.mu.Lock()
	_, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
		r.inUse--
	}
	r.wakeWaitersLocked()
	r.mu.Unlock()
}

// beginDrain marks the registry as no longer accepting new streams — set on
// receipt of GOAWAY or a local Shutdown call. Streams already open continue
// to completion.
func (r *streamRegistry) beginDrain() {
	r.mu.Lock()
	r.shutdownDrain = true
	r.wakeWaitersLocked()
	r.mu.Unlock()
}

// abort tears the registry down immediately: every live stream is reset
// with err, and all future reservation attempts fail. Used for a dead
// transport or an unrecoverable protocol error (§4.G final_teardown).
func (r *streamRegistry) abort(err error) {
	r.mu.Lock()
	r.shutdownDrain = true
	r.aborted = true
	r.abortErr = err
	victims := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		victims = append(victims, s)
	}
	r.streams = make(map[uint32]*Stream)
	r.inUse = 0
	r.wakeWaitersLocked()
	r.mu.Unlock()

	for _, s := range victims {
		s.onReset(err)
	}
}

// goAwayDrain resets every stream with an ID above lastStreamID (the peer
// never saw them) with a retryable error, leaving lower-numbered streams to
// finish normally.
func (r *streamRegistry) goAwayDrain(lastStreamID uint32, code ErrorCode) {
	r.mu.Lock()
	r.shutdownDrain = true
	var victims []*Stream
	for id, s := range r.streams {
		if id > lastStreamID {
			victims = append(victims, s)
			delete(r.streams, id)
			r.inUse--
		}
	}
	r.wakeWaitersLocked()
	r.mu.Unlock()

	for _, s := range victims {
		se := newStreamError(s.id, code)
		se.Retry = true
		s.onReset(se)
	}
}

// liveCount reports the number of streams currently tracked, for tests and
// diagnostics.
func (r *streamRegistry) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
