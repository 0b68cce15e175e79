package h2mux

import (
	"sync"
	"sync/atomic"
)

// idleSentinel marks "no entry" in both the head word and an entry's next
// pointer.
const idleSentinel = ^uint32(0)

// idleEntry is the fixed-index linked-list node backing one registered
// connection slot (§4.I). The entry, not the connection itself, is what
// the lock-free stack links — so growing the slot array never invalidates
// a reference a concurrent pop already holds.
type idleEntry struct {
	pushCount uint32
	next      uint32 // idleSentinel if this is the bottom of the stack

	// owner holds the connection while it is parked in the stack, cleared
	// on pop so an idle connection isn't rooted against reclamation by a
	// stack entry nobody is actively popping.
	owner atomic.Pointer[IdleConn]
}

// IdleConn is the minimal surface the pool-facing idle stack needs from a
// connection: a stable slot index assigned by register.
type IdleConn interface {
	idleSlot() *int32
}

// idleStack is a non-blocking push/pop collection of idle connections,
// returning the most-recently pushed one first (§4.I, component I). All
// push/pop traffic is lock-free; only register/unregister (slot-array
// growth) take the short internal mutex.
type idleStack struct {
	head atomic.Uint64 // packed {headIndex:32, pushCount:32}

	growMu  sync.Mutex
	entries []*idleEntry
	free    []int32
}

func newIdleStack() *idleStack {
	s := &idleStack{}
	s.head.Store(packHead(idleSentinel, 0))
	return s
}

func packHead(index uint32, pushCount uint32) uint64 {
	return uint64(index)<<32 | uint64(pushCount)
}

func unpackHead(word uint64) (index uint32, pushCount uint32) {
	return uint32(word >> 32), uint32(word)
}

// register allocates a free slot index for conn, growing the slot array
// (doubling, minimum 4) if none is free.
func (s *idleStack) register(conn IdleConn) int32 {
	s.growMu.Lock()
	defer s.growMu.Unlock()

	if len(s.free) == 0 {
		start := len(s.entries)
		grow := start
		if grow < 4 {
			grow = 4
		}
		for i := 0; i < grow; i++ {
			s.entries = append(s.entries, &idleEntry{next: idleSentinel})
			s.free = append(s.free, int32(start+i))
		}
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	*conn.idleSlot() = idx
	return idx
}

// unregister returns conn's slot index to the free queue. The caller must
// ensure conn is not currently linked into the stack (pop it first).
func (s *idleStack) unregister(conn IdleConn) {
	idx := *conn.idleSlot()
	if idx < 0 {
		return
	}
	s.growMu.Lock()
	s.free = append(s.free, idx)
	s.growMu.Unlock()
	*conn.idleSlot() = -1
}

// push parks conn at the top of the idle stack. conn must already hold a
// registered slot (via register).
func (s *idleStack) push(conn IdleConn) {
	idx := *conn.idleSlot()
	entry := s.entries[idx]

	entry.owner.Store(&conn)
	atomic.AddUint32(&entry.pushCount, 1)

	for {
		old := s.head.Load()
		oldIndex, _ := unpackHead(old)
		entry.next = oldIndex

		newWord := packHead(uint32(idx), atomic.LoadUint32(&entry.pushCount))
		if s.head.CompareAndSwap(old, newWord) {
			return
		}
	}
}

// pop removes and returns the most-recently pushed connection, or ok=false
// if the stack is empty. The returned owner reference is cleared from the
// entry before pop returns, so nothing still roots the connection through
// the stack once it has been handed back to a caller.
func (s *idleStack) pop() (conn IdleConn, ok bool) {
	for {
		old := s.head.Load()
		index, _ := unpackHead(old)
		if index == idleSentinel {
			return nil, false
		}

		entry := s.entries[index]
		nextIndex := entry.next

		nextPushCount := uint32(0)
		if nextIndex != idleSentinel {
			nextPushCount = atomic.LoadUint32(&s.entries[nextIndex].pushCount)
		}

		newWord := packHead(nextIndex, nextPushCount)
		if s.head.CompareAndSwap(old, newWord) {
			ownerPtr := entry.owner.Load()
			entry.owner.Store(nil)
			if ownerPtr == nil {
				return nil, false
			}
			return *ownerPtr, true
		}
		// lost the race (another popper, or a push recycled this entry
		// with a bumped push_count) — old no longer matches, retry.
	}
}
