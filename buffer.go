package h2mux

import "github.com/valyala/bytebufferpool"

// outgoingBuffer is the writer loop's growable byte arena (§4.B). It is a
// thin adapter over bytebufferpool.ByteBuffer, which already gives pooled
// grow-on-demand storage; this type adds head/tail bookkeeping on top
// (bytebufferpool's own buffer only ever grows from the end and resets to
// empty, it has no notion of "already-flushed" vs "pending").
//
// Never touched outside the writer loop goroutine (§5).
type outgoingBuffer struct {
	bb   *bytebufferpool.ByteBuffer
	head int // bytes already flushed to the transport
}

func newOutgoingBuffer() *outgoingBuffer {
	return &outgoingBuffer{bb: bytebufferpool.Get()}
}

// ensureAvailable grows the backing array so at least n more bytes can be
// appended without reallocating mid-serialize. bytebufferpool.ByteBuffer's
// Write already grows on demand, so this only pre-reserves capacity to
// avoid repeated growth while serializing a large header block.
func (o *outgoingBuffer) ensureAvailable(n int) {
	o.acquireIfNeeded()
	if cap(o.bb.B)-len(o.bb.B) >= n {
		return
	}
	grown := make([]byte, len(o.bb.B), len(o.bb.B)+n)
	copy(grown, o.bb.B)
	o.bb.B = grown
}

// Write appends b to the tail of the buffer (the "commit" step happens
// implicitly: anything written is immediately part of the pending span).
func (o *outgoingBuffer) Write(b []byte) (int, error) {
	return o.bb.Write(b)
}

// pending returns the written but not yet flushed span.
func (o *outgoingBuffer) pending() []byte {
	return o.bb.B[o.head:]
}

// pendingLen reports how many unflushed bytes are currently buffered.
func (o *outgoingBuffer) pendingLen() int {
	return len(o.bb.B) - o.head
}

// discard advances head past n already-transmitted bytes. When the buffer
// is fully drained it resets to empty so the next ensureAvailable starts
// from zero rather than growing on top of stale head/tail offsets.
func (o *outgoingBuffer) discard(n int) {
	o.head += n
	if o.head >= len(o.bb.B) {
		o.bb.Reset()
		o.head = 0
	}
}

// clearAndReturn returns the backing storage to the pool. Contract: the
// outgoingBuffer behaves as empty/unallocated afterwards until the next
// ensureAvailable call re-acquires a buffer (§4.B).
func (o *outgoingBuffer) clearAndReturn() {
	if o.bb == nil {
		return
	}
	bytebufferpool.Put(o.bb)
	o.bb = nil
	o.head = 0
}

// acquireIfNeeded re-rents a pooled buffer if clearAndReturn was called
// since. The writer loop calls this at the top of every wakeup (§4.E step 1).
func (o *outgoingBuffer) acquireIfNeeded() {
	if o.bb == nil {
		o.bb = bytebufferpool.Get()
	}
}
