package h2mux

import (
	"context"
	"sync/atomic"
)

// StreamState is a stream's position in the RFC 7540 §5.1 state machine, as
// observed by this client (it never sees the server-only states).
type StreamState int32

const (
	StreamReserved StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamReserved:
		return "reserved"
	case StreamOpen:
		return "open"
	case StreamHalfClosedLocal:
		return "half-closed(local)"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamCallbacks is implemented by the request layer (kept external to
// this package) to receive decoded response state for one stream. All
// methods may be called from the reader-loop goroutine and must not block
// or re-enter the core.
type StreamCallbacks interface {
	// OnResponseHeaders delivers a decoded HEADERS (or trailer) block.
	// informational reports whether this was a 1xx interim response.
	OnResponseHeaders(fields []HeaderField, endStream, informational bool)
	// OnResponseData delivers a chunk of DATA payload.
	OnResponseData(p []byte, endStream bool)
	// OnStreamError reports terminal stream failure (reset, GOAWAY drain,
	// or connection abort reaching this stream).
	OnStreamError(err error)
}

// streamFlags packs the small set of boolean stream attributes from §3.
type streamFlags struct {
	expectContinue  bool
	extendedConnect bool
	duplex          bool
	sendFinished    bool
}

// Stream is a single request/response exchange multiplexed over the shared
// connection (§3). Identified by an odd, strictly increasing 31-bit ID.
type Stream struct {
	id    uint32
	conn  *Connection
	cb    StreamCallbacks
	flags streamFlags

	sendWindow *creditManager
	coord      *writeCoordinator

	state    atomic.Int32 // StreamState
	resetErr atomic.Pointer[error]
}

func newStream(id uint32, conn *Connection, cb StreamCallbacks, initialSendWindow uint32) *Stream {
	s := &Stream{
		id:         id,
		conn:       conn,
		cb:         cb,
		sendWindow: newCreditManager(initialSendWindow),
	}
	s.state.Store(int32(StreamReserved))
	s.coord = newWriteCoordinator(s)
	return s
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState { return StreamState(s.state.Load()) }

func (s *Stream) setState(state StreamState) { s.state.Store(int32(state)) }

// markSendFinished records that END_STREAM has been scheduled on this
// stream, moving it to half-closed(local) unless already further along.
func (s *Stream) markSendFinished() {
	s.flags.sendFinished = true
	if s.State() == StreamOpen || s.State() == StreamReserved {
		s.setState(StreamHalfClosedLocal)
	}
}

// onReset records a terminal stream-scoped error and notifies callbacks.
// Must never be called while the registry lock is held (§4.G) because the
// callback may re-enter the registry (e.g. to release the stream slot).
func (s *Stream) onReset(err error) {
	s.resetErr.Store(&err)
	s.setState(StreamClosed)
	s.coord.abort(err)
	if s.cb != nil {
		s.cb.OnStreamError(err)
	}
}

// WriteHeaders encodes and sends fields as this stream's request headers.
func (s *Stream) WriteHeaders(ctx context.Context, fields []HeaderField, endStream bool) error {
	return s.coord.SendHeaders(ctx, fields, endStream)
}

// WriteData sends body on this stream, flow-controlled a chunk at a time.
func (s *Stream) WriteData(ctx context.Context, body []byte, endStream bool) error {
	return s.coord.SendData(ctx, body, endStream)
}

// Flush forces any buffered frames for this stream's connection out to the
// transport immediately.
func (s *Stream) Flush(ctx context.Context) error {
	return s.coord.Flush(ctx)
}

// Cancel resets the stream locally, sending RST_STREAM with CANCEL and
// releasing its registry slot.
func (s *Stream) Cancel() {
	if s.State() == StreamClosed {
		return
	}
	s.onReset(newStreamError(s.id, ErrCodeCancel))
	_ = s.conn.writer.sendRSTStream(s.id, ErrCodeCancel)
	s.conn.registry.releaseStream(s.id)
}

// ResetErr returns the stream's terminal error, if any.
func (s *Stream) ResetErr() error {
	p := s.resetErr.Load()
	if p == nil {
		return nil
	}
	return *p
}
