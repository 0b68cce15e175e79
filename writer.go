package h2mux

import (
	"encoding/binary"
	"net"
)

// writeKind distinguishes the kinds of per-stream writeJob the writer loop
// accepts on its jobs channel (§4.E). Control frames arrive on a separate
// channel as controlFrame values; no job carries writeKindControl.
type writeKind int

const (
	writeKindHeaders writeKind = iota
	writeKindData
	writeKindFlush
	writeKindControl
)

// unflushedOutgoingBufferSize is the threshold (§4.E) past which the writer
// loop flushes to the transport even if more jobs are queued, so a large
// backlog of small control frames never delays the whole connection behind
// one giant in-memory buffer.
const unflushedOutgoingBufferSize = 32 * 1024

// controlFrame is a fire-and-forget write (SETTINGS ack, PING, WINDOW_UPDATE,
// RST_STREAM, GOAWAY) that does not go through the per-stream writeJob
// cancellation protocol — once submitted it is always written.
type controlFrame struct {
	encode func(buf *outgoingBuffer)
}

// writerLoop is the single goroutine that owns the outgoing byte arena and
// the transport's write side (§4.E, component E). All HEADERS/CONTINUATION
// and DATA frames for every stream are serialized by this one goroutine, so
// interleaving between streams never splits a HEADERS/CONTINUATION run.
type writerLoop struct {
	conn    *Connection
	netConn net.Conn

	jobs    chan *writeJob
	control chan *controlFrame
	closeCh chan struct{}
	done    chan struct{}

	buf *outgoingBuffer
}

func newWriterLoop(conn *Connection, netConn net.Conn) *writerLoop {
	return &writerLoop{
		conn:    conn,
		netConn: netConn,
		jobs:    make(chan *writeJob, 256),
		control: make(chan *controlFrame, 256),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		buf:     newOutgoingBuffer(),
	}
}

// enqueue hands a per-stream job to the writer loop. Returns ErrConnClosed
// if the loop has already shut down.
func (w *writerLoop) enqueue(job *writeJob) error {
	select {
	case w.jobs <- job:
		return nil
	case <-w.closeCh:
		return ErrConnClosed
	}
}

func (w *writerLoop) enqueueControl(cf *controlFrame) error {
	select {
	case w.control <- cf:
		return nil
	case <-w.closeCh:
		return ErrConnClosed
	}
}

// signalClose asks the writer loop to flush and exit, without waiting for
// it to finish — safe to call from the writer loop's own goroutine (e.g. a
// flush failure aborting the connection) as well as from anywhere else.
func (w *writerLoop) signalClose() {
	select {
	case <-w.closeCh:
	default:
		close(w.closeCh)
	}
}

// stop asks the writer loop to flush and exit and blocks until it has.
// Must never be called from the writer loop's own goroutine.
func (w *writerLoop) stop() {
	w.signalClose()
	<-w.done
}

func (w *writerLoop) run() {
	defer close(w.done)
	defer w.buf.clearAndReturn()

	for {
		w.buf.acquireIfNeeded()

		select {
		case job := <-w.jobs:
			w.handleJob(job)
		case cf := <-w.control:
			cf.encode(w.buf)
		case <-w.closeCh:
			w.flush()
			return
		}

		w.drainMore()

		if w.buf.pendingLen() > 0 {
			if err := w.flush(); err != nil {
				w.conn.abort(wrapIOError(err))
				return
			}
		}
	}
}

// drainMore opportunistically processes more queued work without blocking,
// so a burst of small frames coalesces into one flush instead of one
// syscall per frame, up to unflushedOutgoingBufferSize.
func (w *writerLoop) drainMore() {
	for w.buf.pendingLen() < unflushedOutgoingBufferSize {
		select {
		case job := <-w.jobs:
			w.handleJob(job)
			continue
		case cf := <-w.control:
			cf.encode(w.buf)
			continue
		default:
		}
		return
	}
}

func (w *writerLoop) handleJob(job *writeJob) {
	if !job.tryDisableCancellation() {
		return
	}

	var err error
	switch job.kind {
	case writeKindHeaders:
		err = w.writeHeaders(job)
	case writeKindData:
		err = w.writeData(job)
	case writeKindFlush:
		err = w.flush()
	}
	job.result <- err
}

func (w *writerLoop) writeHeaders(job *writeJob) error {
	var encoded []byte
	var size uint32
	for _, f := range job.fields {
		var err error
		encoded, size, err = w.conn.hpack.Encode(encoded, f, size)
		if err != nil {
			return err
		}
	}

	flags := FrameFlags(0)
	if job.endStream {
		flags = flags.Add(FlagEndStream)
	}

	return w.writeHeaderBlock(job.stream.id, encoded, flags)
}

// writeHeaderBlock splits encoded across a HEADERS frame followed by as many
// CONTINUATION frames as needed, each capped at MaxFramePayload, and writes
// them contiguously into the outgoing buffer — guaranteed uninterleaved
// because only this goroutine ever appends to the buffer.
func (w *writerLoop) writeHeaderBlock(streamID uint32, encoded []byte, flags FrameFlags) error {
	first := true
	for {
		n := len(encoded)
		if n > MaxFramePayload {
			n = MaxFramePayload
		}
		chunk := encoded[:n]
		encoded = encoded[n:]

		hdrFlags := flags
		typ := FrameContinuation
		if first {
			typ = FrameHeaders
			if len(encoded) == 0 {
				hdrFlags = hdrFlags.Add(FlagEndHeaders)
			}
		} else if len(encoded) == 0 {
			hdrFlags = FlagEndHeaders
		} else {
			hdrFlags = 0
		}

		hdr := FrameHeader{Length: uint32(len(chunk)), Type: typ, Flags: hdrFlags, StreamID: streamID}
		if err := w.appendFrame(hdr, chunk); err != nil {
			return err
		}

		first = false
		if len(encoded) == 0 {
			return nil
		}
	}
}

func (w *writerLoop) writeData(job *writeJob) error {
	flags := FrameFlags(0)
	if job.endStream {
		flags = flags.Add(FlagEndStream)
	}
	hdr := FrameHeader{Length: uint32(len(job.data)), Type: FrameData, Flags: flags, StreamID: job.stream.id}
	return w.appendFrame(hdr, job.data)
}

func (w *writerLoop) appendFrame(hdr FrameHeader, payload []byte) error {
	w.buf.ensureAvailable(FrameHeaderLen + len(payload))
	var hdrBuf [FrameHeaderLen]byte
	if err := EncodeFrameHeader(hdrBuf[:], hdr); err != nil {
		return err
	}
	if _, err := w.buf.Write(hdrBuf[:]); err != nil {
		return err
	}
	_, err := w.buf.Write(payload)
	return err
}

func (w *writerLoop) flush() error {
	pending := w.buf.pending()
	if len(pending) == 0 {
		return nil
	}
	n, err := w.netConn.Write(pending)
	w.buf.discard(n)
	if err != nil {
		return wrapIOError(err)
	}
	return nil
}

// --- control-frame helpers used by the reader loop and keep-alive manager ---

func (w *writerLoop) sendWindowUpdate(streamID, increment uint32) error {
	return w.enqueueControl(&controlFrame{encode: func(buf *outgoingBuffer) {
		var payload [4]byte
		binary.BigEndian.PutUint32(payload[:], increment&0x7fffffff)
		hdr := FrameHeader{Length: 4, Type: FrameWindowUpdate, StreamID: streamID}
		writeControlFrame(buf, hdr, payload[:])
	}})
}

func (w *writerLoop) sendPing(data [8]byte, ack bool) error {
	return w.enqueueControl(&controlFrame{encode: func(buf *outgoingBuffer) {
		flags := FrameFlags(0)
		if ack {
			flags = flags.Add(FlagAck)
		}
		hdr := FrameHeader{Length: 8, Type: FramePing, Flags: flags}
		writeControlFrame(buf, hdr, data[:])
	}})
}

func (w *writerLoop) sendRSTStream(streamID uint32, code ErrorCode) error {
	return w.enqueueControl(&controlFrame{encode: func(buf *outgoingBuffer) {
		var payload [4]byte
		binary.BigEndian.PutUint32(payload[:], uint32(code))
		hdr := FrameHeader{Length: 4, Type: FrameRSTStream, StreamID: streamID}
		writeControlFrame(buf, hdr, payload[:])
	}})
}

func (w *writerLoop) sendGoAway(lastStreamID uint32, code ErrorCode, debug []byte) error {
	return w.enqueueControl(&controlFrame{encode: func(buf *outgoingBuffer) {
		payload := make([]byte, 8+len(debug))
		binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7fffffff)
		binary.BigEndian.PutUint32(payload[4:8], uint32(code))
		copy(payload[8:], debug)
		hdr := FrameHeader{Length: uint32(len(payload)), Type: FrameGoAway}
		writeControlFrame(buf, hdr, payload)
	}})
}

func (w *writerLoop) sendSettings(s Settings) error {
	return w.enqueueControl(&controlFrame{encode: func(buf *outgoingBuffer) {
		payload := EncodeSettingsPayload(nil, s)
		hdr := FrameHeader{Length: uint32(len(payload)), Type: FrameSettings}
		writeControlFrame(buf, hdr, payload)
	}})
}

func (w *writerLoop) sendSettingsAck() error {
	return w.enqueueControl(&controlFrame{encode: func(buf *outgoingBuffer) {
		hdr := FrameHeader{Type: FrameSettings, Flags: FlagAck}
		writeControlFrame(buf, hdr, nil)
	}})
}

func writeControlFrame(buf *outgoingBuffer, hdr FrameHeader, payload []byte) {
	buf.ensureAvailable(FrameHeaderLen + len(payload))
	var hdrBuf [FrameHeaderLen]byte
	_ = EncodeFrameHeader(hdrBuf[:], hdr)
	_, _ = buf.Write(hdrBuf[:])
	_, _ = buf.Write(payload)
}
