package h2mux

import (
	"bufio"
	"io"
)

// readerLoop is the single goroutine that owns the transport's read side
// and dispatches decoded frames to the registry/streams (§4.F, component
// F). It performs the initial SETTINGS handshake before entering its main
// dispatch loop.
type readerLoop struct {
	conn *Connection
	br   *bufio.Reader

	// connWindowDebt accumulates bytes of DATA payload received on the
	// connection level that have not yet been returned via WINDOW_UPDATE.
	// Flushed once it crosses 1/connectionWindowDampingDivisor of the
	// connection window (§4.F) so a stream of
	// tiny DATA frames doesn't generate a WINDOW_UPDATE per frame.
	connWindowDebt uint32
}

// connectionWindowDamping is the fraction (1/8th) of the advertised
// connection window that must accumulate as debt before a WINDOW_UPDATE is
// actually sent, so a stream of tiny DATA frames doesn't generate a
// WINDOW_UPDATE per frame (§4.F).
const connectionWindowDampingDivisor = 8

func newReaderLoop(conn *Connection, r io.Reader) *readerLoop {
	return &readerLoop{conn: conn, br: bufio.NewReaderSize(r, 16*1024)}
}

// run performs the handshake then dispatches frames until a fatal error or
// the connection is closed. It always ends by aborting the connection.
func (rl *readerLoop) run() {
	if err := rl.handshake(); err != nil {
		rl.conn.abort(err)
		return
	}

	for {
		hdr, err := ReadFrameHeader(rl.br)
		if err != nil {
			rl.conn.abort(wrapIOError(err))
			return
		}
		if hdr.Length > MaxFramePayload {
			rl.conn.abort(newProtocolError(ErrCodeFrameSize, "frame payload length %d exceeds %d", hdr.Length, MaxFramePayload))
			return
		}
		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(rl.br, payload); err != nil {
			rl.conn.abort(wrapIOError(err))
			return
		}
		if err := rl.dispatch(hdr, payload); err != nil {
			rl.conn.abort(err)
			return
		}
	}
}

// handshake waits for the peer's first frame, which RFC 7540 §3.5 requires
// to be SETTINGS, and applies it. The connection preface and initial
// SETTINGS have already been sent by newConnection before the reader loop
// begins.
func (rl *readerLoop) handshake() error {
	hdr, err := ReadFrameHeader(rl.br)
	if err != nil {
		return wrapIOError(err)
	}
	if hdr.Type != FrameSettings || hdr.Flags.Has(FlagAck) {
		return newProtocolError(ErrCodeProtocol, "first frame from peer was %s, want SETTINGS", hdr.Type)
	}
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(rl.br, payload); err != nil {
		return wrapIOError(err)
	}
	return rl.applySettings(payload)
}

func (rl *readerLoop) dispatch(hdr FrameHeader, payload []byte) error {
	switch hdr.Type {
	case FrameData:
		return rl.onData(hdr, payload)
	case FrameHeaders:
		return rl.onHeaders(hdr, payload)
	case FrameContinuation:
		if !rl.conn.awaitingContinuation {
			return newProtocolError(ErrCodeProtocol, "unexpected stray CONTINUATION on stream %d", hdr.StreamID)
		}
		return rl.onContinuation(hdr, payload)
	case FramePriority:
		_, err := decodePriority(payload)
		return err
	case FrameRSTStream:
		return rl.onRSTStream(hdr, payload)
	case FrameSettings:
		return rl.onSettings(hdr, payload)
	case FramePushPromise:
		return newProtocolError(ErrCodeProtocol, "unsupported PUSH_PROMISE from server")
	case FramePing:
		return rl.onPing(payload, hdr.Flags.Has(FlagAck))
	case FrameGoAway:
		return rl.onGoAway(payload)
	case FrameWindowUpdate:
		return rl.onWindowUpdate(hdr, payload)
	case FrameAltSvc:
		return rl.onAltSvc(payload)
	default:
		// unknown frame types are ignored per RFC 7540 §4.1
		return nil
	}
}

func (rl *readerLoop) onData(hdr FrameHeader, payload []byte) error {
	df, err := decodeData(hdr, payload)
	if err != nil {
		return err
	}

	rl.connWindowDebt += uint32(len(payload))
	// the connection receive window stays at the RFC default size
	if rl.connWindowDebt >= defaultInitialWindowSize/connectionWindowDampingDivisor {
		debt := rl.connWindowDebt
		rl.connWindowDebt = 0
		_ = rl.conn.writer.sendWindowUpdate(0, debt)
	}

	s := rl.conn.registry.lookup(hdr.StreamID)
	if s == nil {
		return nil // stream already closed locally; data for it is discarded
	}
	if s.cb != nil {
		s.cb.OnResponseData(df.Data, df.EndStream)
	}
	if df.EndStream {
		rl.conn.registry.releaseStream(s.id)
	}
	return nil
}

func (rl *readerLoop) onHeaders(hdr FrameHeader, payload []byte) error {
	hf, err := decodeHeaders(hdr, payload)
	if err != nil {
		return err
	}

	s := rl.conn.registry.lookup(hdr.StreamID)

	if err := rl.conn.hpack.DecodeFragment(hf.HeaderBlockFragment); err != nil {
		return err
	}

	if !hf.EndHeaders {
		rl.conn.awaitingContinuation = true
		rl.conn.pendingHeaderEndStream = hf.EndStream
		rl.conn.pendingHeaderStream = s
		return nil
	}
	return rl.finishHeaders(s, hf.EndStream)
}

func (rl *readerLoop) finishHeaders(s *Stream, endStream bool) error {
	if err := rl.conn.hpack.FinishHeaderBlock(); err != nil {
		return err
	}
	fields := rl.conn.hpack.takeDecoded()
	if s == nil {
		return nil
	}

	informational := false
	for _, f := range fields {
		if f.Name == ":status" {
			if code, err := ParseStatus(f.Value); err == nil && code >= 100 && code < 200 {
				informational = true
			}
			break
		}
	}

	if s.cb != nil {
		s.cb.OnResponseHeaders(fields, endStream, informational)
	}
	if endStream {
		rl.conn.registry.releaseStream(s.id)
	}
	return nil
}

func (rl *readerLoop) onContinuation(hdr FrameHeader, payload []byte) error {
	cf := decodeContinuation(hdr, payload)
	if err := rl.conn.hpack.DecodeFragment(cf.HeaderBlockFragment); err != nil {
		return err
	}
	if !cf.EndHeaders {
		return nil
	}
	s := rl.conn.pendingHeaderStream
	endStream := rl.conn.pendingHeaderEndStream
	rl.conn.pendingHeaderStream = nil
	rl.conn.awaitingContinuation = false
	return rl.finishHeaders(s, endStream)
}

func (rl *readerLoop) onRSTStream(hdr FrameHeader, payload []byte) error {
	rf, err := decodeRSTStream(payload)
	if err != nil {
		return err
	}
	s := rl.conn.registry.lookup(hdr.StreamID)
	rl.conn.registry.releaseStream(hdr.StreamID)
	if s != nil {
		s.onReset(newStreamError(hdr.StreamID, rf.Code))
	}
	return nil
}

func (rl *readerLoop) onSettings(hdr FrameHeader, payload []byte) error {
	if hdr.Flags.Has(FlagAck) {
		return nil
	}
	if err := rl.applySettings(payload); err != nil {
		return err
	}
	return rl.conn.writer.sendSettingsAck()
}

func (rl *readerLoop) applySettings(payload []byte) error {
	windowDelta, connectDisabled, err := applySettingsPayload(&rl.conn.peerSettings, payload)
	if err != nil {
		return err
	}
	if connectDisabled {
		return newProtocolError(ErrCodeProtocol, "peer disabled extended CONNECT after enabling it")
	}
	if rl.conn.peerSettings.hasMaxConcurrentStreams {
		rl.conn.registry.setMaxConcurrentStreams(rl.conn.peerSettings.MaxConcurrentStreams)
	}
	rl.conn.hpack.SetMaxHeaderListSize(rl.conn.peerSettings.MaxHeaderListSize)
	if windowDelta != 0 {
		rl.conn.adjustAllStreamWindows(windowDelta)
	}
	return nil
}

func (rl *readerLoop) onPing(payload []byte, ack bool) error {
	pf, err := decodePing(payload, ack)
	if err != nil {
		return err
	}
	if ack {
		rl.conn.keepalive.onPingAck(pf.Data)
		return nil
	}
	return rl.conn.writer.sendPing(pf.Data, true)
}

func (rl *readerLoop) onGoAway(payload []byte) error {
	gf, err := decodeGoAway(payload)
	if err != nil {
		return err
	}
	rl.conn.registry.goAwayDrain(gf.LastStreamID, gf.Code)
	return nil
}

func (rl *readerLoop) onWindowUpdate(hdr FrameHeader, payload []byte) error {
	wf, err := decodeWindowUpdate(payload)
	if err != nil {
		return err
	}
	if wf.Increment == 0 {
		return newProtocolError(ErrCodeProtocol, "zero-length WINDOW_UPDATE increment")
	}
	if hdr.StreamID == 0 {
		rl.conn.connWindow.adjustCredit(int32(wf.Increment))
		return nil
	}
	if s := rl.conn.registry.lookup(hdr.StreamID); s != nil {
		s.sendWindow.adjustCredit(int32(wf.Increment))
	}
	return nil
}

func (rl *readerLoop) onAltSvc(payload []byte) error {
	af, err := decodeAltSvc(payload)
	if err != nil {
		return err
	}
	if rl.conn.cfg.OnAltSvc != nil {
		rl.conn.cfg.OnAltSvc(string(af.Origin), string(af.Value))
	}
	return nil
}
