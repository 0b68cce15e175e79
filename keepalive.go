package h2mux

import (
	"sync"
	"time"

	"github.com/valyala/fastrand"
)

// KeepAlivePolicy controls when the keep-alive manager is allowed to send
// pings (§4.H).
type KeepAlivePolicy int

const (
	// KeepAliveAlways sends pings on the configured interval regardless of
	// whether any stream is open.
	KeepAliveAlways KeepAlivePolicy = iota
	// KeepAliveWithActiveRequests only sends pings while at least one
	// stream is open, leaving a fully idle connection silent.
	KeepAliveWithActiveRequests
)

type keepaliveState int32

const (
	keepaliveNone keepaliveState = iota
	keepalivePingSent
)

// keepaliveManager owns the RTT estimate and the keep-alive ping state
// machine (§4.H, component H). A PING's 8-byte payload carries a monotonic
// sequence number (low 48 bits, bytes 0-5) plus two bytes of jitter, so a
// late or mismatched ACK is ignored rather than blindly trusted; the send
// time itself is kept locally in sentAt.
type keepaliveManager struct {
	conn   *Connection
	policy KeepAlivePolicy
	delay  time.Duration
	timeout time.Duration

	mu        sync.Mutex
	state     keepaliveState
	seq       uint64
	sentAt    time.Time
	lastRTT   time.Duration
	minRTT    time.Duration
	timer     *time.Timer
	stopped   bool
}

func newKeepaliveManager(conn *Connection, delay, timeout time.Duration, policy KeepAlivePolicy) *keepaliveManager {
	return &keepaliveManager{conn: conn, delay: delay, timeout: timeout, policy: policy}
}

// start arms the first keep-alive timer. No-op if delay is zero (disabled).
func (k *keepaliveManager) start() {
	if k.delay <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.timer = time.AfterFunc(k.delay, k.onTimer)
}

func (k *keepaliveManager) stop() {
	k.mu.Lock()
	k.stopped = true
	t := k.timer
	k.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (k *keepaliveManager) onTimer() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}

	switch k.state {
	case keepaliveNone:
		if k.policy == KeepAliveWithActiveRequests && k.conn.registry.liveCount() == 0 {
			k.timer = time.AfterFunc(k.delay, k.onTimer)
			k.mu.Unlock()
			return
		}
		k.seq++
		seq := k.seq
		k.state = keepalivePingSent
		k.sentAt = time.Now()
		k.timer = time.AfterFunc(k.timeout, k.onTimer)
		k.mu.Unlock()

		var payload [8]byte
		encodePingSeq(payload[:], seq, fastrand.Uint32n(1<<16))
		_ = k.conn.writer.sendPing(payload, false)
		return

	case keepalivePingSent:
		// timeout elapsed with no ACK: connection is presumed dead.
		k.mu.Unlock()
		k.conn.abort(ErrKeepAliveTimeout)
		return
	}
	k.mu.Unlock()
}

// onPingAck processes a PING ACK, completing the RTT sample if it matches
// the currently outstanding ping and re-arming the next keep-alive delay.
func (k *keepaliveManager) onPingAck(data [8]byte) {
	seq, _ := decodePingSeq(data[:])

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != keepalivePingSent || seq != k.seq {
		return
	}
	rtt := time.Since(k.sentAt)
	k.lastRTT = rtt
	if k.minRTT == 0 || rtt < k.minRTT {
		k.minRTT = rtt
	}
	k.state = keepaliveNone
	if k.timer != nil {
		k.timer.Stop()
	}
	if !k.stopped {
		k.timer = time.AfterFunc(k.delay, k.onTimer)
	}
}

func (k *keepaliveManager) RTT() (last, min time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastRTT, k.minRTT
}

func encodePingSeq(dst []byte, seq uint64, pad uint32) {
	dst[0] = byte(seq >> 40)
	dst[1] = byte(seq >> 32)
	dst[2] = byte(seq >> 24)
	dst[3] = byte(seq >> 16)
	dst[4] = byte(seq >> 8)
	dst[5] = byte(seq)
	dst[6] = byte(pad >> 8)
	dst[7] = byte(pad)
}

func decodePingSeq(b []byte) (seq uint64, pad uint16) {
	seq = uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 | uint64(b[3])<<16 |
		uint64(b[4])<<8 | uint64(b[5])
	pad = uint16(b[6])<<8 | uint16(b[7])
	return seq, pad
}
