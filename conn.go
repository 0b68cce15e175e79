package h2mux

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Connection is one multiplexed HTTP/2 connection to a single origin: the
// reader loop, writer loop, stream registry, and flow-control/keep-alive
// state it takes to drive many concurrent streams over one socket (§2, §3).
type Connection struct {
	netConn net.Conn
	cfg     *Config
	log     logger

	localSettings Settings
	peerSettings  Settings

	hpack      *hpackCodec
	connWindow *creditManager // our send-side connection window, replenished by peer WINDOW_UPDATE(stream 0)
	registry   *streamRegistry
	writer     *writerLoop
	reader     *readerLoop
	keepalive  *keepaliveManager

	// reader-loop-only state: HEADERS/CONTINUATION reassembly.
	awaitingContinuation   bool
	pendingHeaderStream    *Stream
	pendingHeaderEndStream bool

	idleSlotIdx int32 // idleStack bookkeeping (component I), -1 when not parked

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  atomic.Pointer[error]
}

// Dial opens a TCP (optionally TLS) connection to addr, completes the
// connection preface and initial SETTINGS exchange, and starts the reader
// and writer loops. tlsConfig may be nil for plaintext prior-knowledge
// HTTP/2.
func Dial(ctx context.Context, network, addr string, tlsConfig *tls.Config, opts ...Option) (*Connection, error) {
	cfg := newConfig(opts...)

	var d net.Dialer
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, wrapIOError(err)
	}

	netConn := raw
	if tlsConfig != nil {
		tc := tlsConfig.Clone()
		if len(tc.NextProtos) == 0 {
			tc.NextProtos = []string{"h2"}
		}
		tlsConn := tls.Client(raw, tc)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, wrapIOError(err)
		}
		netConn = tlsConn
	}

	conn, err := newConnection(netConn, cfg)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return conn, nil
}

func newConnection(netConn net.Conn, cfg *Config) (*Connection, error) {
	c := &Connection{
		netConn:       netConn,
		cfg:           cfg,
		localSettings: DefaultSettings(),
		peerSettings:  DefaultSettings(),
		registry:      newStreamRegistry(),
		connWindow:    newCreditManager(defaultInitialWindowSize),
		idleSlotIdx:   -1,
		closed:        make(chan struct{}),
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	} else {
		c.log = newDefaultLogger()
	}
	if cfg.InitialStreamWindowSize != 0 {
		c.localSettings.InitialWindowSize = cfg.InitialStreamWindowSize
	}
	if cfg.MaxResponseHeadersBytes != 0 {
		c.localSettings.MaxHeaderListSize = cfg.MaxResponseHeadersBytes
	}
	c.hpack = newHPACKCodec()

	if err := WritePreface(netConn); err != nil {
		return nil, wrapIOError(err)
	}
	settingsPayload := EncodeSettingsPayload(nil, c.localSettings)
	var hdrBuf [FrameHeaderLen]byte
	_ = EncodeFrameHeader(hdrBuf[:], FrameHeader{Length: uint32(len(settingsPayload)), Type: FrameSettings})
	if _, err := netConn.Write(hdrBuf[:]); err != nil {
		return nil, wrapIOError(err)
	}
	if _, err := netConn.Write(settingsPayload); err != nil {
		return nil, wrapIOError(err)
	}

	c.writer = newWriterLoop(c, netConn)
	c.reader = newReaderLoop(c, netConn)
	c.keepalive = newKeepaliveManager(c, cfg.KeepAlivePingDelay, cfg.KeepAlivePingTimeout, cfg.KeepAlivePolicy)

	go c.writer.run()
	go c.reader.run()
	c.keepalive.start()

	return c, nil
}

// idleSlot implements IdleConn for idlestack.go.
func (c *Connection) idleSlot() *int32 { return &c.idleSlotIdx }

// OpenStream reserves a stream slot, waiting if the peer's
// MAX_CONCURRENT_STREAMS is currently exhausted, and returns a Stream ready
// to send a request on.
func (c *Connection) OpenStream(ctx context.Context, cb StreamCallbacks) (*Stream, error) {
	for {
		s, ok := c.registry.tryReserveStream(cb, c.peerSettings.InitialWindowSize, c)
		if ok {
			return s, nil
		}
		if err := c.checkAlive(); err != nil {
			return nil, err
		}
		if err := c.registry.waitForAvailableStreams(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Connection) checkAlive() error {
	select {
	case <-c.closed:
		if err := c.closeErr.Load(); err != nil {
			return *err
		}
		return ErrConnClosed
	default:
		return nil
	}
}

// adjustAllStreamWindows applies a SETTINGS-driven InitialWindowSize delta
// to every currently open stream's send-window credit manager (§4.F / §4.C).
func (c *Connection) adjustAllStreamWindows(delta int32) {
	c.registry.mu.Lock()
	streams := make([]*Stream, 0, len(c.registry.streams))
	for _, s := range c.registry.streams {
		streams = append(streams, s)
	}
	c.registry.mu.Unlock()

	for _, s := range streams {
		s.sendWindow.adjustCredit(delta)
	}
}

// Shutdown begins a graceful GOAWAY drain: no new streams are accepted, but
// already-open streams are allowed to finish.
func (c *Connection) Shutdown() error {
	c.registry.beginDrain()
	lastID := c.registry.nextStreamID - 2
	return c.writer.sendGoAway(lastID, ErrCodeNo, nil)
}

// abort tears the connection down immediately: every stream is reset with
// err, the writer/reader loops are stopped, and the transport is closed.
// Safe to call more than once and from any goroutine (reader, writer,
// keep-alive timer).
func (c *Connection) abort(err error) {
	c.closeOnce.Do(func() {
		c.closeErr.Store(&err)
		close(c.closed)
		c.registry.abort(err)
		c.keepalive.stop()
		c.writer.signalClose()
		c.netConn.Close()
		if err != nil && Cause(err) != ErrConnClosed {
			c.log.Warnf("h2mux: connection aborted: %v", err)
		}
	})
}

// Dispose closes the connection without a GOAWAY handshake, for use when
// evicting a connection from an idle pool rather than in response to a
// protocol event.
func (c *Connection) Dispose() {
	c.abort(ErrConnClosed)
}

// Done returns a channel closed once the connection has been aborted.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Err returns the terminal error once Done is closed, or nil before that.
func (c *Connection) Err() error {
	if p := c.closeErr.Load(); p != nil {
		return *p
	}
	return nil
}

// RTT reports the most recent and minimum observed keep-alive round trip
// times (§4.H).
func (c *Connection) RTT() (last, min time.Duration) {
	return c.keepalive.RTT()
}
