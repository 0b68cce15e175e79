package h2mux

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestConnection wires a Connection to one end of an in-memory duplex
// pipe, the way fasthttputil.NewInmemoryListener gives tests a socket-free
// transport double, and drains the peer end into buf so the writer loop's
// output can be inspected without a real handshake.
func newTestConnection(t *testing.T) (*Connection, *bytes.Buffer, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	var buf bytes.Buffer
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		chunk := make([]byte, 4096)
		for {
			n, err := serverSide.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	conn, err := newConnection(clientSide, newConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Dispose()
		serverSide.Close()
		<-drained
	})

	return conn, &buf, serverSide
}

func TestWriteCoordinatorSendHeadersProducesHeadersFrame(t *testing.T) {
	conn, buf, _ := newTestConnection(t)
	conn.peerSettings.MaxConcurrentStreams = 10
	conn.peerSettings.hasMaxConcurrentStreams = true

	s, err := conn.OpenStream(context.Background(), nil)
	require.NoError(t, err)

	err = s.WriteHeaders(context.Background(), []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
	}, true)
	require.NoError(t, err)
	require.NoError(t, s.Flush(context.Background()))
	require.Equal(t, StreamHalfClosedLocal, s.State())

	require.Eventually(t, func() bool {
		b := buf.Bytes()
		// the preface + initial SETTINGS precede the HEADERS frame; walk the
		// frames after the preface and look for a HEADERS frame on s.
		if len(b) <= len(http2Preface) {
			return false
		}
		rest := b[len(http2Preface):]
		for len(rest) >= FrameHeaderLen {
			h := DecodeFrameHeader(rest)
			if h.Type == FrameHeaders && h.StreamID == s.ID() {
				return true
			}
			if len(rest) < FrameHeaderLen+int(h.Length) {
				return false
			}
			rest = rest[FrameHeaderLen+int(h.Length):]
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestWriteCoordinatorCancelledContextBeforeSubmit(t *testing.T) {
	conn, _, _ := newTestConnection(t)
	conn.peerSettings.MaxConcurrentStreams = 10
	conn.peerSettings.hasMaxConcurrentStreams = true

	s, err := conn.OpenStream(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.WriteHeaders(ctx, []HeaderField{{Name: ":method", Value: "GET"}}, true)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteCoordinatorDataChunksRespectStreamWindow(t *testing.T) {
	conn, _, _ := newTestConnection(t)
	conn.peerSettings.MaxConcurrentStreams = 10
	conn.peerSettings.hasMaxConcurrentStreams = true

	s, err := conn.OpenStream(context.Background(), nil)
	require.NoError(t, err)
	s.sendWindow = newCreditManager(10) // force small window to exercise chunking

	body := bytes.Repeat([]byte("x"), 25)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// simulate a couple of WINDOW_UPDATE frames arriving mid-write so the
	// chunked send has enough credit to finish within the deadline.
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.sendWindow.adjustCredit(10)
		time.Sleep(20 * time.Millisecond)
		s.sendWindow.adjustCredit(10)
	}()

	err = s.WriteData(ctx, body, true)
	require.NoError(t, err)
}
