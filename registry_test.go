package h2mux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryReserveStreamAssignsOddIncreasingIDs(t *testing.T) {
	r := newStreamRegistry()

	s1, ok := r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.True(t, ok)
	require.Equal(t, uint32(1), s1.ID())

	s2, ok := r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.True(t, ok)
	require.Equal(t, uint32(3), s2.ID())
}

func TestTryReserveStreamRespectsConcurrencyLimit(t *testing.T) {
	r := newStreamRegistry()
	r.setMaxConcurrentStreams(1)

	_, ok := r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.True(t, ok)

	_, ok = r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.False(t, ok)
}

func TestWaitForAvailableStreamsWakesOnRelease(t *testing.T) {
	r := newStreamRegistry()
	r.setMaxConcurrentStreams(1)

	s1, ok := r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.True(t, ok)

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- r.waitForAvailableStreams(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	r.releaseStream(s1.ID())

	select {
	case err := <-waitDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waitForAvailableStreams never woke up")
	}
}

func TestRegistryAbortResetsAllLiveStreams(t *testing.T) {
	r := newStreamRegistry()
	rec := &recordingCallbacks{}
	s, ok := r.tryReserveStream(rec, defaultInitialWindowSize, nil)
	require.True(t, ok)

	r.abort(ErrConnClosed)

	require.Equal(t, StreamClosed, s.State())
	require.ErrorIs(t, s.ResetErr(), ErrConnClosed)
	require.Equal(t, 0, r.liveCount())

	_, ok = r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.False(t, ok, "registry must refuse new streams after abort")
}

func TestRegistryGoAwayDrainOnlyResetsHigherStreams(t *testing.T) {
	r := newStreamRegistry()
	low, ok := r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.True(t, ok)
	high, ok := r.tryReserveStream(nil, defaultInitialWindowSize, nil)
	require.True(t, ok)

	r.goAwayDrain(low.ID(), ErrCodeNo)

	require.Equal(t, StreamClosed, high.State())
	require.NotEqual(t, StreamClosed, low.State())
	require.Equal(t, 1, r.liveCount())
}

type recordingCallbacks struct {
	lastErr error
}

func (r *recordingCallbacks) OnResponseHeaders(fields []HeaderField, endStream, informational bool) {}
func (r *recordingCallbacks) OnResponseData(p []byte, endStream bool)                               {}
func (r *recordingCallbacks) OnStreamError(err error)                                                { r.lastErr = err }
