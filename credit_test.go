package h2mux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestCreditFastPath(t *testing.T) {
	c := newCreditManager(100)
	n, err := c.requestCredit(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, int32(50), n)
	require.EqualValues(t, 50, c.currentWindow())
}

func TestRequestCreditClampsToMaxFramePayload(t *testing.T) {
	c := newCreditManager(1 << 20)
	n, err := c.requestCredit(context.Background(), 1<<20)
	require.NoError(t, err)
	require.Equal(t, int32(MaxFramePayload), n)
}

func TestRequestCreditParksThenWakesOnAdjust(t *testing.T) {
	c := newCreditManager(0)
	done := make(chan int32, 1)
	go func() {
		n, err := c.requestCredit(context.Background(), 10)
		require.NoError(t, err)
		done <- n
	}()

	time.Sleep(10 * time.Millisecond) // let the waiter park
	c.adjustCredit(5)

	select {
	case n := <-done:
		require.Equal(t, int32(5), n)
	case <-time.After(time.Second):
		t.Fatal("requestCredit never woke up")
	}
}

func TestRequestCreditCancelledContext(t *testing.T) {
	c := newCreditManager(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.requestCredit(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, c.waiters)
}

func TestRequestCreditNegativeWindowStaysParked(t *testing.T) {
	c := newCreditManager(10)
	c.adjustCredit(-20) // SETTINGS-driven decrease pushes window negative
	require.Equal(t, int64(-10), c.currentWindow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.requestCredit(ctx, 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
