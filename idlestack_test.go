package h2mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeIdleConn struct {
	name string
	slot int32
}

func (f *fakeIdleConn) idleSlot() *int32 { return &f.slot }

func TestIdleStackPushPopLIFOOrder(t *testing.T) {
	s := newIdleStack()
	a := &fakeIdleConn{name: "a", slot: -1}
	b := &fakeIdleConn{name: "b", slot: -1}
	c := &fakeIdleConn{name: "c", slot: -1}

	s.register(a)
	s.register(b)
	s.register(c)

	s.push(a)
	s.push(b)
	s.push(c)

	first, ok := s.pop()
	require.True(t, ok)
	require.Equal(t, "c", first.(*fakeIdleConn).name)

	second, ok := s.pop()
	require.True(t, ok)
	require.Equal(t, "b", second.(*fakeIdleConn).name)

	third, ok := s.pop()
	require.True(t, ok)
	require.Equal(t, "a", third.(*fakeIdleConn).name)

	_, ok = s.pop()
	require.False(t, ok)
}

func TestIdleStackPopEmpty(t *testing.T) {
	s := newIdleStack()
	_, ok := s.pop()
	require.False(t, ok)
}

func TestIdleStackReuseAfterPop(t *testing.T) {
	s := newIdleStack()
	a := &fakeIdleConn{name: "a", slot: -1}
	s.register(a)

	s.push(a)
	_, ok := s.pop()
	require.True(t, ok)

	// push the same entry again (e.g. connection returned to the pool a
	// second time): the generation counter must have advanced so a racing
	// popper from the first push can never be mistaken for this one.
	s.push(a)
	got, ok := s.pop()
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestIdleStackGrowsSlotArray(t *testing.T) {
	s := newIdleStack()
	conns := make([]*fakeIdleConn, 10)
	for i := range conns {
		conns[i] = &fakeIdleConn{slot: -1}
		s.register(conns[i])
	}
	require.Len(t, s.entries, 16) // grows 0->4->8->16 to fit 10 registrations

	seen := map[int32]bool{}
	for _, c := range conns {
		require.False(t, seen[c.slot], "duplicate slot assigned")
		seen[c.slot] = true
	}
}
