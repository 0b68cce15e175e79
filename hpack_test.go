package h2mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHPACKEncodeDecodeRoundTrip(t *testing.T) {
	enc := newHPACKCodec()

	var dst []byte
	var size uint32
	var err error
	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
		{Name: "x-request-id", Value: "abc123"},
	}
	for _, f := range fields {
		dst, size, err = enc.Encode(dst, f, size)
		require.NoError(t, err)
	}
	require.NotZero(t, size)

	dec := newHPACKCodec()
	require.NoError(t, dec.DecodeFragment(dst))
	require.NoError(t, dec.FinishHeaderBlock())

	got := dec.takeDecoded()
	require.Len(t, got, len(fields))
	for i, f := range fields {
		require.Equal(t, f.Name, got[i].Name)
		require.Equal(t, f.Value, got[i].Value)
	}
}

func TestHPACKEncodeRejectsOverMaxHeaderListSize(t *testing.T) {
	enc := newHPACKCodec()
	enc.SetMaxHeaderListSize(10)

	_, _, err := enc.Encode(nil, HeaderField{Name: "x-long-header-name", Value: "some-long-value"}, 0)
	require.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	code, err := ParseStatus("200")
	require.NoError(t, err)
	require.Equal(t, 200, code)

	_, err = ParseStatus("not-a-number")
	require.Error(t, err)
}
