package h2mux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{Length: 42, Type: FrameHeaders, Flags: FlagEndHeaders | FlagEndStream, StreamID: 7}

	var buf [FrameHeaderLen]byte
	require.NoError(t, EncodeFrameHeader(buf[:], h))

	got := DecodeFrameHeader(buf[:])
	require.Equal(t, h, got)
}

func TestDecodeFrameHeaderMasksReservedBit(t *testing.T) {
	var buf [FrameHeaderLen]byte
	buf[5] = 0x80 // reserved bit set
	buf[8] = 0x05

	got := DecodeFrameHeader(buf[:])
	require.Equal(t, uint32(5), got.StreamID)
}

func TestEncodeFrameHeaderRejectsOversizePayload(t *testing.T) {
	h := FrameHeader{Length: MaxFramePayload + 1, Type: FrameData}
	var buf [FrameHeaderLen]byte
	require.ErrorIs(t, EncodeFrameHeader(buf[:], h), ErrPayloadExceeds)
}

func TestEncodeFrameHeaderRejectsInvalidFlags(t *testing.T) {
	h := FrameHeader{Type: FrameData, Flags: 0x40}
	var buf [FrameHeaderLen]byte
	err := EncodeFrameHeader(buf[:], h)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestReadFrameHeaderFromReader(t *testing.T) {
	var wire [FrameHeaderLen]byte
	require.NoError(t, EncodeFrameHeader(wire[:], FrameHeader{Length: 3, Type: FramePing}))

	h, err := ReadFrameHeader(bytes.NewReader(wire[:]))
	require.NoError(t, err)
	require.Equal(t, FramePing, h.Type)
	require.Equal(t, uint32(3), h.Length)
}

func TestStripPaddingRejectsOversizePadLength(t *testing.T) {
	payload := []byte{5, 'a', 'b'} // pad length 5 exceeds remaining content
	_, err := stripPadding(payload, true)
	require.Error(t, err)
}

func TestStripPaddingNoOpWhenNotPadded(t *testing.T) {
	payload := []byte{1, 2, 3}
	out, err := stripPadding(payload, false)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDataFrameCount(t *testing.T) {
	require.Equal(t, 1, dataFrameCount(0))
	require.Equal(t, 1, dataFrameCount(100))
	require.Equal(t, 2, dataFrameCount(MaxFramePayload+1))
}

func TestFrameTypeString(t *testing.T) {
	require.Equal(t, "HEADERS", FrameHeaders.String())
	require.Contains(t, FrameType(0xff).String(), "UNKNOWN")
}
