package h2mux

import "testing"

func TestEncodeDecodePingSeqRoundTrip(t *testing.T) {
	var buf [8]byte
	encodePingSeq(buf[:], 0xabcdef, 0x1234)

	seq, _ := decodePingSeq(buf[:])
	if seq != 0xabcdef {
		t.Fatalf("seq round-trip mismatch: got %x", seq)
	}
}
