package h2mux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameHeaderLen is the fixed size of a frame header on the wire.
// https://httpwg.org/specs/rfc7540.html#FrameHeader
const FrameHeaderLen = 9

// MaxFramePayload is the largest payload this implementation will ever
// send or accept without a SETTINGS_MAX_FRAME_SIZE negotiation raising it;
// the client never negotiates the peer into raising its own send limit
// beyond the default, so 16384 is also the hard incoming bound (§3).
const MaxFramePayload = 1 << 14

// FrameType identifies the 8-bit frame type field.
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
	FrameAltSvc       FrameType = 0xa

	minFrameType = FrameData
	maxFrameType = FrameAltSvc
)

var frameTypeNames = [...]string{
	"DATA", "HEADERS", "PRIORITY", "RST_STREAM", "SETTINGS",
	"PUSH_PROMISE", "PING", "GOAWAY", "WINDOW_UPDATE", "CONTINUATION", "ALTSVC",
}

func (t FrameType) String() string {
	if int(t) < len(frameTypeNames) {
		return frameTypeNames[t]
	}
	return fmt.Sprintf("UNKNOWN(%#x)", uint8(t))
}

// FrameFlags holds the overloaded 8-bit flags field; meaning depends on
// FrameType (§4.A).
type FrameFlags uint8

const (
	FlagAck        FrameFlags = 0x1 // SETTINGS, PING
	FlagEndStream  FrameFlags = 0x1 // DATA, HEADERS
	FlagEndHeaders FrameFlags = 0x4 // HEADERS, CONTINUATION, PUSH_PROMISE
	FlagPadded     FrameFlags = 0x8 // DATA, HEADERS, PUSH_PROMISE
	FlagPriority   FrameFlags = 0x20 // HEADERS

	validFlagBits FrameFlags = FlagAck | FlagEndHeaders | FlagPadded | FlagPriority
)

func (f FrameFlags) Has(flag FrameFlags) bool { return f&flag == flag }
func (f FrameFlags) Add(flag FrameFlags) FrameFlags { return f | flag }
func (f FrameFlags) Without(flag FrameFlags) FrameFlags { return f &^ flag }

// FrameHeader is the decoded 9-byte frame header; the payload is read and
// passed separately. It carries no pool lifecycle of its own — a single
// value is cheap enough to pass by value through one read/write cycle
// without round-tripping a sync.Pool.
type FrameHeader struct {
	Length  uint32 // 24 bits on the wire
	Type    FrameType
	Flags   FrameFlags
	StreamID uint32 // 31 bits; high bit always masked off
}

// ReadFrameHeader reads and decodes exactly FrameHeaderLen bytes from r.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var raw [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return FrameHeader{}, err
	}
	return DecodeFrameHeader(raw[:]), nil
}

// DecodeFrameHeader decodes a 9-byte buffer into a FrameHeader. The
// reserved high bit of the stream identifier is always masked off per
// RFC 7540 §4.1.
func DecodeFrameHeader(b []byte) FrameHeader {
	_ = b[8] // bounds check hint
	return FrameHeader{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Type:     FrameType(b[3]),
		Flags:    FrameFlags(b[4]),
		StreamID: binary.BigEndian.Uint32(b[5:9]) & (1<<31 - 1),
	}
}

// EncodeFrameHeader validates and serializes h into a 9-byte buffer. It
// never allocates: callers supply the destination.
func EncodeFrameHeader(dst []byte, h FrameHeader) error {
	if err := validateFrameHeader(h); err != nil {
		return err
	}
	_ = dst[8]
	dst[0] = byte(h.Length >> 16)
	dst[1] = byte(h.Length >> 8)
	dst[2] = byte(h.Length)
	dst[3] = byte(h.Type)
	dst[4] = byte(h.Flags)
	binary.BigEndian.PutUint32(dst[5:9], h.StreamID&(1<<31-1))
	return nil
}

func validateFrameHeader(h FrameHeader) error {
	if h.Type > maxFrameType {
		return ErrUnknownFrameType
	}
	if h.Flags&^validFlagBits != 0 {
		return newProtocolError(ErrCodeProtocol, "invalid flag bits %#x on %s", h.Flags, h.Type)
	}
	if h.Length > MaxFramePayload {
		return ErrPayloadExceeds
	}
	return nil
}

// http2Preface is the 24-byte connection preface the client sends before
// anything else (§6).
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// WritePreface writes the connection preface.
func WritePreface(w io.Writer) error {
	_, err := w.Write(http2Preface)
	return err
}
