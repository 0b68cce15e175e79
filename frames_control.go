package h2mux

import "encoding/binary"

// WindowUpdateFrame is the decoded payload of a WINDOW_UPDATE frame.
// https://tools.ietf.org/html/rfc7540#section-6.9
type WindowUpdateFrame struct {
	Increment uint32
}

func decodeWindowUpdate(payload []byte) (WindowUpdateFrame, error) {
	if len(payload) < 4 {
		return WindowUpdateFrame{}, ErrMissingBytes
	}
	inc := binary.BigEndian.Uint32(payload) & (1<<31 - 1)
	return WindowUpdateFrame{Increment: inc}, nil
}

func encodeWindowUpdate(dst []byte, inc uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], inc&(1<<31-1))
	return append(dst, b[:]...)
}

// PingFrame is the decoded payload of a PING frame: always 8 bytes.
// https://tools.ietf.org/html/rfc7540#section-6.7
type PingFrame struct {
	Data [8]byte
	Ack  bool
}

func decodePing(payload []byte, ack bool) (PingFrame, error) {
	if len(payload) != 8 {
		return PingFrame{}, ErrMissingBytes
	}
	p := PingFrame{Ack: ack}
	copy(p.Data[:], payload)
	return p, nil
}

func encodePing(dst []byte, data [8]byte) []byte {
	return append(dst, data[:]...)
}

// GoAwayFrame is the decoded payload of a GOAWAY frame.
// https://tools.ietf.org/html/rfc7540#section-6.8
type GoAwayFrame struct {
	LastStreamID uint32
	Code         ErrorCode
	Debug        []byte
}

func decodeGoAway(payload []byte) (GoAwayFrame, error) {
	if len(payload) < 8 {
		return GoAwayFrame{}, ErrMissingBytes
	}
	g := GoAwayFrame{
		LastStreamID: binary.BigEndian.Uint32(payload) & (1<<31 - 1),
		Code:         ErrorCode(binary.BigEndian.Uint32(payload[4:8])),
	}
	if len(payload) > 8 {
		g.Debug = append([]byte(nil), payload[8:]...)
	}
	return g, nil
}

func encodeGoAway(dst []byte, lastStreamID uint32, code ErrorCode, debug []byte) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], lastStreamID&(1<<31-1))
	binary.BigEndian.PutUint32(b[4:8], uint32(code))
	dst = append(dst, b[:]...)
	return append(dst, debug...)
}

// RSTStreamFrame is the decoded payload of a RST_STREAM frame.
// https://tools.ietf.org/html/rfc7540#section-6.4
type RSTStreamFrame struct {
	Code ErrorCode
}

func decodeRSTStream(payload []byte) (RSTStreamFrame, error) {
	if len(payload) < 4 {
		return RSTStreamFrame{}, ErrMissingBytes
	}
	return RSTStreamFrame{Code: ErrorCode(binary.BigEndian.Uint32(payload))}, nil
}

func encodeRSTStream(dst []byte, code ErrorCode) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(code))
	return append(dst, b[:]...)
}

// PriorityFrame is parsed (to skip/validate it) and otherwise ignored per
// spec non-goals (no priority reordering).
// https://tools.ietf.org/html/rfc7540#section-6.3
type PriorityFrame struct {
	Exclusive      bool
	StreamDepends  uint32
	Weight         uint8
}

func decodePriority(payload []byte) (PriorityFrame, error) {
	if len(payload) < 5 {
		return PriorityFrame{}, ErrMissingBytes
	}
	raw := binary.BigEndian.Uint32(payload)
	return PriorityFrame{
		Exclusive:     raw&(1<<31) != 0,
		StreamDepends: raw & (1<<31 - 1),
		Weight:        payload[4],
	}, nil
}

// AltSvcFrame carries RFC 7838 alternative-service advertisements. The
// core parses it far enough to hand the raw value to Config.OnAltSvc and
// otherwise does nothing with it (§4 table, ALTSVC row).
type AltSvcFrame struct {
	Origin []byte
	Value  []byte
}

func decodeAltSvc(payload []byte) (AltSvcFrame, error) {
	if len(payload) < 2 {
		return AltSvcFrame{}, ErrMissingBytes
	}
	originLen := int(binary.BigEndian.Uint16(payload))
	if 2+originLen > len(payload) {
		return AltSvcFrame{}, ErrMissingBytes
	}
	a := AltSvcFrame{}
	if originLen > 0 {
		a.Origin = append([]byte(nil), payload[2:2+originLen]...)
	}
	if rest := payload[2+originLen:]; len(rest) > 0 {
		a.Value = append([]byte(nil), rest...)
	}
	return a, nil
}

// stripPadding removes PADDED-flag framing (a 1-byte pad length prefix plus
// that many trailing zero bytes) from payload, returning the unpadded
// content. Mirrors http2utils.CutPadding.
func stripPadding(payload []byte, padded bool) ([]byte, error) {
	if !padded {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, ErrMissingBytes
	}
	padLen := int(payload[0])
	content := payload[1:]
	if padLen > len(content) {
		return nil, newProtocolError(ErrCodeProtocol, "padding length %d exceeds payload", padLen)
	}
	return content[:len(content)-padLen], nil
}
