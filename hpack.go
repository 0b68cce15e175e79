package h2mux

import (
	"bytes"
	"strconv"
	"sync/atomic"

	"golang.org/x/net/http2/hpack"
)

// HeaderField is a single decoded or pending-encode header, kept as a thin
// value type over hpack.HeaderField so the rest of the engine never imports
// golang.org/x/net/http2/hpack directly.
type HeaderField struct {
	Name, Value string
	Sensitive   bool
}

func (f HeaderField) IsPseudo() bool { return len(f.Name) > 0 && f.Name[0] == ':' }

// hpackCodec is the thin boundary around the external HPACK decoder/encoder
// (§4.J). Decode and Encode are each NOT safe for concurrent use — one codec
// per Connection, decoding only from the reader loop and encoding only from
// the writer loop while it builds a HEADERS frame. The decoder keeps the
// dynamic table mirrored from the peer's encoder; the encoder keeps no
// dynamic table of its own.
type hpackCodec struct {
	dec *hpack.Decoder
	enc *hpack.Encoder
	buf bytes.Buffer

	headerListSize    uint32        // running approximate size of the in-flight decode, reader-loop only
	maxHeaderListSize atomic.Uint32 // peer's advertised MAX_HEADER_LIST_SIZE, 0 = unbounded; set from the reader loop, read from the writer loop

	// decoded accumulates fields for the header block currently being
	// decoded. A connection only ever decodes one header block at a time
	// (RFC 7540 forbids interleaving HEADERS/CONTINUATION across streams),
	// so a single buffer reused across DecodeFragment calls is sufficient.
	decoded []HeaderField
}

func newHPACKCodec() *hpackCodec {
	c := &hpackCodec{}
	c.enc = hpack.NewEncoder(&c.buf)
	// a zero dynamic table size keeps every literal unindexed
	c.enc.SetMaxDynamicTableSizeLimit(0)
	c.dec = hpack.NewDecoder(defaultHeaderTableSize, func(f hpack.HeaderField) {
		c.headerListSize += uint32(len(f.Name) + len(f.Value) + 32)
		c.decoded = append(c.decoded, HeaderField{Name: f.Name, Value: f.Value, Sensitive: f.Sensitive})
	})
	return c
}

// takeDecoded returns the fields accumulated since the current header block
// began (across DecodeFragment/CONTINUATION calls) and resets the buffer for
// the next block.
func (c *hpackCodec) takeDecoded() []HeaderField {
	out := c.decoded
	c.decoded = nil
	c.headerListSize = 0
	return out
}

// SetPeerMaxDynamicTableSize adjusts how large a dynamic table this codec's
// decoder will accept from the peer's encode side — driven by the client's
// own outgoing SETTINGS HEADER_TABLE_SIZE when it changes.
func (c *hpackCodec) SetPeerMaxDynamicTableSize(n uint32) {
	c.dec.SetMaxDynamicTableSize(n)
}

// SetMaxHeaderListSize bounds future Encode calls against the peer's
// advertised MAX_HEADER_LIST_SIZE (§4.J).
func (c *hpackCodec) SetMaxHeaderListSize(n uint32) {
	c.maxHeaderListSize.Store(n)
}

// DecodeFragment feeds one HEADERS/CONTINUATION fragment through the
// decoder, appending every decoded field to the current block's buffer
// (retrieved via takeDecoded once END_HEADERS is reached). Headers for an
// unknown/closed stream must still be run through here to keep the dynamic
// table synchronized (§4.F); the caller just discards the decoded fields in
// that case.
func (c *hpackCodec) DecodeFragment(fragment []byte) error {
	_, err := c.dec.Write(fragment)
	return err
}

// FinishHeaderBlock must be called once END_HEADERS has been observed, to
// validate the header block's internal boundaries per HPACK framing rules.
func (c *hpackCodec) FinishHeaderBlock() error {
	return c.dec.Close()
}

// Encode appends an egress representation of f to dst using the
// literal-without-indexing encode policy (§4.J): request pseudo-headers
// with a well-known static-table value are emitted as pure indexed
// references; everything else is a literal with a pre-encoded name. It
// returns the new approximate header_list_size total, and an error if that
// total would exceed the peer's MAX_HEADER_LIST_SIZE.
func (c *hpackCodec) Encode(dst []byte, f HeaderField, runningSize uint32) ([]byte, uint32, error) {
	size := runningSize + uint32(len(f.Name)+len(f.Value)+32)
	if max := c.maxHeaderListSize.Load(); max != 0 && size > max {
		return dst, runningSize, newProtocolError(ErrCodeCompression, "header list size %d exceeds peer max %d", size, max)
	}

	if idx, ok := staticIndexedRequestField(f); ok {
		c.buf.Reset()
		c.enc.WriteField(idx)
		dst = append(dst, c.buf.Bytes()...)
		return dst, size, nil
	}

	c.buf.Reset()
	_ = c.enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value, Sensitive: f.Sensitive})
	dst = append(dst, c.buf.Bytes()...)
	return dst, size, nil
}

// staticIndexedRequestField recognizes the handful of static-table
// shortcuts worth taking on the encode path (§4.J): :method GET/POST,
// :scheme https/http, :path /. :authority is not matched here; it goes
// through the literal path, which references its static-table name.
func staticIndexedRequestField(f HeaderField) (hpack.HeaderField, bool) {
	switch {
	case f.Name == ":method" && f.Value == "GET":
		return hpack.HeaderField{Name: ":method", Value: "GET"}, true
	case f.Name == ":method" && f.Value == "POST":
		return hpack.HeaderField{Name: ":method", Value: "POST"}, true
	case f.Name == ":scheme" && f.Value == "http":
		return hpack.HeaderField{Name: ":scheme", Value: "http"}, true
	case f.Name == ":scheme" && f.Value == "https":
		return hpack.HeaderField{Name: ":scheme", Value: "https"}, true
	case f.Name == ":path" && f.Value == "/":
		return hpack.HeaderField{Name: ":path", Value: "/"}, true
	}
	return hpack.HeaderField{}, false
}

// ParseStatus extracts the numeric :status pseudo-header value, used by
// the response-header sink when assembling the response object (out of
// scope collaborator, but the core still has to recognize :status to know
// when informational 1xx headers must be skipped rather than delivered).
func ParseStatus(value string) (int, error) {
	return strconv.Atoi(value)
}
