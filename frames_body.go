package h2mux

// DataFrame is the decoded view of a DATA frame payload (padding already
// stripped). https://tools.ietf.org/html/rfc7540#section-6.1
type DataFrame struct {
	Data      []byte
	EndStream bool
}

func decodeData(h FrameHeader, payload []byte) (DataFrame, error) {
	content, err := stripPadding(payload, h.Flags.Has(FlagPadded))
	if err != nil {
		return DataFrame{}, err
	}
	return DataFrame{Data: content, EndStream: h.Flags.Has(FlagEndStream)}, nil
}

// HeadersFrame is the decoded view of a HEADERS frame's non-header-block
// framing: the PRIORITY prefix (parsed then discarded; stream prioritization
// is not implemented) and padding have already been stripped from
// HeaderBlockFragment.
// https://tools.ietf.org/html/rfc7540#section-6.2
type HeadersFrame struct {
	HeaderBlockFragment []byte
	EndStream           bool
	EndHeaders          bool
	Priority            *PriorityFrame
}

func decodeHeaders(h FrameHeader, payload []byte) (HeadersFrame, error) {
	content, err := stripPadding(payload, h.Flags.Has(FlagPadded))
	if err != nil {
		return HeadersFrame{}, err
	}

	out := HeadersFrame{
		EndStream:  h.Flags.Has(FlagEndStream),
		EndHeaders: h.Flags.Has(FlagEndHeaders),
	}

	if h.Flags.Has(FlagPriority) {
		pri, err := decodePriority(content)
		if err != nil {
			return HeadersFrame{}, err
		}
		out.Priority = &pri
		content = content[5:]
	}

	out.HeaderBlockFragment = content
	return out, nil
}

// ContinuationFrame carries a trailing slice of a header block.
// https://tools.ietf.org/html/rfc7540#section-6.10
type ContinuationFrame struct {
	HeaderBlockFragment []byte
	EndHeaders          bool
}

func decodeContinuation(h FrameHeader, payload []byte) ContinuationFrame {
	return ContinuationFrame{
		HeaderBlockFragment: payload,
		EndHeaders:          h.Flags.Has(FlagEndHeaders),
	}
}

// dataFrameCount reports how many MaxFramePayload-sized DATA frames a body
// of n bytes occupies; an empty body still takes one (END_STREAM-only)
// frame.
func dataFrameCount(n int) int {
	if n == 0 {
		return 1
	}
	return (n + MaxFramePayload - 1) / MaxFramePayload
}
