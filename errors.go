package h2mux

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode is an RFC 7540 §11.4 error code, carried on RST_STREAM and
// GOAWAY frames.
type ErrorCode uint32

const (
	ErrCodeNo                 ErrorCode = 0x0
	ErrCodeProtocol           ErrorCode = 0x1
	ErrCodeInternal           ErrorCode = 0x2
	ErrCodeFlowControl        ErrorCode = 0x3
	ErrCodeSettingsTimeout    ErrorCode = 0x4
	ErrCodeStreamClosed       ErrorCode = 0x5
	ErrCodeFrameSize          ErrorCode = 0x6
	ErrCodeRefusedStream      ErrorCode = 0x7
	ErrCodeCancel             ErrorCode = 0x8
	ErrCodeCompression        ErrorCode = 0x9
	ErrCodeConnect            ErrorCode = 0xa
	ErrCodeEnhanceYourCalm    ErrorCode = 0xb
	ErrCodeInadequateSecurity ErrorCode = 0xc
	ErrCodeHTTP11Required     ErrorCode = 0xd
)

var errCodeNames = [...]string{
	"NO_ERROR", "PROTOCOL_ERROR", "INTERNAL_ERROR", "FLOW_CONTROL_ERROR",
	"SETTINGS_TIMEOUT", "STREAM_CLOSED", "FRAME_SIZE_ERROR", "REFUSED_STREAM",
	"CANCEL", "COMPRESSION_ERROR", "CONNECT_ERROR", "ENHANCE_YOUR_CALM",
	"INADEQUATE_SECURITY", "HTTP_1_1_REQUIRED",
}

func (c ErrorCode) String() string {
	if int(c) < len(errCodeNames) {
		return errCodeNames[c]
	}
	return fmt.Sprintf("UNKNOWN_ERROR(%#x)", uint32(c))
}

// CanRetry reports whether a stream that failed with this code is safe to
// retry on a fresh connection/stream.
func (c ErrorCode) CanRetry() bool {
	return c == ErrCodeRefusedStream
}

// ProtocolError is a connection-fatal framing/settings/stream-id violation.
// Receiving one always ends in Connection.abort.
type ProtocolError struct {
	Code ErrorCode
	Msg  string
}

func (e *ProtocolError) Error() string {
	if e.Msg == "" {
		return "http2: protocol error: " + e.Code.String()
	}
	return fmt.Sprintf("http2: protocol error: %s: %s", e.Code, e.Msg)
}

func newProtocolError(code ErrorCode, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// StreamError is a stream-scoped failure (RST_STREAM, local cancellation, a
// GOAWAY-drained stream). It never tears down the connection.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Retry    bool
	cause    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("http2: stream %d reset: %s", e.StreamID, e.Code)
}

func (e *StreamError) Unwrap() error { return e.cause }

func newStreamError(id uint32, code ErrorCode) *StreamError {
	return &StreamError{StreamID: id, Code: code, Retry: code.CanRetry()}
}

// IOError wraps a transport read/write failure. Always connection-fatal.
type IOError struct {
	cause error
}

func (e *IOError) Error() string { return "http2: transport error: " + e.cause.Error() }
func (e *IOError) Unwrap() error { return e.cause }

func wrapIOError(err error) error {
	if err == nil {
		return nil
	}
	return &IOError{cause: pkgerrors.Wrap(err, "http2 transport")}
}

// Sentinel errors compared with errors.Is.
var (
	ErrMissingBytes        = errors.New("h2mux: frame payload too short")
	ErrPayloadExceeds      = errors.New("h2mux: frame payload exceeds negotiated maximum size")
	ErrUnknownFrameType    = errors.New("h2mux: unknown frame type")
	ErrBadPreface          = errors.New("h2mux: bad connection preface")
	ErrNotAvailableStreams = errors.New("h2mux: no stream slots available")
	ErrConnClosed          = errors.New("h2mux: connection closed")
	ErrStreamExhausted     = errors.New("h2mux: stream id space exhausted")
	ErrCancelled           = errors.New("h2mux: write cancelled")
	ErrKeepAliveTimeout    = errors.New("h2mux: keep-alive ping timed out")
)

// Cause unwraps errors through pkg/errors.Cause: it follows only errors
// that implement a Cause method. IOError and StreamError expose their cause
// through Unwrap alone, so Cause returns them unchanged; errors.Is and
// errors.As see through them.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
