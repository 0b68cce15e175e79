package h2mux

import (
	"bytes"
	"context"
	"strconv"

	"github.com/valyala/fasthttp"
)

// requestHeaderFields turns a fasthttp.Request into the pseudo-header-first
// HeaderField sequence a HEADERS frame expects: :authority, :method, :path,
// :scheme first, then every other request header via VisitAll.
func requestHeaderFields(req *fasthttp.Request, selector RequestHeaderEncodingSelector) []HeaderField {
	fields := make([]HeaderField, 0, 8+req.Header.Len())
	fields = append(fields,
		HeaderField{Name: ":authority", Value: string(req.URI().Host())},
		HeaderField{Name: ":method", Value: string(req.Header.Method())},
		HeaderField{Name: ":path", Value: string(req.URI().RequestURI())},
		HeaderField{Name: ":scheme", Value: string(req.URI().Scheme())},
	)
	if ua := req.Header.UserAgent(); len(ua) > 0 {
		fields = append(fields, HeaderField{Name: "user-agent", Value: string(ua)})
	}

	req.Header.VisitAll(func(k, v []byte) {
		if bytes.EqualFold(k, strUserAgent) {
			return
		}
		name := lowerHeaderName(k)
		sensitive := false
		if selector != nil {
			if s, override := selector(name); override {
				sensitive = s
			}
		}
		fields = append(fields, HeaderField{Name: name, Value: string(v), Sensitive: sensitive})
	})

	return fields
}

var strUserAgent = []byte("User-Agent")

func lowerHeaderName(k []byte) string {
	out := make([]byte, len(k))
	for i, c := range k {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// responseSink adapts a *fasthttp.Response to StreamCallbacks (§3, §6): the
// response object model is an explicit external collaborator, and this is
// the thin seam that feeds it from decoded HEADERS/DATA frames.
type responseSink struct {
	res    *fasthttp.Response
	done   chan error
	gotErr error
}

func newResponseSink(res *fasthttp.Response) *responseSink {
	return &responseSink{res: res, done: make(chan error, 1)}
}

func (r *responseSink) OnResponseHeaders(fields []HeaderField, endStream, informational bool) {
	if informational {
		return
	}
	for _, f := range fields {
		switch {
		case f.Name == ":status":
			if code, err := ParseStatus(f.Value); err == nil {
				r.res.SetStatusCode(code)
			}
		case f.Name == "content-length":
			if n, err := strconv.Atoi(f.Value); err == nil {
				r.res.Header.SetContentLength(n)
			}
		default:
			r.res.Header.Add(f.Name, f.Value)
		}
	}
	if endStream {
		r.finish(nil)
	}
}

func (r *responseSink) OnResponseData(p []byte, endStream bool) {
	if len(p) > 0 {
		r.res.AppendBody(p)
	}
	if endStream {
		r.finish(nil)
	}
}

func (r *responseSink) OnStreamError(err error) {
	r.finish(err)
}

func (r *responseSink) finish(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// Do performs one request/response exchange over conn: open a stream, write
// the request headers and body, then block until the response completes or
// ctx is done.
func Do(ctx context.Context, conn *Connection, req *fasthttp.Request, res *fasthttp.Response) error {
	sink := newResponseSink(res)
	s, err := conn.OpenStream(ctx, sink)
	if err != nil {
		return err
	}

	fields := requestHeaderFields(req, conn.cfg.RequestHeaderEncodingSelector)
	body := req.Body()

	if err := s.WriteHeaders(ctx, fields, len(body) == 0); err != nil {
		return err
	}
	if len(body) > 0 {
		if err := s.WriteData(ctx, body, true); err != nil {
			return err
		}
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}

	select {
	case err := <-sink.done:
		return err
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	case <-conn.Done():
		return conn.Err()
	}
}
