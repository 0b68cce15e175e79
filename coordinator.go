package h2mux

import (
	"context"
	"sync/atomic"
)

// jobState is the tri-state word a writeJob's completion races against its
// caller's context cancellation (§4.D "try_disable_cancellation").
type jobState int32

const (
	jobPending jobState = iota
	jobClaimed
	jobCancelled
)

// writeJob is one unit of work handed to the writer loop (§4.E). Exactly one
// of the writer loop or a racing context cancellation ever transitions state
// away from jobPending; whichever wins decides whether the frame is written.
type writeJob struct {
	kind      writeKind
	stream    *Stream
	fields    []HeaderField
	endStream bool
	data      []byte

	state  atomic.Int32
	result chan error
}

func newWriteJob(kind writeKind, stream *Stream) *writeJob {
	return &writeJob{kind: kind, stream: stream, result: make(chan error, 1)}
}

// tryDisableCancellation is called by the writer loop right before it acts
// on a job. A false return means a racing cancellation already won, and the
// writer loop must skip the frame entirely rather than write it.
func (j *writeJob) tryDisableCancellation() bool {
	return j.state.CompareAndSwap(int32(jobPending), int32(jobClaimed))
}

// tryCancel is called by the submitting goroutine when its context is done.
// A true return means cancellation won the race and the writer loop will
// never touch this job; the caller is responsible for completing itself
// with ctx.Err() since nothing else will.
func (j *writeJob) tryCancel() bool {
	return j.state.CompareAndSwap(int32(jobPending), int32(jobCancelled))
}

// writeCoordinator sequences the frames for a single stream's request
// write-side: headers, body chunks (each gated on both per-stream and
// connection-level flow-control credit), and an optional flush (§4.D,
// component D). One per Stream; methods are safe to call from at most one
// request-writing goroutine at a time per stream, though cancellation
// itself is concurrency-safe.
type writeCoordinator struct {
	stream *Stream

	flushCounter        uint64 // bumped on every data write
	lastFlushedCounter  uint64 // value at last completed flush
	abortErr            atomic.Pointer[error]
}

func newWriteCoordinator(s *Stream) *writeCoordinator {
	return &writeCoordinator{stream: s}
}

// abort marks the coordinator permanently failed; subsequent submit calls
// return err immediately without reaching the writer loop.
func (wc *writeCoordinator) abort(err error) {
	wc.abortErr.Store(&err)
}

func (wc *writeCoordinator) abortError() error {
	p := wc.abortErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// submit enqueues job on the connection's writer loop and waits for either
// completion or ctx cancellation, racing tryDisableCancellation/tryCancel so
// a job that the writer loop has already started is never half-applied.
func (wc *writeCoordinator) submit(ctx context.Context, job *writeJob) error {
	if err := wc.abortError(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := wc.stream.conn.writer.enqueue(job); err != nil {
		return err
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		if job.tryCancel() {
			return ctx.Err()
		}
		// the writer loop already claimed the job: it will complete
		// normally, so wait for the real outcome instead of racing ahead
		// of a frame that is (or is about to be) on the wire.
		return <-job.result
	}
}

// SendHeaders encodes and submits fields as a HEADERS (+CONTINUATION, via
// the writer loop's frame splitting) block. endStream marks the request as
// having no body.
func (wc *writeCoordinator) SendHeaders(ctx context.Context, fields []HeaderField, endStream bool) error {
	job := newWriteJob(writeKindHeaders, wc.stream)
	job.fields = fields
	job.endStream = endStream
	if err := wc.submit(ctx, job); err != nil {
		return err
	}
	if endStream {
		wc.stream.markSendFinished()
	}
	return nil
}

// SendData writes body, obtaining per-stream and connection-level flow
// control credit a chunk at a time so a single large write never starves
// other streams of their fair share of the connection window (§4.C, §4.D).
func (wc *writeCoordinator) SendData(ctx context.Context, body []byte, endStream bool) error {
	remaining := body
	for len(remaining) > 0 {
		n, err := wc.stream.sendWindow.requestCredit(ctx, int32(len(remaining)))
		if err != nil {
			return err
		}
		n, err = wc.stream.conn.connWindow.requestCredit(ctx, n)
		if err != nil {
			// credit already taken from the stream window is lost to this
			// request but not leaked: a future WINDOW_UPDATE still grows
			// the stream window for whatever else uses it before reset.
			return err
		}

		chunk := remaining[:n]
		remaining = remaining[n:]

		job := newWriteJob(writeKindData, wc.stream)
		job.data = chunk
		job.endStream = endStream && len(remaining) == 0
		if err := wc.submit(ctx, job); err != nil {
			return err
		}
		atomic.AddUint64(&wc.flushCounter, 1)
	}
	if len(body) == 0 && endStream {
		job := newWriteJob(writeKindData, wc.stream)
		job.endStream = true
		if err := wc.submit(ctx, job); err != nil {
			return err
		}
	}
	if endStream {
		wc.stream.markSendFinished()
	}
	return nil
}

// Flush forces any buffered-but-unflushed frames for this stream's
// connection out to the transport. It is a no-op if no DATA has been
// written on this stream since the last flush (monotonic counter check;
// HEADERS writes do not count), matching §4.D's
// guidance that redundant flushes must not add writer-loop wakeups.
func (wc *writeCoordinator) Flush(ctx context.Context) error {
	cur := atomic.LoadUint64(&wc.flushCounter)
	if cur == wc.lastFlushedCounter {
		return nil
	}
	job := newWriteJob(writeKindFlush, wc.stream)
	if err := wc.submit(ctx, job); err != nil {
		return err
	}
	wc.lastFlushedCounter = cur
	return nil
}
