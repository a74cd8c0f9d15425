package router

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"aigateway/internal/core"
)

// observedStream watches chunks go by and reports the outcome exactly once:
// at io.EOF, at the first error, or at Close if the caller stops early.
type observedStream struct {
	inner  core.ChunkStream
	report func(u core.Usage, providerID string, err error)

	usage core.Usage
	id    string
	once  sync.Once
}

func newObservedStream(inner core.ChunkStream, report func(core.Usage, string, error)) *observedStream {
	return &observedStream{inner: inner, report: report}
}

func (s *observedStream) Recv() (*core.Chunk, error) {
	c, err := s.inner.Recv()
	switch {
	case errors.Is(err, io.EOF):
		s.done(nil)
	case err != nil:
		s.done(err)
	default:
		if s.id == "" {
			s.id = c.ID
		}
		if c.Usage != nil {
			s.usage = *c.Usage
		}
	}
	return c, err
}

// Close releases the upstream call. A stream closed before its end is
// reported as canceled.
func (s *observedStream) Close() error {
	err := s.inner.Close()
	s.done(context.Canceled)
	return err
}

func (s *observedStream) done(err error) {
	s.once.Do(func() { s.report(s.usage, s.id, err) })
}

var errFirstChunkTimeout = errors.New("no stream chunk within request_timeout")

// openBounded opens a stream whose context is canceled if no chunk has been
// received within timeout. A zero timeout leaves the stream unbounded.
func openBounded(ctx context.Context, timeout time.Duration, provider string, open func(context.Context) (core.ChunkStream, error)) (core.ChunkStream, error) {
	if timeout <= 0 {
		return open(ctx)
	}
	streamCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(timeout, func() { cancel(errFirstChunkTimeout) })

	stream, err := open(streamCtx)
	if err != nil {
		timer.Stop()
		timedOut := errors.Is(context.Cause(streamCtx), errFirstChunkTimeout)
		cancel(nil)
		if timedOut {
			return nil, core.NewUpstreamTimeoutError(provider, "stream did not open within request_timeout", err)
		}
		return nil, err
	}
	return &boundedStream{inner: stream, ctx: streamCtx, cancel: cancel, timer: timer, provider: provider}, nil
}

// boundedStream disarms the first-chunk timer on the first Recv and releases
// its context on Close.
type boundedStream struct {
	inner    core.ChunkStream
	ctx      context.Context
	cancel   context.CancelCauseFunc
	timer    *time.Timer
	provider string
}

func (s *boundedStream) Recv() (*core.Chunk, error) {
	c, err := s.inner.Recv()
	s.timer.Stop()
	if err != nil && !errors.Is(err, io.EOF) && errors.Is(context.Cause(s.ctx), errFirstChunkTimeout) {
		return nil, core.NewUpstreamTimeoutError(s.provider, "no stream chunk within request_timeout", err)
	}
	return c, err
}

func (s *boundedStream) Close() error {
	s.timer.Stop()
	err := s.inner.Close()
	s.cancel(nil)
	return err
}
