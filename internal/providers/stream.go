package providers

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"aigateway/internal/core"
	"aigateway/internal/pkg/sse"
)

// EventDecoder turns one provider SSE event into canonical chunks. It sets
// done once the provider signalled the end of the stream.
type EventDecoder func(ev *sse.Event) (chunks []*core.Chunk, done bool, err error)

// SSEStream adapts a provider event stream to core.ChunkStream. It owns the
// response body and the cancel func of the call's context.
type SSEStream struct {
	provider string
	ctx      context.Context
	body     io.ReadCloser
	cancel   context.CancelFunc
	reader   *sse.Reader
	decode   EventDecoder

	pending []*core.Chunk
	done    bool
	err     error

	closeOnce sync.Once
	closeErr  error
}

// NewSSEStream wraps body. cancel aborts the in-flight call and may be nil.
func NewSSEStream(ctx context.Context, provider string, body io.ReadCloser, cancel context.CancelFunc, decode EventDecoder) *SSEStream {
	return &SSEStream{
		provider: provider,
		ctx:      ctx,
		body:     body,
		cancel:   cancel,
		reader:   sse.NewReader(body),
		decode:   decode,
	}
}

// Recv returns the next canonical chunk, io.EOF after the provider's end
// marker, or an upstream error when the stream broke off early.
func (s *SSEStream) Recv() (*core.Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}

		ev, err := s.reader.Next()
		switch {
		case errors.Is(err, io.EOF):
			s.err = core.NewUpstreamUnavailableError(s.provider, "stream ended before the provider signalled completion", nil)
			continue
		case err != nil:
			if s.ctx.Err() != nil && errors.Is(s.ctx.Err(), context.Canceled) {
				s.err = s.ctx.Err()
			} else {
				s.err = core.ClassifyTransportError(s.provider, err)
			}
			continue
		}

		chunks, done, err := s.decode(ev)
		s.pending = append(s.pending, chunks...)
		s.done = done
		if err != nil {
			s.err = err
		}
	}
}

// Close cancels the upstream call and releases the connection.
func (s *SSEStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// SliceStream is a ChunkStream over a fixed list of chunks, used by adapters
// whose native stream is already decoded and by tests.
type SliceStream struct {
	mu     sync.Mutex
	chunks []*core.Chunk
	err    error
	closed bool
}

// NewSliceStream returns a stream that yields chunks, then err (io.EOF when nil).
func NewSliceStream(chunks []*core.Chunk, err error) *SliceStream {
	if err == nil {
		err = io.EOF
	}
	return &SliceStream{chunks: chunks, err: err}
}

// Recv implements core.ChunkStream
func (s *SliceStream) Recv() (*core.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if len(s.chunks) == 0 {
		return nil, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// Close implements core.ChunkStream
func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Collect drains stream into a canonical response, concatenating deltas per
// segment. It closes the stream.
func Collect(stream core.ChunkStream) (*core.ChatResponse, error) {
	defer func() { _ = stream.Close() }()

	resp := &core.ChatResponse{Object: "chat.completion"}
	segments := map[int]*core.Choice{}
	var order []int
	for {
		c, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if resp.ID == "" {
			resp.ID = c.ID
		}
		if resp.Model == "" {
			resp.Model = c.Model
		}
		if resp.Created == 0 {
			resp.Created = c.Created
		}
		if c.Usage != nil {
			resp.Usage = *c.Usage
		}
		if c.Done && c.Delta == "" && c.FinishReason == "" {
			continue
		}
		seg, ok := segments[c.Index]
		if !ok {
			seg = &core.Choice{Index: c.Index, Message: core.Message{Role: core.RoleAssistant}}
			segments[c.Index] = seg
			order = append(order, c.Index)
		}
		seg.Message.Content += c.Delta
		if c.FinishReason != "" {
			seg.FinishReason = c.FinishReason
		}
	}
	sort.Ints(order)
	for _, i := range order {
		resp.Choices = append(resp.Choices, *segments[i])
	}
	return resp, nil
}
