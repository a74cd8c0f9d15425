package providers

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
	"aigateway/internal/pkg/sse"
)

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func textDecoder(ev *sse.Event) ([]*core.Chunk, bool, error) {
	if sse.IsDone(ev.Data) {
		return nil, true, nil
	}
	if strings.HasPrefix(string(ev.Data), "error:") {
		return nil, false, core.NewUpstreamUnavailableError("p", string(ev.Data), nil)
	}
	return []*core.Chunk{{Delta: string(ev.Data)}}, false, nil
}

func TestSSEStream_DeliversUntilDone(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data: a\n\ndata: b\n\ndata: [DONE]\n\n")}
	cancelled := false
	s := NewSSEStream(context.Background(), "p", body, func() { cancelled = true }, textDecoder)

	var got []string
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, c.Delta)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, body.closed)
	assert.True(t, cancelled)
}

func TestSSEStream_TruncatedStreamIsAnError(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data: a\n\n")}
	s := NewSSEStream(context.Background(), "p", body, nil, textDecoder)

	c, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", c.Delta)

	_, err = s.Recv()
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestSSEStream_ProviderErrorEvent(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data: a\n\ndata: error: overloaded\n\n")}
	s := NewSSEStream(context.Background(), "p", body, nil, textDecoder)

	_, err := s.Recv()
	require.NoError(t, err)
	_, err = s.Recv()
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "overloaded")
}
