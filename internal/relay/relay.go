// Package relay writes a canonical chunk stream to an HTTP client as
// OpenAI-style server-sent events.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aigateway/internal/core"
)

// DefaultCancelGrace bounds how long a cancelled relay waits for the
// upstream call to wind down.
const DefaultCancelGrace = 2 * time.Second

// Outcomes reported by Relay.Serve
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

var streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aigateway_streams_total",
	Help: "Relayed streams by outcome.",
}, []string{"outcome"})

// Relay forwards chunk streams to clients.
type Relay struct {
	grace time.Duration
}

// New creates a relay. A non-positive grace uses DefaultCancelGrace.
func New(grace time.Duration) *Relay {
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	return &Relay{grace: grace}
}

// Result summarizes one relayed stream.
type Result struct {
	Outcome string
	Chunks  int
	Err     error
}

type received struct {
	chunk *core.Chunk
	err   error
}

// Serve writes stream to w until the stream ends, fails, or ctx is done.
// The caller must have set any extra response headers already. Serve always
// closes stream. A provider failure after the headers went out is written
// as a terminal error event instead of a silent truncation.
func (r *Relay) Serve(ctx context.Context, w http.ResponseWriter, stream core.ChunkStream, model string) Result {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	flush := func() { _ = rc.Flush() }
	flush()

	// Recv blocks on the network, so it runs in its own goroutine; the loop
	// below can then react to a client disconnect while a read is pending.
	next := make(chan struct{})
	out := make(chan received)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for range next {
			c, err := stream.Recv()
			select {
			case out <- received{chunk: c, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	stopPump := sync.OnceFunc(func() { close(next) })
	enc := newEncoder(model)
	res := Result{}
	finish := func(outcome string, err error) Result {
		stopPump()
		res.Outcome, res.Err = outcome, err
		streamsTotal.WithLabelValues(outcome).Inc()
		return res
	}

	for {
		next <- struct{}{}
		select {
		case <-ctx.Done():
			r.cancel(stream, stopPump, pumpDone)
			return finish(OutcomeCanceled, ctx.Err())

		case rcv := <-out:
			switch {
			case errors.Is(rcv.err, io.EOF):
				_ = stream.Close()
				if err := writeEvent(w, []byte("[DONE]")); err != nil {
					return finish(OutcomeCanceled, err)
				}
				flush()
				return finish(OutcomeCompleted, nil)

			case rcv.err != nil:
				_ = stream.Close()
				if errors.Is(rcv.err, context.Canceled) {
					return finish(OutcomeCanceled, rcv.err)
				}
				_ = writeEvent(w, errorEvent(rcv.err))
				flush()
				slog.Warn("stream failed after partial output",
					"model", model,
					"chunks", res.Chunks,
					"error", rcv.err,
					"request_id", core.GetRequestID(ctx),
				)
				return finish(OutcomeFailed, rcv.err)
			}

			payload, err := enc.encode(rcv.chunk)
			if err != nil {
				_ = stream.Close()
				return finish(OutcomeFailed, err)
			}
			if err := writeEvent(w, payload); err != nil {
				r.cancel(stream, stopPump, pumpDone)
				return finish(OutcomeCanceled, err)
			}
			flush()
			res.Chunks++
		}
	}
}

// cancel closes the stream, which cancels the upstream call, and waits up to
// the grace period for the pending read to return.
func (r *Relay) cancel(stream core.ChunkStream, stopPump func(), pumpDone <-chan struct{}) {
	_ = stream.Close()
	stopPump()
	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case <-pumpDone:
	case <-timer.C:
		slog.Warn("upstream stream did not stop within grace period", "grace", r.grace)
	}
}

func writeEvent(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func errorEvent(err error) []byte {
	body, mErr := json.Marshal(core.AsGatewayError(err).ToJSON())
	if mErr != nil {
		return []byte(`{"error":{"type":"internal_error","code":"internal_error","message":"stream failed"}}`)
	}
	return body
}
