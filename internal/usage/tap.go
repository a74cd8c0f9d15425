package usage

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

// Tap wraps a raw upstream response body and records a usage entry when it
// is closed. The bytes read through the tap are never altered.
type Tap struct {
	io.ReadCloser
	recorder  Recorder
	entry     UsageEntry
	start     time.Time
	encoding  string
	streaming bool
	buffer    bytes.Buffer
	overflow  bool
	once      sync.Once
}

// NewTap creates a tap around body. entry carries the call's identifying
// fields; tokens, latency and the provider response id are filled in on Close.
// encoding is the response Content-Encoding.
func NewTap(body io.ReadCloser, recorder Recorder, entry UsageEntry, encoding string, streaming bool, start time.Time) *Tap {
	return &Tap{
		ReadCloser: body,
		recorder:   recorder,
		entry:      entry,
		start:      start,
		encoding:   strings.ToLower(strings.TrimSpace(encoding)),
		streaming:  streaming,
	}
}

// Read implements io.Reader and buffers what usage extraction needs.
func (t *Tap) Read(p []byte) (n int, err error) {
	n, err = t.ReadCloser.Read(p)
	if n > 0 {
		t.keep(p[:n])
	}
	return n, err
}

func (t *Tap) keep(b []byte) {
	if t.overflow {
		return
	}
	t.buffer.Write(b)
	if t.buffer.Len() <= t.limit() {
		return
	}
	if t.streaming && t.encoding == "" {
		// Keep only the recent tail of a plain event stream
		data := t.buffer.Bytes()
		tail := append([]byte(nil), data[len(data)-SSEBufferSize:]...)
		t.buffer.Reset()
		t.buffer.Write(tail)
		return
	}
	t.overflow = true
	t.buffer.Reset()
}

func (t *Tap) limit() int {
	if t.streaming && t.encoding == "" {
		return SSEBufferSize
	}
	return MaxTapBytes
}

// Close implements io.Closer, extracts usage and logs the entry.
func (t *Tap) Close() error {
	err := t.ReadCloser.Close()
	t.once.Do(func() {
		entry := t.entry
		entry.LatencyMs = time.Since(t.start).Milliseconds()
		entry.Timestamp = time.Now().UTC()
		if !t.overflow {
			if body, decErr := decode(t.encoding, t.buffer.Bytes()); decErr == nil {
				Extract(body, &entry)
			}
		}
		t.recorder.Record(&entry)
	})
	return err
}

// decode undoes the response Content-Encoding.
func decode(encoding string, data []byte) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "", "identity":
		return data, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(data))
	default:
		return nil, io.ErrUnexpectedEOF
	}
	return io.ReadAll(io.LimitReader(r, MaxTapBytes))
}

// Extract fills token counts and the provider response id from a native
// response body or event stream. OpenAI, Anthropic and Gemini usage shapes
// are recognized; Anthropic streams split input and output tokens across
// events, so every event is inspected and the largest count wins.
func Extract(body []byte, entry *UsageEntry) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		extractJSON(trimmed, entry)
	} else {
		for _, line := range bytes.Split(body, []byte("\n")) {
			data, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)
			if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
				continue
			}
			extractJSON(data, entry)
		}
	}
	if entry.TotalTokens == 0 {
		entry.TotalTokens = entry.InputTokens + entry.OutputTokens
	}
}

var (
	idPaths     = []string{"id", "message.id", "responseId"}
	inputPaths  = []string{"usage.prompt_tokens", "usage.input_tokens", "message.usage.input_tokens", "usageMetadata.promptTokenCount"}
	outputPaths = []string{"usage.completion_tokens", "usage.output_tokens", "message.usage.output_tokens", "usageMetadata.candidatesTokenCount"}
	totalPaths  = []string{"usage.total_tokens", "usageMetadata.totalTokenCount"}
)

func extractJSON(data []byte, entry *UsageEntry) {
	if !gjson.ValidBytes(data) {
		return
	}
	doc := gjson.ParseBytes(data)
	if entry.ProviderID == "" {
		for _, p := range idPaths {
			if v := doc.Get(p); v.Type == gjson.String && v.Str != "" {
				entry.ProviderID = v.Str
				break
			}
		}
	}
	if m := doc.Get("model"); entry.Model == "" && m.Type == gjson.String {
		entry.Model = m.Str
	}
	entry.InputTokens = maxOf(doc, inputPaths, entry.InputTokens)
	entry.OutputTokens = maxOf(doc, outputPaths, entry.OutputTokens)
	entry.TotalTokens = maxOf(doc, totalPaths, entry.TotalTokens)
}

func maxOf(doc gjson.Result, paths []string, current int) int {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.Number && int(v.Int()) > current {
			current = int(v.Int())
		}
	}
	return current
}
