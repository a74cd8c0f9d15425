package usage

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

// trackingRecorder keeps recorded entries for assertions
type trackingRecorder struct {
	entries []*UsageEntry
	mu      sync.Mutex
}

func (l *trackingRecorder) Record(entry *UsageEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *trackingRecorder) Close() error { return nil }

func (l *trackingRecorder) getEntries() []*UsageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]*UsageEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

func drain(t *testing.T, tap *Tap) string {
	t.Helper()
	data, err := io.ReadAll(tap)
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	if err := tap.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	return string(data)
}

func TestTap_OpenAIStream(t *testing.T) {
	streamData := `data: {"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}

data: [DONE]

`
	rec := &trackingRecorder{}
	tap := NewTap(io.NopCloser(strings.NewReader(streamData)), rec,
		UsageEntry{ID: "u1", Provider: "openai", Operation: OperationPassthrough}, "", true, time.Now())

	if got := drain(t, tap); got != streamData {
		t.Errorf("data mismatch: got %d bytes, want %d bytes", len(got), len(streamData))
	}

	entries := rec.getEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.InputTokens != 10 || entry.OutputTokens != 5 || entry.TotalTokens != 15 {
		t.Errorf("tokens = %d/%d/%d, want 10/5/15", entry.InputTokens, entry.OutputTokens, entry.TotalTokens)
	}
	if entry.ProviderID != "chatcmpl-123" {
		t.Errorf("ProviderID = %q, want chatcmpl-123", entry.ProviderID)
	}
	if entry.Model != "gpt-4" {
		t.Errorf("Model = %q, want gpt-4", entry.Model)
	}
	if entry.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestTap_AnthropicStreamSplitsUsage(t *testing.T) {
	streamData := `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","model":"claude-3","usage":{"input_tokens":12,"output_tokens":1}}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}

event: message_stop
data: {"type":"message_stop"}

`
	rec := &trackingRecorder{}
	tap := NewTap(io.NopCloser(strings.NewReader(streamData)), rec, UsageEntry{}, "", true, time.Now())
	drain(t, tap)

	entry := rec.getEntries()[0]
	if entry.InputTokens != 12 || entry.OutputTokens != 7 || entry.TotalTokens != 19 {
		t.Errorf("tokens = %d/%d/%d, want 12/7/19", entry.InputTokens, entry.OutputTokens, entry.TotalTokens)
	}
	if entry.ProviderID != "msg_1" {
		t.Errorf("ProviderID = %q, want msg_1", entry.ProviderID)
	}
}

func TestTap_CompressedBodies(t *testing.T) {
	body := `{"responseId":"r-1","usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7}}`

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(body))
	_ = zw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(body))
	_ = bw.Close()

	tests := []struct {
		name     string
		encoding string
		raw      []byte
	}{
		{"identity", "", []byte(body)},
		{"gzip", "gzip", gz.Bytes()},
		{"brotli", "br", br.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &trackingRecorder{}
			tap := NewTap(io.NopCloser(bytes.NewReader(tt.raw)), rec, UsageEntry{}, tt.encoding, false, time.Now())
			if got := drain(t, tap); got != string(tt.raw) {
				t.Fatal("tap altered the body")
			}
			entry := rec.getEntries()[0]
			if entry.TotalTokens != 7 || entry.ProviderID != "r-1" {
				t.Errorf("entry = %+v", entry)
			}
		})
	}
}

func TestTap_LongStreamKeepsTail(t *testing.T) {
	var b strings.Builder
	for b.Len() < 3*SSEBufferSize {
		b.WriteString(`data: {"choices":[{"delta":{"content":"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}}]}` + "\n\n")
	}
	b.WriteString(`data: {"usage":{"prompt_tokens":2,"completion_tokens":3}}` + "\n\n")

	rec := &trackingRecorder{}
	tap := NewTap(io.NopCloser(strings.NewReader(b.String())), rec, UsageEntry{}, "", true, time.Now())
	drain(t, tap)

	entry := rec.getEntries()[0]
	if entry.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d, want 5", entry.TotalTokens)
	}
}

func TestTap_CloseLogsOnce(t *testing.T) {
	rec := &trackingRecorder{}
	tap := NewTap(io.NopCloser(strings.NewReader(`{"error":{"message":"bad"}}`)), rec,
		UsageEntry{Status: "upstream_rejected"}, "", false, time.Now())
	drain(t, tap)
	_ = tap.Close()

	entries := rec.getEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Status != "upstream_rejected" || entries[0].TotalTokens != 0 {
		t.Errorf("entry = %+v", entries[0])
	}
}
