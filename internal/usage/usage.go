// Package usage records one entry per routed gateway call and writes the
// entries to storage asynchronously in batches.
package usage

import (
	"context"
	"time"
)

// Operations recorded in UsageEntry.Operation
const (
	OperationChat        = "chat"
	OperationStream      = "chat_stream"
	OperationEmbeddings  = "embeddings"
	OperationPassthrough = "passthrough"
)

// StatusOK is recorded for calls that completed without error
const StatusOK = "ok"

// UsageStore defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type UsageStore interface {
	// WriteBatch writes multiple usage entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*UsageEntry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// UsageEntry represents a single routed call.
type UsageEntry struct {
	// ID is a unique identifier for this usage entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID is the gateway request id (X-Request-ID)
	RequestID string `json:"request_id" bson:"request_id"`

	// ProviderID is the provider's response ID (e.g., "chatcmpl-abc123", "msg_xyz")
	ProviderID string `json:"provider_id,omitempty" bson:"provider_id,omitempty"`

	// Timestamp is when the call completed
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// Endpoint is the endpoint name; empty for provider-scoped passthrough
	Endpoint  string `json:"endpoint" bson:"endpoint"`
	Provider  string `json:"provider" bson:"provider"`
	Model     string `json:"model" bson:"model"`
	Operation string `json:"operation" bson:"operation"`

	// Status is StatusOK or the gateway error code
	Status    string `json:"status" bson:"status"`
	LatencyMs int64  `json:"latency_ms" bson:"latency_ms"`
	Attempts  int    `json:"attempts" bson:"attempts"`

	// Token counts normalized across providers
	InputTokens  int `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int `json:"output_tokens" bson:"output_tokens"`
	TotalTokens  int `json:"total_tokens" bson:"total_tokens"`
}

// Config holds usage tracking configuration
type Config struct {
	// Enabled controls whether usage tracking is active
	Enabled bool

	// BufferSize is the number of usage entries to buffer before flushing
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
