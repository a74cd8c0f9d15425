package usage

// Buffer and batch limits for usage tracking.
const (
	// BatchFlushThreshold is the number of entries that triggers an immediate flush.
	// When the batch reaches this size, it's written to storage without waiting for the timer.
	BatchFlushThreshold = 100

	// SSEBufferSize is how much of an uncompressed event stream's tail the
	// tap keeps; usage arrives in the last events.
	SSEBufferSize = 16 * 1024

	// MaxTapBytes caps how much of a buffered or compressed body the tap keeps.
	MaxTapBytes = 1 << 20
)
