// Package cache propagates routing configuration changes between gateway
// instances. Redis pub/sub serves multi-instance deployments; the local
// notifier serves a single process.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Change announces that an instance committed a new routing snapshot.
type Change struct {
	Instance string    `json:"instance"`
	Version  uint64    `json:"version"`
	Digest   string    `json:"digest"`
	At       time.Time `json:"at"`
}

// Notifier publishes and observes configuration changes.
// Implementations must be safe for concurrent use.
type Notifier interface {
	// Publish announces a change to every subscriber, including other instances.
	Publish(ctx context.Context, change Change) error

	// Subscribe delivers changes until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Change, error)

	// Latest returns the most recently published change.
	// Returns nil, nil if nothing was published yet.
	Latest(ctx context.Context) (*Change, error)

	// Close releases any resources held by the notifier.
	Close() error
}

// Follow reloads local state whenever another instance publishes a digest
// different from the local one. It blocks until ctx is done. A change
// published before Follow started is picked up through Latest.
func Follow(ctx context.Context, n Notifier, instance string, digest func() string, reload func(context.Context) error) error {
	changes, err := n.Subscribe(ctx)
	if err != nil {
		return err
	}

	apply := func(c *Change) {
		if c == nil || c.Instance == instance || c.Digest == digest() {
			return
		}
		if err := reload(ctx); err != nil {
			slog.Error("failed to reload routing configuration",
				"from_instance", c.Instance,
				"version", c.Version,
				"error", err,
			)
			return
		}
		slog.Info("routing configuration reloaded",
			"from_instance", c.Instance,
			"digest", digest(),
		)
	}

	if latest, err := n.Latest(ctx); err != nil {
		slog.Warn("failed to read latest configuration change", "error", err)
	} else {
		apply(latest)
	}

	for c := range changes {
		apply(&c)
	}
	return nil
}
