package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultChannel is the pub/sub channel carrying configuration changes.
	DefaultChannel = "aigateway:config"

	// DefaultRedisTTL bounds how long the latest change is remembered.
	DefaultRedisTTL = 24 * time.Hour
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Channel is the pub/sub channel (defaults to "aigateway:config").
	// The latest change is also stored under the same name as a key.
	Channel string

	// TTL is the time-to-live of the stored latest change (defaults to 24 hours)
	TTL time.Duration
}

// RedisNotifier implements Notifier with Redis pub/sub for multi-instance
// deployments behind a load balancer.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultRedisTTL
	}

	slog.Info("redis notifier connected", "channel", channel)

	return &RedisNotifier{client: client, channel: channel, ttl: ttl}, nil
}

// Publish implements Notifier.
func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	_, err = n.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, n.channel, data, n.ttl)
		p.Publish(ctx, n.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish change to redis: %w", err)
	}
	return nil
}

// Subscribe implements Notifier.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := n.client.Subscribe(ctx, n.channel)
	// Receive waits for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to redis channel: %w", err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					slog.Warn("ignoring malformed configuration change", "error", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Latest implements Notifier.
func (n *RedisNotifier) Latest(ctx context.Context) (*Change, error) {
	data, err := n.client.Get(ctx, n.channel).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest change from redis: %w", err)
	}
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse latest change: %w", err)
	}
	return &c, nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}
