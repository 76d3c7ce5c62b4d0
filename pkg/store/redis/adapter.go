// Package redis connects to the Redis instance used for cross-instance change fan-out
// (pub/sub) and for short-lived job claims.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalmax/signalmax/pkg/observability/logger"
)

// Config holds Redis connection configuration.
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
	// Prefix namespaces every channel and key ("signalmax" when empty).
	Prefix string
}

// Adapter wraps a pooled Redis client.
type Adapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// NewAdapter parses cfg.URL, configures the pool and verifies the connection.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log = logger.OrNop(log)
	log.Info("Redis connection established", "max_conns", opts.PoolSize, "operation_timeout", cfg.OperationTimeout)
	return NewFromClient(client, cfg, log), nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(client *redis.Client, cfg Config, log logger.Logger) *Adapter {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "signalmax"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}
	return &Adapter{client: client, logger: logger.OrNop(log), config: cfg}
}

// Client returns the underlying client.
func (a *Adapter) Client() *redis.Client {
	return a.client
}

// Key joins parts under the configured prefix.
func (a *Adapter) Key(parts ...string) string {
	return a.config.Prefix + ":" + strings.Join(parts, ":")
}

// Publish sends payload on channel. The channel name is used as given.
func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	cctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()
	if err := a.client.Publish(cctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub connection on channels and waits for the confirmation,
// so no message published after it returns is missed.
func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	pubsub := a.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}
	return pubsub, nil
}

// Claim sets key only when absent. It returns false when another holder owns it.
func (a *Adapter) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()
	ok, err := a.client.SetNX(cctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim.
func (a *Adapter) Release(ctx context.Context, key string) error {
	cctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()
	if err := a.client.Del(cctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// HealthCheck pings with a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("Redis connection closed")
	return nil
}
