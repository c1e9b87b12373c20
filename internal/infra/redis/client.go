package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/walletd/internal/core/domain"
)

// Config holds Redis connection configuration. An empty URL disables
// event publishing.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether a Redis URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// commander is the subset of redis.Cmdable used by Publisher.
type commander interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Publisher emits session events on a Redis pub/sub channel and keeps the
// latest balance snapshot per account under a key.
type Publisher struct {
	rdb     commander
	channel string
}

// NewClient creates a new Redis-backed publisher.
func NewClient(cfg Config) (*Publisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newPublisher(rdb, cfg.Channel), nil
}

func newPublisher(rdb commander, channel string) *Publisher {
	if channel == "" {
		channel = "walletd:events"
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Key helpers
func balanceKey(network, address string) string {
	return fmt.Sprintf("balance:%s:%s", network, address)
}

// Emit publishes the event as JSON. Balance events also refresh the
// account's latest snapshot.
func (p *Publisher) Emit(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if event.Type == domain.EventTypeBalanceUpdated && event.Balance != nil {
		snap, err := json.Marshal(event.Balance)
		if err != nil {
			return fmt.Errorf("failed to marshal balance: %w", err)
		}
		key := balanceKey(event.Network, event.Balance.Address)
		if err := p.rdb.Set(ctx, key, snap, 24*time.Hour).Err(); err != nil {
			return fmt.Errorf("failed to set balance: %w", err)
		}
	}
	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
