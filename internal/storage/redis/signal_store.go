// Package redis keeps the refresh signal mailbox in a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultKey is used when Config.Key is empty.
const DefaultKey = "pricewatch:last_update_requested"

// Config holds connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Key      string
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// SignalStore implements tracker.SignalStore on top of Redis.
type SignalStore struct {
	client client
	key    string
}

var _ tracker.SignalStore = (*SignalStore)(nil)

// New dials Redis lazily; call Ping to check connectivity.
func New(cfg Config) (*SignalStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWithClient(c, cfg.Key), nil
}

func newWithClient(c client, key string) *SignalStore {
	if key == "" {
		key = DefaultKey
	}
	return &SignalStore{client: c, key: key}
}

// ReadSignal returns ok=false when the key does not exist.
func (s *SignalStore) ReadSignal(ctx context.Context) (tracker.UpdateSignal, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return tracker.UpdateSignal{}, false, nil
	}
	if err != nil {
		return tracker.UpdateSignal{}, false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return tracker.UpdateSignal{}, false, fmt.Errorf("parse signal %q: %w", raw, err)
	}
	return tracker.UpdateSignal{RequestedAt: at}, true, nil
}

// WriteSignal overwrites the key. The value never expires.
func (s *SignalStore) WriteSignal(ctx context.Context, signal tracker.UpdateSignal) error {
	value := signal.RequestedAt.UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, s.key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *SignalStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *SignalStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
