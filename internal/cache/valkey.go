package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr      string
	Password  string
	DB        int
	ReplayTTL time.Duration
}

// ValkeyClient remembers which gateway outcomes were already reconciled so
// replays are short-circuited before touching the database.
type ValkeyClient struct {
	client *redis.Client
	ttl    time.Duration
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return newValkeyClient(rdb, cfg.ReplayTTL), nil
}

func newValkeyClient(rdb *redis.Client, ttl time.Duration) *ValkeyClient {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &ValkeyClient{client: rdb, ttl: ttl}
}

func ReplayKey(orderID, outcome string) string {
	return fmt.Sprintf("reconcile:%s:%s", orderID, outcome)
}

// Seen reports whether the outcome was already applied for the order.
func (v *ValkeyClient) Seen(ctx context.Context, orderID, outcome string) (bool, error) {
	n, err := v.client.Exists(ctx, ReplayKey(orderID, outcome)).Result()
	if err != nil {
		return false, fmt.Errorf("cache lookup error: %w", err)
	}
	return n > 0, nil
}

// Mark records the outcome; the first writer wins.
func (v *ValkeyClient) Mark(ctx context.Context, orderID, outcome string) error {
	err := v.client.SetNX(ctx, ReplayKey(orderID, outcome), time.Now().UTC().Format(time.RFC3339), v.ttl).Err()
	if err != nil {
		return fmt.Errorf("cache write error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) Close() error {
	return v.client.Close()
}
