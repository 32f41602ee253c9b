package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Config addresses the redis instance shared by the snapshot cache and the job queue.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects and pings redis. The client is closed when the ping fails.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("costing/cache: ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}
