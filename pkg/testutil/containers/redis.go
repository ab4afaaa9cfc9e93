//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"titledeed/internal/platform/config"
	platformredis "titledeed/internal/platform/redis"
)

// RedisContainer is a Redis server for lease tests, reached through the same
// client constructor the server uses.
type RedisContainer struct {
	container *tcredis.RedisContainer
	URL       string
	Client    *platformredis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	client, err := platformredis.New(ctx, config.RedisConfig{
		URL:         url,
		PoolSize:    4,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect redis: %v", err)
	}
	if err := client.Health(ctx); err != nil {
		t.Fatalf("redis health: %v", err)
	}

	// shared across suites by Manager; ryuk reaps the container
	return &RedisContainer{container: container, URL: url, Client: client}
}

// Reset drops every key so each test starts without leases.
func (r *RedisContainer) Reset(ctx context.Context) error {
	return r.Client.FlushDB(ctx).Err()
}
