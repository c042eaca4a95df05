package storage

import (
	"context"
	"testing"
	"time"

	testcontainers "github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
)

func newRedisStoreForTest(t *testing.T, c clock.Clock) (*RedisStore, func()) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := rediscontainer.Run(ctx, "redis:7.2-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("container connection string: %v", err)
	}

	store, err := NewRedisStore(&RedisConfig{
		URL:       url,
		KeyPrefix: "test:ratelimit:",
		Timeout:   2 * time.Second,
		Clock:     c,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("NewRedisStore() error: %v", err)
	}
	if err := store.WaitReady(ctx, 5); err != nil {
		_ = store.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("redis not ready: %v", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = container.Terminate(context.Background())
	}
	return store, cleanup
}
