package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
)

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(nil)
	require.Error(t, err)

	_, err = NewRedisStore(&RedisConfig{})
	require.Error(t, err)

	_, err = NewRedisStore(&RedisConfig{URL: "http://not-redis"})
	require.Error(t, err)
}

func TestNewRedisStore_Defaults(t *testing.T) {
	s, err := NewRedisStore(&RedisConfig{URL: "redis://localhost:6379/0", Token: "secret"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "ratelimit:settings:u1", s.Key("settings:u1"))
	assert.Equal(t, defaultRedisTimeout, s.timeout)
	assert.Equal(t, defaultRedisMaxRetries, s.maxRetries)
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, err := NewRedisStore(&RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		Timeout:     200 * time.Millisecond,
		DialTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()

	err = s.Update(context.Background(), "k", func(*Record) *Record {
		return &Record{Count: 1, ResetAt: time.Now().Add(time.Minute).UnixMilli()}
	})
	require.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
	assert.Error(t, s.WaitReady(context.Background(), 2))
}

func TestRedisStore_Close_Idempotent(t *testing.T) {
	s, err := NewRedisStore(&RedisConfig{URL: "redis://localhost:6379"})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestRedisStore_UpdateWritesTTL(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	s, cleanup := newRedisStoreForTest(t, vc)
	defer cleanup()

	nowMs := vc.Now().UnixMilli()
	require.NoError(t, s.Update(context.Background(), "ttl", increment(30_000, nowMs)))

	ttl, err := s.TTL(context.Background(), "ttl")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 30*time.Second)
	assert.Greater(t, ttl, 25*time.Second)

	rec, err := s.Get(context.Background(), "ttl")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, Record{Count: 1, ResetAt: nowMs + 30_000}, *rec)
}

func TestRedisStore_UpdateKeepsResetAt(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	s, cleanup := newRedisStoreForTest(t, vc)
	defer cleanup()

	start := vc.Now().UnixMilli()
	require.NoError(t, s.Update(context.Background(), "k", increment(60_000, start)))
	vc.Advance(20 * time.Second)
	require.NoError(t, s.Update(context.Background(), "k", increment(60_000, vc.Now().UnixMilli())))

	rec, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, start+60_000, rec.ResetAt)

	ttl, err := s.TTL(context.Background(), "k")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 40*time.Second)
}

func TestRedisStore_ConcurrentUpdate(t *testing.T) {
	s, cleanup := newRedisStoreForTest(t, nil)
	defer cleanup()
	s.maxRetries = 50

	nowMs := time.Now().UnixMilli()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(context.Background(), "hot", increment(60_000, nowMs)))
		}()
	}
	wg.Wait()

	rec, err := s.Get(context.Background(), "hot")
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Count)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	s, cleanup := newRedisStoreForTest(t, nil)
	defer cleanup()

	require.NoError(t, s.client.Set(context.Background(), s.Key("bad"), "not-json", time.Minute).Err())
	_, err := s.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.Error(t, s.Update(context.Background(), "bad", increment(1, 1)))
}
