package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
)

const (
	defaultRedisKeyPrefix   = "ratelimit:"
	defaultRedisTimeout     = 500 * time.Millisecond
	defaultRedisDialTimeout = 2 * time.Second
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
)

// RedisConfig configures the shared Redis store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string `json:"url" yaml:"url"`
	// Token is the access password. When set it replaces any password in URL.
	Token string `json:"-" yaml:"-"`
	// KeyPrefix namespaces every key written by the store.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// Timeout bounds each Update, Get, Set and Delete call.
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	PoolSize    int           `json:"pool_size" yaml:"pool_size"`
	// MaxRetries is the number of optimistic transaction attempts per Update.
	MaxRetries int         `json:"max_retries" yaml:"max_retries"`
	Clock      clock.Clock `json:"-" yaml:"-"`
}

// RedisStore keeps records in Redis so every instance sees the same counters.
// Records are JSON values written with a PX expiry equal to the time left in
// their window, so expired windows disappear without a sweep.
type RedisStore struct {
	client     redis.UniversalClient
	clock      clock.Clock
	prefix     string
	timeout    time.Duration
	maxRetries int

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore constructs a Redis store. It does not contact the server;
// call Ping or WaitReady to check reachability.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if conf.Token != "" {
		opts.Password = conf.Token
	}
	opts.PoolSize = conf.PoolSize
	opts.DialTimeout = conf.DialTimeout
	opts.ReadTimeout = conf.Timeout
	opts.WriteTimeout = conf.Timeout
	opts.MaxRetries = -1 // a failed call falls back to local counters instead

	return newRedisStore(redis.NewClient(opts), conf), nil
}

// NewRedisStoreFromClient wraps an existing client. cfg may be nil.
func NewRedisStoreFromClient(client redis.UniversalClient, cfg *RedisConfig) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	conf := RedisConfig{URL: "redis://client"}
	if cfg != nil {
		conf = *cfg
		conf.URL = "redis://client"
	}
	normalized, err := normalizeRedisConfig(&conf)
	if err != nil {
		return nil, err
	}
	return newRedisStore(client, normalized), nil
}

func newRedisStore(client redis.UniversalClient, conf *RedisConfig) *RedisStore {
	return &RedisStore{
		client:     client,
		clock:      clock.OrReal(conf.Clock),
		prefix:     conf.KeyPrefix,
		timeout:    conf.Timeout,
		maxRetries: conf.MaxRetries,
	}
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = defaultRedisKeyPrefix
	}
	if conf.Timeout <= 0 {
		conf.Timeout = defaultRedisTimeout
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	return &conf, nil
}

// Key returns the Redis key used for a store key.
func (s *RedisStore) Key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := loadRecord(ctx, s.client, s.Key(key))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", s.Key(key), err)
	}
	return rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(key), val, s.ttl(rec)).Err(); err != nil {
		return fmt.Errorf("writing %q: %w", s.Key(key), err)
	}
	return nil
}

// Update applies fn inside a WATCH/MULTI transaction on the key. A transaction
// that loses a race is retried up to MaxRetries times before ErrConflict is
// returned.
func (s *RedisStore) Update(ctx context.Context, key string, fn Mutator) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	redisKey := s.Key(key)
	txf := func(tx *redis.Tx) error {
		current, err := loadRecord(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		next := fn(current)
		if next == nil {
			return nil
		}

		val, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, val, s.ttl(*next))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("updating %q: %w", redisKey, err)
	}
	return fmt.Errorf("updating %q after %d attempts: %w", redisKey, s.maxRetries, ErrConflict)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.Key(key)).Err(); err != nil {
		return fmt.Errorf("deleting %q: %w", s.Key(key), err)
	}
	return nil
}

// TTL returns the remaining expiry Redis holds for key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.PTTL(ctx, s.Key(key)).Result()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// WaitReady pings up to attempts times with exponential backoff starting at
// 100ms and returns the last error.
func (s *RedisStore) WaitReady(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// ttl is the time left until rec's window ends, at least one millisecond.
func (s *RedisStore) ttl(rec Record) time.Duration {
	ms := rec.ResetAt - clock.NowMillis(s.clock)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRecord(ctx context.Context, g getter, key string) (*Record, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %q: %w", key, err)
	}
	return &rec, nil
}
