package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
)

const (
	memoryShardCount = 32

	defaultCleanupInterval = 5 * time.Minute
)

// MemoryConfig configures the in-memory store.
type MemoryConfig struct {
	// CleanupInterval is how much store-clock time must pass between sweeps
	// of expired records.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	Clock           clock.Clock   `json:"-" yaml:"-"`
}

// MemoryStore keeps records in a sharded map local to this process.
//
// Read-modify-write of a key happens under its shard's mutex. Expired records
// are swept opportunistically: an Update that finds the cleanup interval
// elapsed starts one background sweep, which locks one shard at a time.
type MemoryStore struct {
	clock           clock.Clock
	cleanupInterval time.Duration
	shards          [memoryShardCount]memoryShard

	lastCleanup atomic.Int64 // unix nanos on the store clock
	sweeping    atomic.Bool
	sweeps      sync.WaitGroup
	closed      atomic.Bool
}

type memoryShard struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs a MemoryStore. A nil cfg uses defaults.
func NewMemoryStore(cfg *MemoryConfig) (*MemoryStore, error) {
	settings := MemoryConfig{CleanupInterval: defaultCleanupInterval}
	if cfg != nil {
		if cfg.CleanupInterval != 0 {
			settings.CleanupInterval = cfg.CleanupInterval
		}
		settings.Clock = cfg.Clock
	}
	if settings.CleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup_interval must be positive, got %s", settings.CleanupInterval)
	}

	s := &MemoryStore{
		clock:           clock.OrReal(settings.Clock),
		cleanupInterval: settings.CleanupInterval,
	}
	for i := range s.shards {
		s.shards[i].records = make(map[string]Record)
	}
	s.lastCleanup.Store(s.clock.Now().UnixNano())
	return s, nil
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return &s.shards[xxhash.Sum64String(key)%memoryShardCount]
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, rec Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	sh.records[key] = rec
	sh.mu.Unlock()
	return nil
}

// Update runs fn and stores its result while holding the key's shard lock.
func (s *MemoryStore) Update(ctx context.Context, key string, fn Mutator) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	var current *Record
	if rec, ok := sh.records[key]; ok {
		current = &rec
	}
	if next := fn(current); next != nil {
		sh.records[key] = *next
	}
	sh.mu.Unlock()

	s.maybeSweep()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.records, key)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

// maybeSweep starts a background sweep when the cleanup interval has elapsed
// and no sweep is running.
func (s *MemoryStore) maybeSweep() {
	now := s.clock.Now().UnixNano()
	last := s.lastCleanup.Load()
	if now-last < int64(s.cleanupInterval) {
		return
	}
	if s.closed.Load() || !s.lastCleanup.CompareAndSwap(last, now) {
		return
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		return
	}

	s.sweeps.Add(1)
	go func() {
		defer s.sweeps.Done()
		defer s.sweeping.Store(false)
		s.Sweep()
	}()
}

// Sweep removes every record whose window has ended and returns how many were
// removed.
func (s *MemoryStore) Sweep() int {
	nowMs := clock.NowMillis(s.clock)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, rec := range sh.records {
			if rec.Expired(nowMs) {
				delete(sh.records, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of records held, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Close stops further sweeps and waits for a running one to finish.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	s.sweeps.Wait()
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}
