package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
	"github.com/SmitUplenchwar2687/Throttle/internal/storage"
)

var errDown = errors.New("connection refused")

// failingStore is a shared store whose every operation fails.
type failingStore struct {
	updates atomic.Int32
	closed  atomic.Bool
}

func (s *failingStore) Get(context.Context, string) (*storage.Record, error) { return nil, errDown }
func (s *failingStore) Set(context.Context, string, storage.Record) error    { return errDown }
func (s *failingStore) Delete(context.Context, string) error                 { return errDown }
func (s *failingStore) Ping(context.Context) error                           { return errDown }

func (s *failingStore) Update(context.Context, string, storage.Mutator) error {
	s.updates.Add(1)
	return errDown
}

func (s *failingStore) Close() error {
	s.closed.Store(true)
	return nil
}

func newLocal(t *testing.T, c clock.Clock) *storage.MemoryStore {
	t.Helper()
	s, err := storage.NewMemoryStore(&storage.MemoryConfig{Clock: c})
	require.NoError(t, err)
	return s
}

func newTestLimiter(t *testing.T, opts Options) *Limiter {
	t.Helper()
	l, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLimiter_LocalMode(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	l := newTestLimiter(t, Options{Clock: vc})
	assert.Equal(t, ModeLocal, l.Mode())
	require.NoError(t, l.Ping(ctx))

	p := Policy{Name: "test", Limit: 3, Window: time.Minute}
	var got []Decision
	for i := 0; i < 4; i++ {
		got = append(got, l.Allow(ctx, "1.2.3.4", p))
		vc.Advance(time.Second)
	}
	assert.Equal(t, []int{2, 1, 0, 0}, []int{got[0].Remaining, got[1].Remaining, got[2].Remaining, got[3].Remaining})
	assert.True(t, got[2].Allowed)
	assert.False(t, got[3].Allowed)
	for _, d := range got {
		assert.Equal(t, epoch.UnixMilli()+60_000, d.Reset)
	}

	vc.Set(epoch.Add(61 * time.Second))
	d := l.Allow(ctx, "1.2.3.4", p)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, epoch.UnixMilli()+121_000, d.Reset)
}

func TestLimiter_PoliciesAndIdentifiersIndependent(t *testing.T) {
	l := newTestLimiter(t, Options{Clock: clock.NewVirtualClock(epoch)})
	a := Policy{Name: "a", Limit: 1, Window: time.Minute}
	b := Policy{Name: "b", Limit: 1, Window: time.Minute}

	assert.True(t, l.Allow(ctx, "x", a).Allowed)
	assert.False(t, l.Allow(ctx, "x", a).Allowed)
	assert.True(t, l.Allow(ctx, "x", b).Allowed)
	assert.True(t, l.Allow(ctx, "y", a).Allowed)
	assert.True(t, l.Allow(ctx, "X", a).Allowed, "identifiers are case-sensitive")
}

func TestLimiter_SharedMode(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	shared := newLocal(t, vc)
	local := newLocal(t, vc)
	l := newTestLimiter(t, Options{Shared: shared, Local: local, Clock: vc})
	assert.Equal(t, ModeShared, l.Mode())

	p := Policy{Name: "test", Limit: 5, Window: time.Minute}
	d := l.Allow(ctx, "k", p)
	assert.True(t, d.Allowed)

	rec, err := shared.Get(ctx, "test:k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Count)
	assert.Zero(t, local.Len(), "local counters untouched while shared store is healthy")
}

func TestLimiter_FallsBackOnSharedFailure(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	shared := &failingStore{}
	local := newLocal(t, vc)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	var events []Event
	l := newTestLimiter(t, Options{
		Shared:     shared,
		Local:      local,
		Clock:      vc,
		Metrics:    m,
		OnDecision: func(e Event) { events = append(events, e) },
	})

	p := Policy{Name: "test", Limit: 2, Window: time.Minute}
	d := l.Allow(ctx, "k", p)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.True(t, l.Allow(ctx, "k", p).Allowed)
	assert.False(t, l.Allow(ctx, "k", p).Allowed, "local counters enforce the limit during an outage")

	assert.EqualValues(t, 3, shared.updates.Load())
	assert.Equal(t, float64(3), testutil.ToFloat64(m.fallbacks.WithLabelValues("test")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.decisions.WithLabelValues("test", "allowed", "local")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.decisions.WithLabelValues("test", "denied", "local")))

	require.Len(t, events, 3)
	for _, e := range events {
		assert.True(t, e.Fallback)
		assert.Equal(t, ModeLocal, e.Mode)
		assert.Equal(t, "test", e.Policy)
		assert.Equal(t, "k", e.Identifier)
		assert.NotEmpty(t, e.ID)
	}
	assert.NotEqual(t, events[0].ID, events[1].ID)

	require.ErrorIs(t, l.Ping(ctx), errDown)
	require.NoError(t, l.Close())
	assert.True(t, shared.closed.Load())
}

func TestLimiter_FallbackIgnoresCanceledContext(t *testing.T) {
	l := newTestLimiter(t, Options{Shared: &failingStore{}, Clock: clock.NewVirtualClock(epoch)})
	p := Policy{Name: "test", Limit: 1, Window: time.Minute}

	cctx, cancel := context.WithCancel(ctx)
	cancel()

	assert.True(t, l.Allow(cctx, "k", p).Allowed)
	assert.False(t, l.Allow(cctx, "k", p).Allowed)
}

func TestLimiter_UnreachableRedisFallsBack(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	shared, err := storage.NewRedisStore(&storage.RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		Timeout:     200 * time.Millisecond,
		DialTimeout: 100 * time.Millisecond,
		Clock:       vc,
	})
	require.NoError(t, err)

	m := NewMetrics(nil)
	l := newTestLimiter(t, Options{Shared: shared, Clock: vc, Metrics: m})

	p := Policy{Name: PolicyBattery, Limit: 30, Window: time.Minute}
	d := l.Allow(ctx, "1.2.3.4", p)
	assert.True(t, d.Allowed)
	assert.Equal(t, 29, d.Remaining)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.fallbacks.WithLabelValues(PolicyBattery)))
}

func TestLimiter_InvalidPolicyDenies(t *testing.T) {
	var events int
	l := newTestLimiter(t, Options{
		Clock:      clock.NewVirtualClock(epoch),
		OnDecision: func(Event) { events++ },
	})

	d := l.Allow(ctx, "k", Policy{Name: "bad", Limit: 0, Window: time.Minute})
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Zero(t, events)
}

func TestLimiter_AllowNamed(t *testing.T) {
	l := newTestLimiter(t, Options{Clock: clock.NewVirtualClock(epoch)})

	d, err := l.AllowNamed(ctx, "user-1", PolicyUsernameClaim)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, epoch.Add(time.Hour).UnixMilli(), d.Reset)

	_, err = l.AllowNamed(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestLimiter_ConcurrentAdmitsExactlyLimit(t *testing.T) {
	l := newTestLimiter(t, Options{Clock: clock.NewVirtualClock(epoch)})
	p := Policy{Name: "test", Limit: 25, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "hot", p).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 25, allowed.Load())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeDecision("p", ModeLocal, Decision{Allowed: true})
		m.observeFallback("p")
		m.observeStore(ModeShared, time.Millisecond)
	})
}

func TestMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.observeDecision("p", ModeShared, Decision{Allowed: false})
	m.observeStore(ModeShared, time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "throttle_decisions_total", "throttle_store_operation_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration")
}
