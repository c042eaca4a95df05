package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtualClock_Now(t *testing.T) {
	vc := NewVirtualClock(epoch)
	assert.True(t, vc.Now().Equal(epoch))
}

func TestVirtualClock_Advance(t *testing.T) {
	vc := NewVirtualClock(epoch)
	vc.Advance(1 * time.Hour)
	vc.Advance(30 * time.Minute)

	assert.True(t, vc.Now().Equal(epoch.Add(90*time.Minute)))
}

func TestVirtualClock_AdvanceNegativePanics(t *testing.T) {
	vc := NewVirtualClock(epoch)
	assert.Panics(t, func() { vc.Advance(-time.Second) })
}

func TestVirtualClock_Set(t *testing.T) {
	vc := NewVirtualClock(epoch)
	target := epoch.Add(24 * time.Hour)
	vc.Set(target)

	assert.True(t, vc.Now().Equal(target))
	assert.Panics(t, func() { vc.Set(epoch) })
}

func TestVirtualClockMillis(t *testing.T) {
	vc := NewVirtualClockMillis(0)
	assert.Equal(t, int64(0), NowMillis(vc))

	vc.Advance(61 * time.Second)
	assert.Equal(t, int64(61000), NowMillis(vc))
}

func TestOrReal(t *testing.T) {
	vc := NewVirtualClock(epoch)
	assert.Same(t, vc, OrReal(vc))
	assert.IsType(t, &RealClock{}, OrReal(nil))
}

func TestVirtualClock_ConcurrentAdvance(t *testing.T) {
	vc := NewVirtualClock(epoch)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vc.Advance(time.Second)
			_ = vc.Now()
		}()
	}
	wg.Wait()

	assert.True(t, vc.Now().Equal(epoch.Add(100*time.Second)))
}
