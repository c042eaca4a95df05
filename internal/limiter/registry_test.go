package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, 6, r.Len())

	claim, ok := r.Lookup(PolicyUsernameClaim)
	require.True(t, ok)
	assert.Equal(t, 5, claim.Limit)
	assert.Equal(t, time.Hour, claim.Window)

	settings := r.MustLookup(PolicySettings)
	assert.Equal(t, 10, settings.Limit)

	_, ok = r.Lookup("nope")
	assert.False(t, ok)
	assert.Panics(t, func() { r.MustLookup("nope") })
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{
		PolicyBattery, PolicyOGImage, PolicySettings,
		PolicySticker, PolicyUsernameCheck, PolicyUsernameClaim,
	}, r.Names())

	ps := r.Policies()
	require.Len(t, ps, 6)
	assert.Equal(t, PolicyBattery, ps[0].Name)
}

func TestNewRegistry_Rejects(t *testing.T) {
	_, err := NewRegistry(Policy{Name: "a", Limit: 0, Window: time.Second})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewRegistry(Policy{Limit: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewRegistry(
		Policy{Name: "a", Limit: 1, Window: time.Second},
		Policy{Name: "a", Limit: 2, Window: time.Second},
	)
	assert.ErrorContains(t, err, "duplicate")
}
