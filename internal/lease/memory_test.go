package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsimport/internal/clock"
)

func TestMemory_Acquire(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	ok, err := m.Acquire(ctx, "ics-import", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, "ics-import", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition within the ttl")

	ok, err = m.Acquire(ctx, "other", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "leases are independent by name")

	clk.Advance(59 * time.Minute)
	ok, _ = m.Acquire(ctx, "ics-import", time.Hour)
	assert.False(t, ok)

	clk.Advance(time.Minute)
	ok, _ = m.Acquire(ctx, "ics-import", time.Hour)
	assert.True(t, ok, "expired lease is taken over")

	until, err := m.HeldUntil(ctx, "ics-import")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), until)

	until, err = m.HeldUntil(ctx, "never")
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}

func TestMemory_ZeroTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(clock.NewFixed(time.Unix(0, 0)))

	ok, _ := m.Acquire(ctx, "x", 0)
	assert.True(t, ok)
	ok, _ = m.Acquire(ctx, "x", 0)
	assert.True(t, ok, "a zero ttl never blocks")
}
