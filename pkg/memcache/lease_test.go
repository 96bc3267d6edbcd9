package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewLeases()

	ok, err := s.Acquire(ctx, "sweep", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.Acquire(ctx, "sweep", "b", time.Minute)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "sweep", "b"))
	ok, _ = s.Acquire(ctx, "sweep", "b", time.Minute)
	assert.False(t, ok, "release by a non-owner must not free the lease")

	require.NoError(t, s.Release(ctx, "sweep", "a"))
	ok, _ = s.Acquire(ctx, "sweep", "b", time.Minute)
	assert.True(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewLeases()
	s.now = func() time.Time { return now }

	ok, _ := s.Acquire(ctx, "k", "a", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.Acquire(ctx, "k", "b", time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep())
}
