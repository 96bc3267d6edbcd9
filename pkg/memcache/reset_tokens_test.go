package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewResetTokens()

	require.NoError(t, s.Set(ctx, "tok", "acc-1", time.Minute))
	id, err := s.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id)

	id, err = s.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, _ = s.Consume(ctx, "unknown")
	assert.Empty(t, id)
}

func TestResetTokenExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s := NewResetTokens()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "tok", "acc-1", 30*time.Minute))
	now = now.Add(30 * time.Minute)

	id, err := s.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, s.data, "expired tokens are dropped on read")
}
