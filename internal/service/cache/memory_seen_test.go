package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySeenStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemorySeenStore(func() time.Time { return now })
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "e1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkSeen(ctx, "e1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	now = now.Add(2 * time.Hour)
	expired, err := s.MarkSeen(ctx, "e1", time.Hour)
	require.NoError(t, err)
	assert.True(t, expired, "id is forgotten once its ttl passes")

	require.NoError(t, s.Forget(ctx, "e1"))
	afterForget, err := s.MarkSeen(ctx, "e1", 0)
	require.NoError(t, err)
	assert.True(t, afterForget)
	assert.Equal(t, 1, s.Len())
}
