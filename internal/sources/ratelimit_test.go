package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemart/internal/models"
)

func handle(id string, capacity int, refill float64, maxWait time.Duration) models.SourceHandle {
	return models.SourceHandle{
		ID:        id,
		Kind:      models.SourceAPI,
		Priority:  1,
		RateLimit: models.RateLimit{Capacity: capacity, RefillRate: refill, MaxWait: maxWait},
	}
}

func TestBudgets_RejectsBeyondCapacity(t *testing.T) {
	b := NewBudgets()
	b.Register(handle("api", 2, 0.1, 0))

	ctx := context.Background()
	require.NoError(t, b.Acquire(ctx, "api"))
	require.NoError(t, b.Acquire(ctx, "api"))

	err := b.Acquire(ctx, "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, models.FailureRateLimited, KindOf(err))

	// the rejected reservation is returned to the bucket
	assert.Less(t, b.Tokens("api"), 1.0)
	assert.Greater(t, b.Tokens("api"), -0.5)
}

func TestBudgets_RefillsOverTime(t *testing.T) {
	b := NewBudgets()
	now := time.Now()
	b.now = func() time.Time { return now }
	b.Register(handle("api", 1, 1, 0))

	ctx := context.Background()
	require.NoError(t, b.Acquire(ctx, "api"))
	require.Error(t, b.Acquire(ctx, "api"))

	now = now.Add(1100 * time.Millisecond)
	assert.NoError(t, b.Acquire(ctx, "api"))
}

func TestBudgets_WaitsWithinMaxWait(t *testing.T) {
	b := NewBudgets()
	b.Register(handle("api", 1, 50, time.Second))

	ctx := context.Background()
	require.NoError(t, b.Acquire(ctx, "api"))

	start := time.Now()
	require.NoError(t, b.Acquire(ctx, "api"))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestBudgets_DeadlineBeforeToken(t *testing.T) {
	b := NewBudgets()
	b.Register(handle("api", 1, 1, 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Acquire(ctx, "api"))
	err := b.Acquire(ctx, "api")
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestBudgets_UnlimitedSource(t *testing.T) {
	b := NewBudgets()
	b.Register(handle("free", 0, 0, 0))

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Acquire(context.Background(), "free"))
	}
	assert.Equal(t, -1.0, b.Tokens("free"))
}
