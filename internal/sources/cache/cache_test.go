package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryCache() (*Cache, *MemoryStore, *clock) {
	clk := &clock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStoreWithClock(clk.now)
	return New(store, WithClock(clk.now)), store, clk
}

func products(titles ...string) []models.CandidateProduct {
	out := make([]models.CandidateProduct, len(titles))
	for i, title := range titles {
		out[i] = models.CandidateProduct{SourceID: "shop", ExternalID: title, Title: title, Price: 10, Currency: "USD"}
	}
	return out
}

func TestCache_PutGetExpire(t *testing.T) {
	c, _, clk := newMemoryCache()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "q1", "shop")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "q1", "shop", products("Nike Air Max 90"), time.Minute))

	entry, ok, err := c.Get(ctx, "q1", "shop")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Negative())
	require.Len(t, entry.Candidates, 1)
	assert.Equal(t, "Nike Air Max 90", entry.Candidates[0].Title)
	assert.Equal(t, clk.t, entry.FetchedAt)

	_, ok, _ = c.Get(ctx, "q1", "other")
	assert.False(t, ok)

	clk.advance(59 * time.Second)
	_, ok, _ = c.Get(ctx, "q1", "shop")
	assert.True(t, ok)

	clk.advance(time.Second)
	_, ok, _ = c.Get(ctx, "q1", "shop")
	assert.False(t, ok)
}

func TestCache_EmptyAnswerIsCached(t *testing.T) {
	c, _, _ := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "q1", "shop", nil, time.Minute))
	entry, ok, err := c.Get(ctx, "q1", "shop")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, entry.Candidates)
}

func TestCache_LastWriterWins(t *testing.T) {
	c, _, _ := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "q1", "shop", products("old"), time.Minute))
	require.NoError(t, c.Put(ctx, "q1", "shop", products("new"), time.Minute))

	entry, _, _ := c.Get(ctx, "q1", "shop")
	assert.Equal(t, "new", entry.Candidates[0].Title)
}

func TestCache_NegativeEntries(t *testing.T) {
	c, _, clk := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.PutFailure(ctx, "q1", "shop", models.FailureUpstreamError, "502", c.NegativeTTL(0)))

	entry, ok, err := c.Get(ctx, "q1", "shop")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entry.Negative())
	assert.Equal(t, models.FailureUpstreamError, entry.Failure.Kind)
	assert.Equal(t, "502", entry.Failure.Message)

	clk.advance(DefaultNegativeTTL)
	_, ok, _ = c.Get(ctx, "q1", "shop")
	assert.False(t, ok)
}

func TestCache_ZeroTTLIsNotStored(t *testing.T) {
	c, store, _ := newMemoryCache()
	require.NoError(t, c.Put(context.Background(), "q1", "shop", products("x"), 0))
	assert.Zero(t, store.Len())
}

func TestCache_CorruptEntry(t *testing.T) {
	c, store, _ := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, c.StoreKey("q1", "shop"), []byte("{not json"), time.Minute))

	_, ok, err := c.Get(ctx, "q1", "shop")
	assert.False(t, ok)
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeCacheCorruption, stdErr.Code)
	assert.False(t, stdErr.Retryable)
}

func TestCache_KeysAndTTLs(t *testing.T) {
	c := New(NewMemoryStore(), WithTTLs(0, 2*time.Minute, 0))

	assert.Equal(t, "voicemart:candidates:shop:abc", c.StoreKey("abc", "shop"))
	assert.Equal(t, DefaultScrapeTTL, c.TTLFor(models.SourceScrape, 0))
	assert.Equal(t, 2*time.Minute, c.TTLFor(models.SourceAPI, 0))
	assert.Equal(t, 10*time.Second, c.TTLFor(models.SourceAPI, 10*time.Second))
	assert.Equal(t, DefaultNegativeTTL, c.NegativeTTL(0))

	prefixed := New(NewMemoryStore(), WithKeyPrefix("test"))
	assert.Equal(t, "test:shop:abc", prefixed.StoreKey("abc", "shop"))
}

func TestMemoryStore_Sweep(t *testing.T) {
	clk := &clock{t: time.Now()}
	s := NewMemoryStoreWithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))

	clk.advance(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_SetReclaimsExpiredKeys(t *testing.T) {
	clk := &clock{t: time.Now()}
	s := NewMemoryStoreWithClock(clk.now)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("q%d", i), []byte("x"), time.Second))
	}
	assert.Equal(t, 1000, s.Len())

	clk.advance(time.Hour)
	require.NoError(t, s.Set(ctx, "fresh", []byte("y"), time.Hour))
	assert.Equal(t, 1, s.Len())

	_, ok, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_SweepIsRateLimited(t *testing.T) {
	clk := &clock{t: time.Now()}
	s := NewMemoryStoreWithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	clk.advance(2 * time.Second)
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	assert.Equal(t, 2, s.Len(), "no sweep before the interval elapses")

	clk.advance(SweepInterval)
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Hour))
	assert.Equal(t, 2, s.Len())
}

func TestRedisStore_RoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := New(NewRedisStore(client))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "q1", "partner", products("Nike Pegasus 40"), 5*time.Minute))
	assert.True(t, mr.Exists("voicemart:candidates:partner:q1"))
	assert.Equal(t, 5*time.Minute, mr.TTL("voicemart:candidates:partner:q1"))

	entry, ok, err := c.Get(ctx, "q1", "partner")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Nike Pegasus 40", entry.Candidates[0].Title)

	mr.FastForward(5 * time.Minute)
	_, ok, err = c.Get(ctx, "q1", "partner")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_TransportErrorIsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("voicemart:candidates:partner:q1").SetErr(errors.New("connection refused"))

	c := New(NewRedisStore(client), WithLogger(logger.NewTestLogger(t)))

	_, ok, err := c.Get(context.Background(), "q1", "partner")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Miss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("k").RedisNil()

	value, ok, err := NewRedisStore(client).Get(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}
