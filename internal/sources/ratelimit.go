package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voicemart/internal/models"
)

type budget struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// Budgets holds one token bucket per source, shared by every request that
// touches the source.
type Budgets struct {
	mu      sync.RWMutex
	buckets map[string]*budget
	now     func() time.Time
}

func NewBudgets() *Budgets {
	return &Budgets{
		buckets: make(map[string]*budget),
		now:     time.Now,
	}
}

// Register installs the bucket for a source. A zero capacity means unlimited.
func (b *Budgets) Register(h models.SourceHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h.RateLimit.Capacity <= 0 {
		delete(b.buckets, h.ID)
		return
	}
	b.buckets[h.ID] = &budget{
		limiter: rate.NewLimiter(rate.Limit(h.RateLimit.RefillRate), h.RateLimit.Capacity),
		maxWait: h.RateLimit.MaxWait,
	}
}

// Acquire takes one token for sourceID. When the token would arrive later
// than maxWait, or after ctx's deadline, the reservation is returned and the
// call fails without waiting.
func (b *Budgets) Acquire(ctx context.Context, sourceID string) error {
	b.mu.RLock()
	bucket, ok := b.buckets[sourceID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	now := b.now()
	r := bucket.limiter.ReserveN(now, 1)
	if !r.OK() {
		return newError(sourceID, models.FailureRateLimited, fmt.Errorf("request exceeds bucket capacity"))
	}

	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if delay > bucket.maxWait {
		r.CancelAt(now)
		return newError(sourceID, models.FailureRateLimited, fmt.Errorf("next token in %s exceeds max wait %s", delay, bucket.maxWait))
	}
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(now.Add(delay)) {
		r.CancelAt(now)
		return newError(sourceID, models.FailureTimeout, fmt.Errorf("deadline before next token"))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return newError(sourceID, models.FailureTimeout, ctx.Err())
	}
}

// Tokens reports the tokens currently available to sourceID, or -1 when the
// source is unlimited.
func (b *Budgets) Tokens(sourceID string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bucket, ok := b.buckets[sourceID]
	if !ok {
		return -1
	}
	return bucket.limiter.TokensAt(b.now())
}
