// Package cache stores source results per (source, query) with a TTL, and
// remembers recent source failures so a failing source is not hammered.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/metrics"
	"voicemart/internal/models"
)

const (
	DefaultKeyPrefix   = "voicemart:candidates"
	DefaultScrapeTTL   = time.Hour
	DefaultAPITTL      = 5 * time.Minute
	DefaultNegativeTTL = 30 * time.Second
)

// Store is the byte-level substrate under the cache. Get reports a miss with
// ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Option func(*Cache)

func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTLs overrides the per-kind defaults. Zero values keep the default.
func WithTTLs(scrape, api, negative time.Duration) Option {
	return func(c *Cache) {
		if scrape > 0 {
			c.scrapeTTL = scrape
		}
		if api > 0 {
			c.apiTTL = api
		}
		if negative > 0 {
			c.negativeTTL = negative
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock replaces time.Now for FetchedAt stamps and freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache is safe for concurrent use. Writes are last-writer-wins.
type Cache struct {
	store       Store
	prefix      string
	scrapeTTL   time.Duration
	apiTTL      time.Duration
	negativeTTL time.Duration
	logger      logger.Logger
	now         func() time.Time
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		prefix:      DefaultKeyPrefix,
		scrapeTTL:   DefaultScrapeTTL,
		apiTTL:      DefaultAPITTL,
		negativeTTL: DefaultNegativeTTL,
		logger:      logger.NewNoOpLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StoreKey is the substrate key for a source's answer to a query.
func (c *Cache) StoreKey(queryKey, sourceID string) string {
	return c.prefix + ":" + sourceID + ":" + queryKey
}

// TTLFor returns override when set, else the default for the source kind.
func (c *Cache) TTLFor(kind models.SourceKind, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if kind == models.SourceScrape {
		return c.scrapeTTL
	}
	return c.apiTTL
}

func (c *Cache) NegativeTTL(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return c.negativeTTL
}

// Get returns the live entry for (queryKey, sourceID). Store outages are
// reported as misses. An entry that cannot be decoded is a cache corruption
// fault.
func (c *Cache) Get(ctx context.Context, queryKey, sourceID string) (models.CacheEntry, bool, error) {
	key := c.StoreKey(queryKey, sourceID)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("Result cache unavailable, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return models.CacheEntry{}, false, nil
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return models.CacheEntry{}, false, nil
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.SourceID != sourceID {
		if err == nil {
			err = errSourceMismatch(entry.SourceID, sourceID)
		}
		return models.CacheEntry{}, false, apperrors.NewCacheCorruptionError(key, err)
	}

	if entry.TTL > 0 && c.now().After(entry.FetchedAt.Add(entry.TTL)) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return models.CacheEntry{}, false, nil
	}

	if entry.Negative() {
		metrics.CacheLookups.WithLabelValues("negative").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	}
	return entry, true, nil
}

// Put stores candidates for ttl. An empty candidate list is a valid answer
// and is cached too.
func (c *Cache) Put(ctx context.Context, queryKey, sourceID string, candidates []models.CandidateProduct, ttl time.Duration) error {
	if candidates == nil {
		candidates = []models.CandidateProduct{}
	}
	return c.put(ctx, models.CacheEntry{
		Key:        queryKey,
		SourceID:   sourceID,
		Candidates: candidates,
		FetchedAt:  c.now(),
		TTL:        ttl,
	})
}

// PutFailure stores a negative marker so the source is skipped for ttl.
func (c *Cache) PutFailure(ctx context.Context, queryKey, sourceID string, kind models.FailureKind, message string, ttl time.Duration) error {
	now := c.now()
	return c.put(ctx, models.CacheEntry{
		Key:       queryKey,
		SourceID:  sourceID,
		FetchedAt: now,
		TTL:       ttl,
		Failure:   &models.FailureMarker{Kind: kind, Message: message, FailedAt: now},
	})
}

func (c *Cache) put(ctx context.Context, entry models.CacheEntry) error {
	if entry.TTL <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := c.StoreKey(entry.Key, entry.SourceID)
	if err := c.store.Set(ctx, key, raw, entry.TTL); err != nil {
		c.logger.Warn("Failed to write result cache", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

func errSourceMismatch(got, want string) error {
	return fmt.Errorf("entry belongs to source %q, not %q", got, want)
}
