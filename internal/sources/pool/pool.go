// Package pool fans a structured query out to every configured source under
// one deadline, consulting the result cache and the per-source budgets first.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/metrics"
	"voicemart/internal/common/observability"
	"voicemart/internal/models"
	"voicemart/internal/sources"
	"voicemart/internal/sources/cache"
)

const (
	DefaultMaxConcurrency = 8
	DefaultSourceTimeout  = 3 * time.Second
)

// Shared is the process-wide state every resolution goes through. Build it
// once and hand it to each Pool.
type Shared struct {
	Cache   *cache.Cache
	Budgets *sources.Budgets
}

// NewShared registers a budget for every configured source.
func NewShared(c *cache.Cache, configured []sources.Configured) *Shared {
	budgets := sources.NewBudgets()
	for _, src := range configured {
		budgets.Register(src.Connector.Handle())
	}
	return &Shared{Cache: c, Budgets: budgets}
}

// Resolution is what a pool hands to the aggregator. Batches hold every
// source that answered or failed before the deadline; cut-off sources only
// appear in Reports.
type Resolution struct {
	Batches []models.SourceBatch
	Reports []models.SourceReport
	CutOff  bool
}

type Option func(*Pool)

func WithMaxConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxConcurrency = n
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

type Pool struct {
	shared         *Shared
	sources        []sources.Configured
	maxConcurrency int
	logger         logger.Logger
}

func New(shared *Shared, configured []sources.Configured, opts ...Option) *Pool {
	p := &Pool{
		shared:         shared,
		sources:        configured,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size is the number of configured sources.
func (p *Pool) Size() int {
	return len(p.sources)
}

type task struct {
	report models.SourceReport
	batch  *models.SourceBatch
	fault  error
	cutOff bool
}

// Resolve queries every source, returning once all have reported or the
// deadline passes, whichever comes first. Results arriving after the
// deadline are dropped. The only error is a PipelineFault.
func (p *Pool) Resolve(ctx context.Context, q *models.StructuredQuery, deadline time.Duration) (*Resolution, error) {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		sealed  bool
		results = make([]*task, len(p.sources))
	)

	sem := semaphore.NewWeighted(int64(p.maxConcurrency))
	var g errgroup.Group
	for i, src := range p.sources {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			t := p.resolveOne(ctx, q, src)

			mu.Lock()
			defer mu.Unlock()
			if !sealed && !t.cutOff {
				results[i] = t
			}
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	sealed = true
	mu.Unlock()

	res := &Resolution{}
	for i, src := range p.sources {
		t := results[i]
		if t == nil {
			res.CutOff = true
			id := src.Connector.Handle().ID
			metrics.ConnectorCalls.WithLabelValues(id, string(models.OutcomeCutOff)).Inc()
			res.Reports = append(res.Reports, models.SourceReport{
				SourceID: id,
				Outcome:  models.OutcomeCutOff,
			})
			continue
		}
		if t.fault != nil {
			return nil, t.fault
		}
		res.Reports = append(res.Reports, t.report)
		if t.batch != nil {
			res.Batches = append(res.Batches, *t.batch)
		}
	}

	if res.CutOff {
		p.logger.Warn("Resolve deadline reached before every source reported", map[string]interface{}{
			"deadline": deadline.String(),
			"sources":  len(p.sources),
			"answered": len(res.Batches),
		})
	}
	return res, nil
}

func (p *Pool) resolveOne(ctx context.Context, q *models.StructuredQuery, src sources.Configured) *task {
	h := src.Connector.Handle()
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "source.resolve",
		attribute.String("source", h.ID),
		attribute.String("kind", string(h.Kind)),
	)
	defer span.End()

	key := q.Key()

	entry, hit, err := p.shared.Cache.Get(ctx, key, h.ID)
	if err != nil {
		p.logger.Error("Result cache entry is corrupt", map[string]interface{}{
			"source": h.ID,
			"key":    key,
			"error":  err.Error(),
		})
		return &task{fault: apperrors.NewPipelineFaultError("resolve", err)}
	}
	if hit {
		if entry.Negative() {
			metrics.ConnectorCalls.WithLabelValues(h.ID, string(models.OutcomeNegativeCached)).Inc()
			return p.failed(h, models.OutcomeNegativeCached, entry.Failure.Kind, entry.Failure.Message, start)
		}
		metrics.ConnectorCalls.WithLabelValues(h.ID, string(models.OutcomeCached)).Inc()
		return p.answered(h, models.OutcomeCached, entry.Candidates, start)
	}

	if err := p.shared.Budgets.Acquire(ctx, h.ID); err != nil {
		kind := sources.KindOf(err)
		if kind == models.FailureRateLimited {
			metrics.RateLimitRejections.WithLabelValues(h.ID).Inc()
		} else if ctx.Err() != nil {
			return &task{cutOff: true}
		}
		metrics.ConnectorCalls.WithLabelValues(h.ID, string(kind)).Inc()
		return p.failed(h, models.OutcomeFailed, kind, err.Error(), start)
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}

	candidates, err := src.Connector.Resolve(ctx, q, timeout)
	metrics.ConnectorDuration.WithLabelValues(h.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		// The pool deadline cut the call short; the source itself did not fail.
		if ctx.Err() != nil {
			return &task{cutOff: true}
		}
		kind := sources.KindOf(err)
		metrics.ConnectorCalls.WithLabelValues(h.ID, string(kind)).Inc()
		span.SetAttributes(attribute.String("failure", string(kind)))

		// An upstream 429 clears on its own; caching it would hide the recovery.
		if kind != models.FailureRateLimited {
			ttl := p.shared.Cache.NegativeTTL(src.NegativeTTL)
			if perr := p.shared.Cache.PutFailure(ctx, key, h.ID, kind, err.Error(), ttl); perr != nil {
				p.logger.Debug("Negative cache write skipped", map[string]interface{}{"source": h.ID})
			}
		}

		fields := map[string]interface{}{
			"source":  h.ID,
			"failure": string(kind),
			"error":   err.Error(),
		}
		var ce *sources.ConnectorError
		if errors.As(err, &ce) {
			fields["retryable"] = ce.Standard().Retryable
		}
		p.logger.Warn("Source failed", fields)
		return p.failed(h, models.OutcomeFailed, kind, err.Error(), start)
	}

	for i := range candidates {
		if candidates[i].SourceID == "" {
			candidates[i].SourceID = h.ID
		}
	}

	ttl := p.shared.Cache.TTLFor(h.Kind, src.TTL)
	if err := p.shared.Cache.Put(ctx, key, h.ID, candidates, ttl); err != nil {
		p.logger.Debug("Result cache write skipped", map[string]interface{}{"source": h.ID})
	}

	metrics.ConnectorCalls.WithLabelValues(h.ID, string(models.OutcomeOK)).Inc()
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	return p.answered(h, models.OutcomeOK, candidates, start)
}

func (p *Pool) answered(h models.SourceHandle, outcome models.SourceOutcome, candidates []models.CandidateProduct, start time.Time) *task {
	return &task{
		report: models.SourceReport{
			SourceID: h.ID,
			Outcome:  outcome,
			Count:    len(candidates),
			Duration: time.Since(start),
		},
		batch: &models.SourceBatch{Source: h, Candidates: candidates},
	}
}

func (p *Pool) failed(h models.SourceHandle, outcome models.SourceOutcome, kind models.FailureKind, message string, start time.Time) *task {
	return &task{
		report: models.SourceReport{
			SourceID: h.ID,
			Outcome:  outcome,
			Failure:  kind,
			Message:  message,
			Duration: time.Since(start),
		},
		batch: &models.SourceBatch{
			Source: h,
			Err:    &sources.ConnectorError{Source: h.ID, Kind: kind},
		},
	}
}
