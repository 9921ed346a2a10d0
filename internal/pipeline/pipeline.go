// Package pipeline sequences normalization, extraction, query building,
// source resolution and ranking for one utterance at a time.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"voicemart/internal/common/config"
	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/metrics"
	"voicemart/internal/common/observability"
	"voicemart/internal/models"
	"voicemart/internal/query"
	"voicemart/internal/sources/pool"
)

type Normalizer interface {
	Normalize(text, hintLanguage string) models.NormalizedText
}

type Extractor interface {
	Extract(nt models.NormalizedText) models.Extraction
}

type Builder interface {
	Build(x models.Extraction) models.BuildResult
}

type Resolver interface {
	Resolve(ctx context.Context, q *models.StructuredQuery, deadline time.Duration) (*pool.Resolution, error)
	Size() int
}

type Ranker interface {
	Aggregate(q *models.StructuredQuery, batches []models.SourceBatch) models.RankedResult
}

// Components are the stages a pipeline runs. Resolver and Ranker may be nil
// for a pipeline that only interprets.
type Components struct {
	Normalizer Normalizer
	Extractor  Extractor
	Builder    Builder
	Resolver   Resolver
	Ranker     Ranker
}

type StageTimeouts struct {
	Normalize time.Duration
	Extract   time.Duration
	Build     time.Duration
	Resolve   time.Duration
}

// Config tunes a pipeline. A zero MinHealthySources means a majority of the
// configured sources; a zero MinTranscriptConfidence disables that check.
type Config struct {
	MinTranscriptConfidence float64
	MinHealthySources       int
	StageTimeouts           StageTimeouts
}

func ConfigFrom(cfg config.PipelineConfig) Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Config{
		MinTranscriptConfidence: cfg.MinTranscriptConfidence,
		MinHealthySources:       cfg.MinHealthySources,
		StageTimeouts: StageTimeouts{
			Normalize: ms(cfg.StageTimeouts.Normalize),
			Extract:   ms(cfg.StageTimeouts.Extract),
			Build:     ms(cfg.StageTimeouts.Build),
			Resolve:   ms(cfg.StageTimeouts.Resolve),
		},
	}
}

// Outcome is the structured result of one request. Exactly one of Query
// (with Result once resolved), Clarification or Fault describes how it ended.
type Outcome struct {
	RequestID     string                       `json:"requestId"`
	Status        State                        `json:"status"`
	States        []State                      `json:"states"`
	Language      string                       `json:"language,omitempty"`
	Intent        models.IntentResult          `json:"intent"`
	Query         *models.StructuredQuery      `json:"query,omitempty"`
	Clarification *models.ClarificationRequest `json:"clarification,omitempty"`
	Result        *models.RankedResult         `json:"result,omitempty"`
	Reply         string                       `json:"reply"`
	Fault         *apperrors.StandardError     `json:"fault,omitempty"`
	Duration      time.Duration                `json:"-"`
	DurationMs    int64                        `json:"durationMs"`
}

func (o *Outcome) advance(to State) error {
	if err := Transition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	o.States = append(o.States, to)
	return nil
}

type Option func(*Pipeline)

func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func WithObservability(o *observability.Observability) Option {
	return func(p *Pipeline) {
		p.obs = o
	}
}

// Pipeline is safe for concurrent use when its components are.
type Pipeline struct {
	c      Components
	cfg    Config
	logger logger.Logger
	obs    *observability.Observability
}

func New(c Components, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		c:      c,
		cfg:    cfg,
		logger: logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Understand runs the full pipeline. It never returns nil and never panics
// on behalf of a stage.
func (p *Pipeline) Understand(ctx context.Context, utt models.RawUtterance) *Outcome {
	return p.run(ctx, utt, true)
}

func (p *Pipeline) UnderstandText(ctx context.Context, text string) *Outcome {
	return p.Understand(ctx, models.RawUtterance{Text: text})
}

// Interpret stops once the query is built or a clarification is needed.
func (p *Pipeline) Interpret(ctx context.Context, utt models.RawUtterance) *Outcome {
	return p.run(ctx, utt, false)
}

func (p *Pipeline) run(ctx context.Context, utt models.RawUtterance, resolve bool) (out *Outcome) {
	start := time.Now()
	out = &Outcome{
		RequestID: uuid.NewString(),
		Status:    StateReceived,
		States:    []State{StateReceived},
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.understand",
		attribute.String("request_id", out.RequestID),
		attribute.Bool("resolve", resolve),
	)
	log := p.logger.With(map[string]interface{}{"requestId": out.RequestID})

	defer func() {
		out.Duration = time.Since(start)
		out.DurationMs = out.Duration.Milliseconds()
		metrics.PipelineOutcomes.WithLabelValues(string(out.Status)).Inc()
		span.SetAttributes(attribute.String("status", string(out.Status)))
		if out.Fault != nil {
			span.SetStatus(codes.Error, string(out.Fault.Code))
		}
		span.End()
		log.Info("Utterance handled", map[string]interface{}{
			"status":     string(out.Status),
			"intent":     string(out.Intent.Intent),
			"durationMs": out.DurationMs,
		})
	}()

	if utt.Confidence > 0 && utt.Confidence < p.cfg.MinTranscriptConfidence {
		p.clarify(out, query.TranscriptClarification(utt.Confidence), log)
		return out
	}

	nt, err := runStage(ctx, p, "normalize", p.cfg.StageTimeouts.Normalize, func() models.NormalizedText {
		return p.c.Normalizer.Normalize(utt.Text, utt.Language)
	})
	if err != nil || !p.advance(out, StateNormalized, log) {
		p.fail(out, "normalize", err, log)
		return out
	}
	out.Language = nt.Language

	x, err := runStage(ctx, p, "extract", p.cfg.StageTimeouts.Extract, func() models.Extraction {
		return p.c.Extractor.Extract(nt)
	})
	if err != nil || !p.advance(out, StateExtracted, log) {
		p.fail(out, "extract", err, log)
		return out
	}
	out.Intent = x.Intent

	built, err := runStage(ctx, p, "build", p.cfg.StageTimeouts.Build, func() models.BuildResult {
		return p.c.Builder.Build(x)
	})
	if err != nil {
		p.fail(out, "build", err, log)
		return out
	}

	var q *models.StructuredQuery
	switch r := built.(type) {
	case *models.StructuredQuery:
		if r == nil {
			p.fail(out, "build", apperrors.NewInvalidBuildResultError(built), log)
			return out
		}
		q = r
	case *models.ClarificationRequest:
		if r == nil {
			p.fail(out, "build", apperrors.NewInvalidBuildResultError(built), log)
			return out
		}
		p.clarify(out, r, log)
		return out
	default:
		p.fail(out, "build", apperrors.NewInvalidBuildResultError(built), log)
		return out
	}

	if !p.advance(out, StateBuilt, log) {
		p.fail(out, "build", nil, log)
		return out
	}
	out.Query = q
	out.Reply = queryReply(q)

	if !resolve {
		return out
	}
	if p.c.Resolver == nil || p.c.Ranker == nil {
		p.fail(out, "resolve", fmt.Errorf("no resolver configured"), log)
		return out
	}

	if !p.advance(out, StateResolving, log) {
		p.fail(out, "resolve", nil, log)
		return out
	}
	p.resolve(ctx, out, q, log)
	return out
}

func (p *Pipeline) resolve(ctx context.Context, out *Outcome, q *models.StructuredQuery, log logger.Logger) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "stage.resolve", attribute.String("query_key", q.Key()))
	defer span.End()

	res, err := p.c.Resolver.Resolve(ctx, q, p.cfg.StageTimeouts.Resolve)
	p.observeStage(ctx, "resolve", time.Since(start))
	if err != nil {
		p.fail(out, "resolve", err, log)
		return
	}

	ranked := p.c.Ranker.Aggregate(q, res.Batches)
	ranked.Sources = res.Reports

	healthy := 0
	for _, r := range res.Reports {
		if r.Outcome.Answered() {
			healthy++
		}
	}

	status := StateRanked
	switch {
	case ranked.Status == models.StatusAllSourcesFailed:
		status = StateAllSourcesFailed
	case res.CutOff || healthy < p.minHealthy():
		status = StateDegraded
		ranked.Status = models.StatusDegraded
	}

	if !p.advance(out, status, log) {
		p.fail(out, "resolve", nil, log)
		return
	}
	out.Result = &ranked
	out.Reply = resultReply(q, &ranked)

	if status != StateRanked {
		log.Warn("Resolution incomplete", map[string]interface{}{
			"status":  string(status),
			"healthy": healthy,
			"sources": p.c.Resolver.Size(),
			"cutOff":  res.CutOff,
		})
	}
}

func (p *Pipeline) minHealthy() int {
	if p.cfg.MinHealthySources > 0 {
		return p.cfg.MinHealthySources
	}
	return p.c.Resolver.Size()/2 + 1
}

func (p *Pipeline) advance(out *Outcome, to State, log logger.Logger) bool {
	if err := out.advance(to); err != nil {
		log.Error("Rejected state transition", map[string]interface{}{
			"from":  string(out.Status),
			"to":    string(to),
			"error": err.Error(),
		})
		out.Fault = apperrors.Normalize(err)
		return false
	}
	return true
}

func (p *Pipeline) clarify(out *Outcome, req *models.ClarificationRequest, log logger.Logger) {
	if !p.advance(out, StateNeedsClarification, log) {
		p.fail(out, "build", nil, log)
		return
	}
	out.Clarification = req
	out.Reply = req.Prompt
	metrics.Clarifications.WithLabelValues(string(req.Reason)).Inc()
}

// fail ends the request as Failed. A nil err keeps a fault already recorded
// by a rejected transition.
func (p *Pipeline) fail(out *Outcome, stage string, err error, log logger.Logger) {
	switch {
	case err != nil:
		stdErr := apperrors.Normalize(err)
		if !apperrors.IsPipelineFault(stdErr.Code) {
			stdErr = apperrors.NewPipelineFaultError(stage, err)
		}
		out.Fault = stdErr
	case out.Fault == nil:
		out.Fault = apperrors.NewPipelineFaultError(stage, fmt.Errorf("stage ended without a result"))
	}

	out.Status = StateFailed
	out.States = append(out.States, StateFailed)
	out.Reply = replyFailed

	log.Error("Pipeline fault", map[string]interface{}{
		"stage":    stage,
		"code":     string(out.Fault.Code),
		"message":  out.Fault.Message,
		"details":  out.Fault.Details,
		"states":   out.States,
		"intent":   string(out.Intent.Intent),
		"metadata": out.Fault.Metadata,
	})
}

func (p *Pipeline) observeStage(ctx context.Context, stage string, d time.Duration) {
	metrics.PipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
	p.obs.RecordStage(ctx, stage, d)
}

// runStage runs fn under its own deadline. A panic or an overrun becomes a
// pipeline fault; the stage goroutine is abandoned on overrun.
func runStage[T any](ctx context.Context, p *Pipeline, stage string, timeout time.Duration, fn func() T) (T, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "stage."+stage)
	defer func() {
		span.End()
		p.observeStage(ctx, stage, time.Since(start))
	}()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: apperrors.NewPipelineFaultError(stage, fmt.Errorf("panic: %v", r))}
			}
		}()
		done <- result{value: fn()}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			span.SetStatus(codes.Error, "panic")
		}
		return r.value, r.err
	case <-expired:
		span.SetStatus(codes.Error, "timeout")
		return zero, apperrors.NewStageTimeoutError(stage, timeout)
	case <-ctx.Done():
		return zero, apperrors.NewPipelineFaultError(stage, ctx.Err())
	}
}
