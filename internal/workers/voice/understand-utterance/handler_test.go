package understandutterance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemart/internal/common/config"
	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/models"
	"voicemart/internal/nlu/extract"
	"voicemart/internal/nlu/normalize"
	"voicemart/internal/pipeline"
	"voicemart/internal/query"
	"voicemart/internal/ranking"
	"voicemart/internal/sources"
	"voicemart/internal/sources/cache"
	"voicemart/internal/sources/pool"
	"voicemart/pkg/registry"
)

// ==========================
// Test Helper Functions
// ==========================

type stubUnderstander struct {
	outcome *pipeline.Outcome
	got     models.RawUtterance
}

func (s *stubUnderstander) Understand(_ context.Context, utt models.RawUtterance) *pipeline.Outcome {
	s.got = utt
	return s.outcome
}

type storeConnector struct {
	id    string
	items []models.CandidateProduct
	err   error
}

func (c *storeConnector) Handle() models.SourceHandle {
	return models.SourceHandle{ID: c.id, Kind: models.SourceAPI, Priority: 1}
}

func (c *storeConnector) Resolve(context.Context, *models.StructuredQuery, time.Duration) ([]models.CandidateProduct, error) {
	return c.items, c.err
}

func shoes(n int) []models.CandidateProduct {
	out := make([]models.CandidateProduct, n)
	for i := range out {
		out[i] = models.CandidateProduct{
			ExternalID:   fmt.Sprintf("sku-%d", i),
			Title:        fmt.Sprintf("Nike Pegasus %d", 40+i),
			Price:        float64(3500 + 200*i),
			Currency:     "LKR",
			Availability: models.AvailabilityInStock,
			Brand:        "nike",
			Category:     "shoes",
			FetchedAt:    time.Now(),
		}
	}
	return out
}

func realPipeline(t *testing.T, conns ...sources.Connector) *pipeline.Pipeline {
	t.Helper()
	configured := make([]sources.Configured, len(conns))
	for i, c := range conns {
		configured[i] = sources.Configured{Connector: c, Timeout: time.Second}
	}
	shared := pool.NewShared(cache.New(cache.NewMemoryStore()), configured)
	return pipeline.New(pipeline.Components{
		Normalizer: normalize.New(),
		Extractor:  extract.New(),
		Builder:    query.New(),
		Resolver:   pool.New(shared, configured),
		Ranker:     ranking.NewAggregator(config.RankingConfig{}),
	}, pipeline.Config{
		MinTranscriptConfidence: 0.3,
		StageTimeouts: pipeline.StageTimeouts{
			Normalize: time.Second,
			Extract:   time.Second,
			Build:     time.Second,
			Resolve:   2 * time.Second,
		},
	}, pipeline.WithLogger(logger.NewTestLogger(t)))
}

func createTestHandler(t *testing.T, p Understander) *Handler {
	reg, err := registry.Default()
	require.NoError(t, err)
	v, err := reg.InputValidator(TaskType)
	require.NoError(t, err)
	return NewHandler(LoadConfig(), p, v, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Ranked(t *testing.T) {
	h := createTestHandler(t, realPipeline(t,
		&storeConnector{id: "daraz", items: shoes(3)},
		&storeConnector{id: "kapruka", items: shoes(2)},
	))

	out, err := h.Execute(context.Background(), &Input{
		Text:       "show me nike shoes under 5000 rupees",
		Confidence: 0.9,
		SessionID:  "sess-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ranked", out.Status)
	assert.Equal(t, "search", out.Intent)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.NotEmpty(t, out.RequestID)
	require.NotNil(t, out.Query)
	require.NotNil(t, out.Query.PriceMax)
	assert.Equal(t, 5000.0, *out.Query.PriceMax)
	require.NotEmpty(t, out.Products)
	assert.Len(t, out.Sources, 2)
	assert.Contains(t, out.Reply, "The top match is")
	for _, p := range out.Products {
		assert.NotEmpty(t, p.Sources)
	}
}

func TestHandler_Execute_CompletesWithoutProducts(t *testing.T) {
	tests := []struct {
		name       string
		pipeline   Understander
		input      *Input
		wantStatus string
		check      func(t *testing.T, out *Output)
	}{
		{
			name:       "clarification",
			pipeline:   realPipeline(t, &storeConnector{id: "daraz", items: shoes(1)}),
			input:      &Input{Text: "asdf qwer"},
			wantStatus: "needs_clarification",
			check: func(t *testing.T, out *Output) {
				require.NotNil(t, out.Clarification)
				assert.Equal(t, out.Clarification.Prompt, out.Reply)
				assert.Nil(t, out.Query)
			},
		},
		{
			name:       "low transcription confidence",
			pipeline:   realPipeline(t, &storeConnector{id: "daraz", items: shoes(1)}),
			input:      &Input{Text: "nike shoes", Confidence: 0.1},
			wantStatus: "needs_clarification",
			check: func(t *testing.T, out *Output) {
				require.NotNil(t, out.Clarification)
				assert.Equal(t, models.ReasonLowTranscriptConfidence, out.Clarification.Reason)
			},
		},
		{
			name: "all sources failed",
			pipeline: realPipeline(t,
				&storeConnector{id: "daraz", err: &sources.ConnectorError{Source: "daraz", Kind: models.FailureUpstreamError}},
			),
			input:      &Input{Text: "show me nike shoes"},
			wantStatus: "all_sources_failed",
			check: func(t *testing.T, out *Output) {
				require.Len(t, out.Sources, 1)
				assert.Equal(t, models.OutcomeFailed, out.Sources[0].Outcome)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, tt.pipeline)
			out, err := h.Execute(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.NotNil(t, out.Products)
			assert.Empty(t, out.Products)
			tt.check(t, out)
		})
	}
}

func TestHandler_Execute_TruncatesProducts(t *testing.T) {
	h := createTestHandler(t, realPipeline(t, &storeConnector{id: "daraz", items: shoes(6)}))
	h.config.MaxProducts = 2

	out, err := h.Execute(context.Background(), &Input{Text: "show me nike shoes"})
	require.NoError(t, err)
	assert.Len(t, out.Products, 2)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_PipelineFault(t *testing.T) {
	tests := []struct {
		name     string
		outcome  *pipeline.Outcome
		wantCode apperrors.ErrorCode
	}{
		{
			name: "stage timeout",
			outcome: &pipeline.Outcome{
				RequestID: "req-1",
				Status:    pipeline.StateFailed,
				Fault:     apperrors.NewStageTimeoutError("normalize", time.Second),
			},
			wantCode: apperrors.ErrCodeStageTimeout,
		},
		{
			name:     "failed without fault",
			outcome:  &pipeline.Outcome{RequestID: "req-2", Status: pipeline.StateFailed},
			wantCode: apperrors.ErrCodePipelineFault,
		},
		{
			name:     "nil outcome",
			wantCode: apperrors.ErrCodePipelineFault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, &stubUnderstander{outcome: tt.outcome})
			out, err := h.Execute(context.Background(), &Input{Text: "show me nike shoes"})
			require.Error(t, err)
			assert.Nil(t, out)

			var stdErr *apperrors.StandardError
			require.True(t, errors.As(err, &stdErr))
			assert.Equal(t, tt.wantCode, stdErr.Code)
			assert.True(t, apperrors.IsPipelineFault(stdErr.Code))
			assert.Equal(t, "PIPELINE_FAULT", apperrors.ConvertToBPMNError(stdErr).Code)
			assert.Zero(t, apperrors.ConvertToBPMNError(stdErr).Retries)
		})
	}
}

func TestHandler_ParseInput(t *testing.T) {
	h := createTestHandler(t, &stubUnderstander{})

	tests := []struct {
		name      string
		variables string
		want      *Input
		wantErr   bool
	}{
		{
			name:      "valid",
			variables: `{"text":"nike shoes","language":"en","confidence":0.8,"sessionId":"s1"}`,
			want:      &Input{Text: "nike shoes", Language: "en", Confidence: 0.8, SessionID: "s1"},
		},
		{name: "missing text", variables: `{"language":"en"}`, wantErr: true},
		{name: "confidence above one", variables: `{"text":"milo","confidence":3}`, wantErr: true},
		{name: "malformed", variables: `{"text":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.ParseInput(tt.variables)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Normalize(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_Execute_PassesUtterance(t *testing.T) {
	stub := &stubUnderstander{outcome: &pipeline.Outcome{
		RequestID: "req-9",
		Status:    pipeline.StateNeedsClarification,
		Reply:     "What would you like to buy?",
		Clarification: &models.ClarificationRequest{
			Reason: models.ReasonMissingSlot,
			Slot:   "product",
			Prompt: "What would you like to buy?",
		},
	}}
	h := createTestHandler(t, stub)

	out, err := h.Execute(context.Background(), &Input{Text: "buy", Language: "si", Confidence: 0.7})
	require.NoError(t, err)
	assert.Equal(t, models.RawUtterance{Text: "buy", Language: "si", Confidence: 0.7}, stub.got)
	assert.Equal(t, "req-9", out.RequestID)
	assert.Equal(t, "needs_clarification", out.Status)
}
