package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_WithoutTracer(t *testing.T) {
	obs, err := New("voicemart-test", "")
	require.NoError(t, err)
	assert.Nil(t, obs.tracerProvider)

	ctx := context.Background()
	obs.RecordJobProcessed(ctx, "understand-utterance", "completed")
	obs.RecordJobDuration(ctx, "understand-utterance", 12*time.Millisecond)
	obs.RecordStage(ctx, "normalize", time.Millisecond)

	assert.NoError(t, obs.Shutdown())
}

func TestStartSpan_NoopWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "stage.normalize", attribute.String("stage", "normalize"))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsSampled())
}

func TestRecordStage_NilReceiver(t *testing.T) {
	var obs *Observability
	assert.NotPanics(t, func() {
		obs.RecordStage(context.Background(), "build", time.Millisecond)
	})
}
