package camunda

import (
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/stretchr/testify/assert"

	"voicemart/internal/common/logger"
)

type countingHandler struct {
	keys []int64
}

func (c *countingHandler) Handle(_ worker.JobClient, job entities.Job) {
	c.keys = append(c.keys, job.Key)
}

func TestInstrumentCallsHandler(t *testing.T) {
	w := NewWorkers(nil, logger.NewTestLogger(t), nil)
	h := &countingHandler{}

	wrapped := w.instrument("understand-utterance", h)
	wrapped(nil, entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 42}})

	assert.Equal(t, []int64{42}, h.keys)
	assert.Empty(t, w.TaskTypes())
}
