package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"voicemart/internal/common/logger"
	"voicemart/internal/common/observability"
)

// JobHandler completes or fails the job itself.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type Registration struct {
	TaskType      string
	Handler       JobHandler
	MaxJobsActive int
	Timeout       time.Duration
}

// Workers owns the job workers opened against one Zeebe client.
type Workers struct {
	client  zbc.Client
	logger  logger.Logger
	obs     *observability.Observability
	workers map[string]worker.JobWorker
}

// NewWorkers creates an empty worker set. obs may be nil.
func NewWorkers(client zbc.Client, log logger.Logger, obs *observability.Observability) *Workers {
	return &Workers{
		client:  client,
		logger:  log,
		obs:     obs,
		workers: make(map[string]worker.JobWorker),
	}
}

// Open starts polling for r.TaskType. Opening a task type twice replaces
// the earlier worker.
func (w *Workers) Open(r Registration) {
	if existing, ok := w.workers[r.TaskType]; ok {
		existing.Close()
	}

	step := w.client.NewJobWorker().
		JobType(r.TaskType).
		Handler(w.instrument(r.TaskType, r.Handler))
	if r.MaxJobsActive > 0 {
		step = step.MaxJobsActive(r.MaxJobsActive)
	}
	if r.Timeout > 0 {
		step = step.Timeout(r.Timeout)
	}
	w.workers[r.TaskType] = step.Open()

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      r.TaskType,
		"maxJobsActive": r.MaxJobsActive,
	})
}

func (w *Workers) instrument(taskType string, h JobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		h.Handle(client, job)
		ctx := context.Background()
		w.obs.RecordJobDuration(ctx, taskType, time.Since(start))
		w.obs.RecordJobProcessed(ctx, taskType, "handled")
	}
}

func (w *Workers) TaskTypes() []string {
	out := make([]string, 0, len(w.workers))
	for t := range w.workers {
		out = append(out, t)
	}
	return out
}

// Close stops every worker and waits for in-flight jobs.
func (w *Workers) Close() {
	for taskType, jw := range w.workers {
		w.logger.Info("stopping worker", map[string]interface{}{"taskType": taskType})
		jw.Close()
		jw.AwaitClose()
	}
	w.workers = make(map[string]worker.JobWorker)
}
