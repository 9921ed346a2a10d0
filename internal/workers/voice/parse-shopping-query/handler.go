package parseshoppingquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/metrics"
	"voicemart/internal/common/validation"
	"voicemart/internal/models"
	"voicemart/internal/pipeline"
)

const TaskType = "parse-shopping-query"

// Interpreter stops the pipeline once a query is built.
type Interpreter interface {
	Interpret(ctx context.Context, utt models.RawUtterance) *pipeline.Outcome
}

type Handler struct {
	config       *Config
	pipeline     Interpreter
	validator    *validation.Validator
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, p Interpreter, validator *validation.Validator, log logger.Logger) *Handler {
	if validator == nil {
		validator, _ = validation.NewValidator(nil)
	}
	l := log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		pipeline:     p,
		validator:    validator,
		errorHandler: apperrors.NewErrorHandler(l),
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	defer func() {
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	res, err := h.validator.ValidateJSON(job.Variables)
	switch {
	case err != nil:
		h.fail(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		return
	case !res.Valid:
		h.fail(ctx, client, job, apperrors.NewInvalidInputError(strings.Join(res.GetErrorMessages(), "; ")))
		return
	}
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	h.completeJob(client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	out := h.pipeline.Interpret(ctx, models.RawUtterance{Text: input.Text, Language: input.Language})
	switch {
	case out == nil:
		return nil, apperrors.NewPipelineFaultError("interpret", fmt.Errorf("no outcome"))
	case out.Status == pipeline.StateFailed && out.Fault != nil:
		return nil, out.Fault
	case out.Status == pipeline.StateFailed:
		return nil, apperrors.NewPipelineFaultError("interpret", fmt.Errorf("failed without fault"))
	}

	output := &Output{
		RequestID:     out.RequestID,
		Status:        string(out.Status),
		Intent:        string(out.Intent.Intent),
		Query:         out.Query,
		Clarification: out.Clarification,
		Reply:         out.Reply,
	}
	if out.Query != nil {
		output.QueryKey = out.Query.Key()
		output.Canonical = out.Query.Canonical()
	}
	return output, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
