package understandutterance

import (
	"context"
	"encoding/json"
	"errors"
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

const TaskType = "understand-utterance"

var ErrEmptyOutcome = errors.New("EMPTY_OUTCOME")

// Understander runs the full query pipeline for one utterance.
type Understander interface {
	Understand(ctx context.Context, utt models.RawUtterance) *pipeline.Outcome
}

type Handler struct {
	config       *Config
	pipeline     Understander
	validator    *validation.Validator
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandler wires the worker. A nil validator accepts any variables.
func NewHandler(config *Config, p Understander, validator *validation.Validator, log logger.Logger) *Handler {
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

	input, err := h.ParseInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

// ParseInput validates raw job variables against the registered schema and
// decodes them.
func (h *Handler) ParseInput(variables string) (*Input, error) {
	res, err := h.validator.ValidateJSON(variables)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if !res.Valid {
		return nil, apperrors.NewInvalidInputError(strings.Join(res.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

// Execute understands the utterance. Clarifications and all-sources-failed
// results complete the job; only a pipeline fault is returned as an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	out := h.pipeline.Understand(ctx, models.RawUtterance{
		Text:       input.Text,
		Language:   input.Language,
		Confidence: input.Confidence,
	})
	if out == nil {
		return nil, apperrors.NewPipelineFaultError("understand", ErrEmptyOutcome)
	}
	if out.Status == pipeline.StateFailed {
		if out.Fault != nil {
			return nil, out.Fault.WithMetadata("requestId", out.RequestID)
		}
		return nil, apperrors.NewPipelineFaultError("understand", ErrEmptyOutcome)
	}

	output := &Output{
		RequestID:     out.RequestID,
		SessionID:     input.SessionID,
		Status:        string(out.Status),
		Reply:         out.Reply,
		Intent:        string(out.Intent.Intent),
		Query:         out.Query,
		Clarification: out.Clarification,
		Products:      []Product{},
	}
	if out.Result != nil {
		output.Sources = out.Result.Sources
		for i, item := range out.Result.Items {
			if h.config.MaxProducts > 0 && i >= h.config.MaxProducts {
				break
			}
			output.Products = append(output.Products, toProduct(item))
		}
	}
	return output, nil
}

func toProduct(item models.RankedItem) Product {
	p := item.Product
	return Product{
		Title:        p.Title,
		Price:        p.Price,
		Currency:     p.Currency,
		Brand:        p.Brand,
		Category:     p.Category,
		Availability: p.Availability,
		URL:          p.URL,
		Score:        item.Score,
		Sources:      item.Provenance,
	}
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
