// Package server exposes the pipeline, health probes and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/validation"
	"voicemart/internal/models"
	"voicemart/internal/pipeline"
)

const maxBodyBytes = 64 << 10

// Pipeline is the part of *pipeline.Pipeline the endpoints call.
type Pipeline interface {
	Understand(ctx context.Context, utt models.RawUtterance) *pipeline.Outcome
	Interpret(ctx context.Context, utt models.RawUtterance) *pipeline.Outcome
}

type Options struct {
	Pipeline Pipeline
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
	// Nil validators accept any JSON body.
	UnderstandValidator *validation.Validator
	InterpretValidator  *validation.Validator
	Logger              logger.Logger
}

type request struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
}

type errorResponse struct {
	Error   string                       `json:"error"`
	Details []validation.ValidationError `json:"details,omitempty"`
}

type handler struct {
	opts Options
}

func New(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	h := &handler{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /ready", h.ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/understand", h.utterance(opts.UnderstandValidator, opts.Pipeline.Understand))
	mux.HandleFunc("POST /v1/interpret", h.utterance(opts.InterpretValidator, opts.Pipeline.Interpret))
	return h.logRequests(mux)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Ready(ctx); err != nil {
			std := apperrors.Normalize(err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"code":   string(std.Code),
				"error":  std.Details,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *handler) utterance(v *validation.Validator, run func(context.Context, models.RawUtterance) *pipeline.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}

		if v != nil {
			res, err := v.ValidateJSON(string(body))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON"})
				return
			}
			if !res.Valid {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Details: res.Errors})
				return
			}
		}

		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON"})
			return
		}

		out := run(r.Context(), models.RawUtterance{
			Text:       req.Text,
			Language:   req.Language,
			Confidence: req.Confidence,
		})

		status := http.StatusOK
		if out.Status == pipeline.StateFailed {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, out)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			return
		}
		h.opts.Logger.Info("http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"durationMs": time.Since(start).Milliseconds(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
