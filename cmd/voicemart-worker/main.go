// cmd/voicemart-worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voicemart/internal/app"
	"voicemart/internal/common/camunda"
	"voicemart/internal/common/config"
	"voicemart/internal/common/database"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/observability"
	"voicemart/internal/server"
	parseshoppingquery "voicemart/internal/workers/voice/parse-shopping-query"
	understandutterance "voicemart/internal/workers/voice/understand-utterance"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting voicemart worker",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	if err != nil {
		zapLog.Warn("observability setup incomplete", zap.Error(err))
	}
	defer obs.Shutdown()

	// --- Storage backends with retry ---
	var backends *database.Backends
	err = retryWithBackoff(func() error {
		b, err := database.Open(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Ping(ctx); err != nil {
			b.Close()
			return err
		}
		backends = b
		return nil
	}, 10, 2*time.Second, zapLog, "Backend connection")
	if err != nil {
		zapLog.Fatal("backends unavailable", zap.Error(err))
	}

	a, err := app.New(cfg, log, app.WithBackends(backends), app.WithObservability(obs))
	if err != nil {
		zapLog.Fatal("pipeline assembly failed", zap.Error(err))
	}
	defer a.Close()

	// --- Zeebe workers ---
	var workers *camunda.Workers
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClient(context.Background(), camunda.ClientConfigFrom(cfg.Camunda))
		if err != nil {
			zapLog.Fatal("zeebe client failed", zap.Error(err))
		}
		regs, err := a.Registrations()
		if err != nil {
			zapLog.Fatal("worker registration failed", zap.Error(err))
		}
		workers = camunda.NewWorkers(zeebe.GetClient(), log, obs)
		for _, r := range regs {
			workers.Open(r)
		}
		zapLog.Info("Zeebe workers registered", zap.Strings("taskTypes", workers.TaskTypes()))
	} else {
		zapLog.Info("Camunda disabled, serving HTTP only")
	}

	// --- HTTP API, health and metrics ---
	understandValidator, _ := a.Registry.InputValidator(understandutterance.TaskType)
	interpretValidator, _ := a.Registry.InputValidator(parseshoppingquery.TaskType)
	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: server.New(server.Options{
			Pipeline: a.Pipeline,
			Ready: func(ctx context.Context) error {
				if zeebe != nil {
					if err := zeebe.HealthCheck(ctx); err != nil {
						return err
					}
				}
				return a.Ready(ctx)
			},
			UnderstandValidator: understandValidator,
			InterpretValidator:  interpretValidator,
			Logger:              log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	if workers != nil {
		workers.Close()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	zapLog.Info("Voicemart worker stopped gracefully")
}
