package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"neptuneload/internal/checkpoint"
	"neptuneload/internal/loader"
	"neptuneload/internal/metrics"

	"go.uber.org/zap"
)

// TaskProcessor handles individual task processing
type TaskProcessor struct {
	config     Config
	newClient  ClientFactory
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// Process runs a task against a client attached to the task's load.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Result {
	startTime := time.Now()
	logger := p.logger.With(zap.String("load_id", task.LoadID), zap.String("action", string(task.Action)))

	var (
		status  *loader.BulkLoadStatus
		lastErr error
	)
	attempts := p.config.Retries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		status, lastErr = p.processTask(ctx, task)
		if lastErr == nil {
			break
		}

		logger.Warn("Task attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))

		if !isRetriableError(lastErr) || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			if err := sleep(ctx, p.config.backoff(attempt)); err != nil {
				break
			}
		}
	}

	if status != nil {
		p.record(task, status)
	}
	p.metrics.IncOutcome(string(task.Action), lastErr)

	if lastErr != nil {
		logger.Error("Task failed", zap.Error(lastErr))
		return Result{Task: task, Status: status, Err: lastErr}
	}

	logger.Info("Task completed",
		zap.Stringer("status", status.Status),
		zap.Duration("duration", time.Since(startTime)),
	)
	return Result{Task: task, Status: status}
}

func (p *TaskProcessor) processTask(ctx context.Context, task Task) (*loader.BulkLoadStatus, error) {
	client, err := p.newClient()
	if err != nil {
		return nil, err
	}
	if err := client.Attach(task.LoadID); err != nil {
		return nil, err
	}

	switch task.Action {
	case ActionRefresh:
		return client.Refresh(ctx)
	case ActionCancel:
		if err := client.Cancel(ctx); err != nil {
			status, _ := client.Status()
			return status, err
		}
		return client.Status()
	}
	return nil, fmt.Errorf("unknown action %q", task.Action)
}

func (p *TaskProcessor) record(task Task, status *loader.BulkLoadStatus) {
	if p.checkpoint == nil {
		return
	}
	rec := checkpoint.NewLoadRecord(task.LoadID, p.config.Endpoint, task.Source, status)
	if err := p.checkpoint.SaveLoad(rec); err != nil {
		p.logger.Error("Failed to journal load",
			zap.String("load_id", task.LoadID),
			zap.Error(err))
	}
}

// isRetriableError reports whether err is a server-side or transport
// failure. Typed client errors are final.
func isRetriableError(err error) bool {
	var httpErr *loader.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests
	}

	var (
		parseErr   *loader.ParseError
		configErr  *loader.ConfigurationError
		signingErr *loader.SigningError
		notLoading *loader.NotLoadingError
		bound      *loader.AlreadyBoundError
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &configErr), errors.As(err, &signingErr),
		errors.As(err, &notLoading), errors.As(err, &bound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
