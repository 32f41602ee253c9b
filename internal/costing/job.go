package costing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-costing/internal/jobs"
	"github.com/odyssey-erp/odyssey-costing/jobs"
)

const batchJobName = "costing_daily_batch"

// BatchJob processes costing day tasks.
type BatchJob struct {
	service  *Service
	metrics  *jobmetrics.Metrics
	location *time.Location
	logger   *slog.Logger
}

// NewBatchJob constructs the job handler. loc resolves the current day for
// payloads without a date.
func NewBatchJob(service *Service, metrics *jobmetrics.Metrics, loc *time.Location, logger *slog.Logger) *BatchJob {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchJob{service: service, metrics: metrics, location: loc, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *BatchJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.DailyBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("costing batch payload: %v: %w", err, asynq.SkipRetry)
	}
	day := Today(j.location)
	if payload.Date != "" {
		parsed, err := ParseDay(payload.Date)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		day = parsed
	}
	var production map[int64]ProductionInput
	if len(payload.Production) > 0 {
		if err := json.Unmarshal(payload.Production, &production); err != nil {
			return fmt.Errorf("costing batch production: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics.Track(batchJobName)
	var (
		result BatchResult
		err    error
	)
	if production == nil {
		result, err = j.service.RecostDay(ctx, day, payload.FailFast)
	} else {
		result, err = j.service.RunDay(ctx, BatchRequest{Day: day, Production: production, FailFast: payload.FailFast})
	}
	if err != nil {
		j.logger.Error("costing batch", slog.String("date", day.Format(DateLayout)), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("costing batch done",
		slog.String("run_id", result.RunID),
		slog.String("date", day.Format(DateLayout)),
		slog.Int("saved", len(result.Snapshots)),
		slog.Int("failed", len(result.Failures)))
	return tracker.End(nil)
}
