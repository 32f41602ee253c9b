package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCostingDailyBatch computes the cost snapshots of a business day.
	TaskCostingDailyBatch = "costing:daily_batch"
)

// DailyBatchPayload describes a costing day run. An empty Date means the
// current day in the worker timezone. Without Production the day's stored
// snapshots are re-costed with their recorded quantities.
type DailyBatchPayload struct {
	Date       string          `json:"date,omitempty"`
	FailFast   bool            `json:"fail_fast,omitempty"`
	Production json.RawMessage `json:"production,omitempty"`
}

// NewDailyBatchTask constructs the costing day task.
func NewDailyBatchTask(payload DailyBatchPayload) (*asynq.Task, error) {
	if payload.Date != "" {
		if _, err := time.Parse("2006-01-02", payload.Date); err != nil {
			return nil, errors.New("jobs: daily batch date must be YYYY-MM-DD")
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCostingDailyBatch, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
