package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDailyBatchTask(t *testing.T) {
	task, err := NewDailyBatchTask(DailyBatchPayload{Date: "2024-03-01", FailFast: true})
	require.NoError(t, err)
	require.Equal(t, TaskCostingDailyBatch, task.Type())

	var payload DailyBatchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "2024-03-01", payload.Date)
	require.True(t, payload.FailFast)
	require.Empty(t, payload.Production)
}

func TestNewDailyBatchTaskRejectsBadDate(t *testing.T) {
	_, err := NewDailyBatchTask(DailyBatchPayload{Date: "01/03/2024"})
	require.Error(t, err)
}

func TestNewDailyBatchTaskWithoutDate(t *testing.T) {
	task, err := NewDailyBatchTask(DailyBatchPayload{})
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(task.Payload()))
}
