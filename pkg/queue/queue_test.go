package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestConvertAsynqStatusCoversEveryState(t *testing.T) {
	now := time.Now()

	tests := []struct {
		state      asynq.TaskState
		wantStatus string
		wantErr    string
	}{
		{asynq.TaskStatePending, "pending", ""},
		{asynq.TaskStateScheduled, "pending", ""},
		{asynq.TaskStateAggregating, "pending", ""},
		{asynq.TaskStateActive, "running", ""},
		{asynq.TaskStateCompleted, "completed", ""},
		{asynq.TaskStateRetry, "failed", "boom"},
		{asynq.TaskStateArchived, "failed", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			info := &asynq.TaskInfo{
				ID:            "task-1",
				State:         tt.state,
				LastErr:       "boom",
				NextProcessAt: now,
				CompletedAt:   now,
			}

			status := convertAsynqStatus(info)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantErr, status.Error)
			assert.Equal(t, "task-1", status.TaskID)
		})
	}
}
