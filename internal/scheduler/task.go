package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/aurora/internal/apperr"
)

// TaskType identifies what a scheduled task does.
type TaskType string

const (
	TaskFeedRefresh TaskType = "feed_refresh"
	TaskIconCleanup TaskType = "icon_cleanup"
	TaskHealthCheck TaskType = "health_check"
)

// TaskTypes lists the built-in task types in registration order.
var TaskTypes = []TaskType{TaskFeedRefresh, TaskIconCleanup, TaskHealthCheck}

// ParseTaskType accepts the type name with either underscores or dashes.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch t {
	case TaskFeedRefresh, TaskIconCleanup, TaskHealthCheck:
		return t, nil
	default:
		return "", fmt.Errorf("task type %q: %w", s, apperr.ErrValidation)
	}
}

// Trigger records what started an execution.
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// ScheduledTask is a snapshot of a registered task and its statistics.
type ScheduledTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           TaskType   `json:"task_type"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	Running        bool       `json:"running"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	RunCount       uint64     `json:"run_count"`
	SuccessCount   uint64     `json:"success_count"`
	ErrorCount     uint64     `json:"error_count"`
	LastError      *string    `json:"last_error,omitempty"`
}

// TaskExecutionResult describes one finished execution.
type TaskExecutionResult struct {
	TaskID      string    `json:"task_id"`
	TaskName    string    `json:"task_name"`
	Trigger     Trigger   `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	DurationMs  int64     `json:"duration_ms"`
}

type builtin struct {
	name     string
	taskType TaskType
	spec     string
	timeout  time.Duration
}

// builtins are registered by New. Expressions carry a seconds field.
var builtins = []builtin{
	{name: "RSS Feed Refresh", taskType: TaskFeedRefresh, spec: "0 * * * * *", timeout: 30 * time.Minute},
	{name: "Icon Cache Cleanup", taskType: TaskIconCleanup, spec: "0 0 2 * * *", timeout: time.Minute},
	{name: "Health Check", taskType: TaskHealthCheck, spec: "0 */5 * * * *", timeout: 10 * time.Second},
}
