// Package scheduler runs the periodic feed refresh, icon cleanup and health
// check tasks on cron schedules and keeps per-task run statistics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/logger"
	"github.com/bryan-buckman/aurora/internal/metrics"
	"github.com/bryan-buckman/aurora/internal/model"
	"github.com/bryan-buckman/aurora/internal/rss"
)

const (
	// DefaultHistoryLimit is how many executions are kept per task.
	DefaultHistoryLimit = 50
	// MaxFeedErrors excludes feeds from sweeps once reached.
	MaxFeedErrors = 5
	// concurrencyPostgres is the sweep pool size when the store handles
	// parallel writers.
	concurrencyPostgres = 10
	// tickSlack absorbs the few milliseconds between a cron tick and the
	// recorded start of the previous run.
	tickSlack = time.Second
	// healthProbeTimeout bounds the persistence ping.
	healthProbeTimeout = 5 * time.Second
)

// ErrStopped is returned for manual runs requested after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Store is the persistence the scheduled jobs use.
type Store interface {
	GetSettings(ctx context.Context) (model.Settings, error)
	ListFeedsForRefresh(ctx context.Context, maxErrors int) ([]model.Feed, error)
	RecordFeedFailure(ctx context.Context, id, status string, at time.Time) error
	Ping(ctx context.Context) error
	SupportsHighConcurrency() bool
}

// FeedFetcher fetches a single feed.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, feedID string) (*rss.FetchResult, error)
}

// IconCleaner removes stale icon cache records.
type IconCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l logger.Interface) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithHistoryLimit sets how many executions are kept per task.
func WithHistoryLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithSweepConcurrency fixes the number of feeds fetched in parallel.
// Zero picks a value from the store's capabilities.
func WithSweepConcurrency(n int) Option {
	return func(s *Scheduler) { s.sweepConcurrency = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type taskState struct {
	task     ScheduledTask
	schedule cron.Schedule
	timeout  time.Duration
	running  int
	history  []TaskExecutionResult // oldest first
}

// Scheduler owns the task registry and the cron timers.
type Scheduler struct {
	store   Store
	fetcher FeedFetcher
	icons   IconCleaner
	log     logger.Interface
	metrics *metrics.Metrics
	now     func() time.Time

	historyLimit     int
	sweepConcurrency int

	cron *cron.Cron

	mu      sync.RWMutex
	tasks   map[string]*taskState
	order   []string
	stopped bool

	// manual tracks manual executions so Stop can wait for them. Add is
	// only called under mu while stopped is false.
	manual sync.WaitGroup
}

// New builds a scheduler and registers the built-in tasks. Timers do not
// fire until Start is called.
func New(store Store, fetcher FeedFetcher, icons IconCleaner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:        store,
		fetcher:      fetcher,
		icons:        icons,
		log:          logger.NewNop(),
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
		tasks:        make(map[string]*taskState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(
			cron.Second|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, b := range builtins {
		if _, err := s.addTask(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) addTask(b builtin) (string, error) {
	id := uuid.NewString()
	entryID, err := s.cron.AddFunc(b.spec, func() { s.onTick(id) })
	if err != nil {
		return "", fmt.Errorf("schedule %s %q: %w", b.taskType, b.spec, err)
	}

	s.mu.Lock()
	s.tasks[id] = &taskState{
		task: ScheduledTask{
			ID:             id,
			Name:           b.name,
			Type:           b.taskType,
			CronExpression: b.spec,
			Enabled:        true,
		},
		schedule: s.cron.Entry(entryID).Schedule,
		timeout:  b.timeout,
	}
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.log.Info("Added task", "task_id", id, "name", b.name, "cron", b.spec)
	return id, nil
}

// Start begins firing cron ticks.
func (s *Scheduler) Start() {
	s.log.Info("Starting task scheduler", "tasks", len(s.order))
	s.cron.Start()
}

// Stop prevents new ticks and waits until running task bodies, scheduled or
// manual, have finished or ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.log.Info("Stopping task scheduler")
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	cronCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.manual.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Task scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// Tasks returns snapshots of all tasks in registration order.
func (s *Scheduler) Tasks() []ScheduledTask {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshotLocked(s.tasks[id], now))
	}
	return out
}

// Task returns a snapshot of one task.
func (s *Scheduler) Task(id string) (ScheduledTask, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tasks[id]
	if !ok {
		return ScheduledTask{}, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	return s.snapshotLocked(st, now), nil
}

// TaskByType returns the built-in task of the given type.
func (s *Scheduler) TaskByType(t TaskType) (ScheduledTask, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if st := s.tasks[id]; st.task.Type == t {
			return s.snapshotLocked(st, now), nil
		}
	}
	return ScheduledTask{}, fmt.Errorf("task type %s: %w", t, apperr.ErrNotFound)
}

func (s *Scheduler) snapshotLocked(st *taskState, now time.Time) ScheduledTask {
	t := st.task
	t.Running = st.running > 0
	if t.LastRun != nil {
		lr := *t.LastRun
		t.LastRun = &lr
	}
	if t.LastError != nil {
		le := *t.LastError
		t.LastError = &le
	}
	if st.schedule != nil {
		next := st.schedule.Next(now).UTC()
		t.NextRun = &next
	}
	return t
}

// ToggleTask enables or disables cron-triggered runs of a task. A run in
// progress is not interrupted.
func (s *Scheduler) ToggleTask(id string, enabled bool) error {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if ok {
		st.task.Enabled = enabled
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	s.log.Info("Toggled task", "task_id", id, "name", st.task.Name, "enabled", enabled)
	return nil
}

// ExecuteTaskManually runs a task now, whether or not it is enabled, and
// returns once it has finished. The run is not cancelled with ctx; it is
// bounded by the task's own deadline. After Stop it returns ErrStopped.
func (s *Scheduler) ExecuteTaskManually(ctx context.Context, id string) (TaskExecutionResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return TaskExecutionResult{}, fmt.Errorf("task %s: %w", id, ErrStopped)
	}
	st, ok := s.tasks[id]
	var timeout time.Duration
	if ok {
		timeout = st.timeout
		s.manual.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		return TaskExecutionResult{}, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	defer s.manual.Done()

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return s.run(jobCtx, id, TriggerManual), nil
}

// TaskHistory returns up to limit past executions of a task, most recent
// first. A non-positive limit returns everything retained.
func (s *Scheduler) TaskHistory(id string, limit int) ([]TaskExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	n := len(st.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]TaskExecutionResult, 0, n)
	for i := len(st.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, st.history[i])
	}
	return out, nil
}

// onTick is the cron callback for task id.
func (s *Scheduler) onTick(id string) {
	s.mu.RLock()
	st, ok := s.tasks[id]
	var (
		task    ScheduledTask
		timeout time.Duration
	)
	if ok {
		task = st.task
		timeout = st.timeout
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	if !task.Enabled {
		s.skip(task, "disabled")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if task.Type == TaskFeedRefresh {
		if reason := s.refreshSkipReason(ctx, task); reason != "" {
			s.skip(task, reason)
			return
		}
	}
	s.run(ctx, id, TriggerCron)
}

// refreshSkipReason applies the settings to a feed refresh tick. An empty
// reason means the sweep should run. Unreadable settings do not block it.
func (s *Scheduler) refreshSkipReason(ctx context.Context, task ScheduledTask) string {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.log.Warn("Failed to read settings, refreshing anyway", "error", err)
		return ""
	}
	if !settings.AutoRefresh {
		return "auto_refresh_off"
	}
	if task.LastRun != nil {
		interval := time.Duration(settings.FetchIntervalMinutes) * time.Minute
		if s.now().Sub(*task.LastRun)+tickSlack < interval {
			return "interval_not_elapsed"
		}
	}
	return ""
}

func (s *Scheduler) skip(task ScheduledTask, reason string) {
	s.metrics.TaskTicksSkipped.WithLabelValues(string(task.Type), reason).Inc()
	s.log.Debug("Skipped task tick", "task_id", task.ID, "name", task.Name, "reason", reason)
}

// run executes the body of task id and records the outcome.
func (s *Scheduler) run(ctx context.Context, id string, trigger Trigger) TaskExecutionResult {
	s.mu.Lock()
	st := s.tasks[id]
	st.running++
	name, taskType := st.task.Name, st.task.Type
	s.mu.Unlock()

	s.metrics.TasksRunning.Inc()
	defer s.metrics.TasksRunning.Dec()

	s.log.Debug("Executing task", "task_id", id, "name", name, "trigger", trigger)
	started := s.now().UTC()
	success, message := s.execute(ctx, taskType)
	completed := s.now().UTC()

	res := TaskExecutionResult{
		TaskID:      id,
		TaskName:    name,
		Trigger:     trigger,
		StartedAt:   started,
		CompletedAt: completed,
		Success:     success,
		Message:     message,
		DurationMs:  completed.Sub(started).Milliseconds(),
	}

	s.mu.Lock()
	st.running--
	st.task.LastRun = &started
	st.task.RunCount++
	if success {
		st.task.SuccessCount++
		st.task.LastError = nil
	} else {
		st.task.ErrorCount++
		msg := message
		st.task.LastError = &msg
	}
	st.history = append(st.history, res)
	if over := len(st.history) - s.historyLimit; over > 0 {
		st.history = append(st.history[:0:0], st.history[over:]...)
	}
	s.mu.Unlock()

	result := "success"
	if !success {
		result = "error"
	}
	s.metrics.TaskRunsTotal.WithLabelValues(string(taskType), string(trigger), result).Inc()
	s.metrics.TaskDurationSeconds.WithLabelValues(string(taskType)).Observe(completed.Sub(started).Seconds())

	if success {
		s.log.Info("Task completed", "name", name, "trigger", trigger, "duration_ms", res.DurationMs, "message", message)
	} else {
		s.log.Warn("Task failed", "name", name, "trigger", trigger, "duration_ms", res.DurationMs, "message", message)
	}
	return res
}

func (s *Scheduler) execute(ctx context.Context, t TaskType) (bool, string) {
	switch t {
	case TaskFeedRefresh:
		return s.refreshFeeds(ctx)
	case TaskIconCleanup:
		return s.cleanupIcons(ctx)
	case TaskHealthCheck:
		return s.checkHealth(ctx)
	default:
		return false, fmt.Sprintf("unknown task type %q", t)
	}
}
