package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/model"
	"github.com/bryan-buckman/aurora/internal/rss"
)

type fakeStore struct {
	mu          sync.Mutex
	settings    model.Settings
	settingsErr error
	feeds       []model.Feed
	listErr     error
	pingErr     error
	concurrent  bool
	failures    map[string]string
}

func (f *fakeStore) GetSettings(context.Context) (model.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, f.settingsErr
}

func (f *fakeStore) ListFeedsForRefresh(_ context.Context, maxErrors int) ([]model.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Feed
	for _, feed := range f.feeds {
		if feed.ErrorCount < maxErrors {
			out = append(out, feed)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordFeedFailure(_ context.Context, id, status string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = map[string]string{}
	}
	f.failures[id] = status
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) SupportsHighConcurrency() bool { return f.concurrent }

type fakeFetcher struct {
	mu      sync.Mutex
	fail    map[string]error
	fetched []string
}

func (f *fakeFetcher) FetchFeed(_ context.Context, feedID string) (*rss.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, feedID)
	if err := f.fail[feedID]; err != nil {
		return nil, err
	}
	return &rss.FetchResult{EntriesCount: 1}, nil
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.fetched...)
	sort.Strings(out)
	return out
}

type fakeIcons struct {
	n   int64
	err error
}

func (f *fakeIcons) Cleanup(context.Context) (int64, error) { return f.n, f.err }

type fixture struct {
	sched   *Scheduler
	store   *fakeStore
	fetcher *fakeFetcher
	icons   *fakeIcons
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: &fakeStore{
			settings: model.Settings{AutoRefresh: true, FetchIntervalMinutes: 720},
			feeds: []model.Feed{
				{ID: "a", URL: "https://a.example/feed"},
				{ID: "b", URL: "https://b.example/feed"},
				{ID: "c", URL: "https://c.example/feed", ErrorCount: 5},
			},
		},
		fetcher: &fakeFetcher{fail: map[string]error{}},
		icons:   &fakeIcons{n: 4},
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	s, err := New(f.store, f.fetcher, f.icons, opts...)
	require.NoError(t, err)
	f.sched = s
	return f
}

func (f *fixture) task(t *testing.T, tt TaskType) ScheduledTask {
	t.Helper()
	task, err := f.sched.TaskByType(tt)
	require.NoError(t, err)
	return task
}

func TestNew_RegistersBuiltins(t *testing.T) {
	f := newFixture(t)
	tasks := f.sched.Tasks()
	require.Len(t, tasks, 3)

	assert.Equal(t, TaskFeedRefresh, tasks[0].Type)
	assert.Equal(t, "0 * * * * *", tasks[0].CronExpression)
	assert.Equal(t, TaskIconCleanup, tasks[1].Type)
	assert.Equal(t, "0 0 2 * * *", tasks[1].CronExpression)
	assert.Equal(t, TaskHealthCheck, tasks[2].Type)
	assert.Equal(t, "0 */5 * * * *", tasks[2].CronExpression)

	for _, task := range tasks {
		assert.True(t, task.Enabled)
		assert.False(t, task.Running)
		assert.Nil(t, task.LastRun)
		assert.Zero(t, task.RunCount)
		assert.NotEmpty(t, task.ID)
		require.NotNil(t, task.NextRun)
	}
	assert.Equal(t, time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC), *tasks[0].NextRun)
	assert.Equal(t, time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC), *tasks[1].NextRun)
}

func TestTick_AutoRefreshOffIsNoop(t *testing.T) {
	f := newFixture(t)
	f.store.settings.AutoRefresh = false
	refresh := f.task(t, TaskFeedRefresh)

	f.sched.onTick(refresh.ID)

	after := f.task(t, TaskFeedRefresh)
	assert.Zero(t, after.RunCount)
	assert.Nil(t, after.LastRun)
	assert.Empty(t, f.fetcher.calls())
}

func TestTick_RespectsInterval(t *testing.T) {
	f := newFixture(t)
	f.store.settings.FetchIntervalMinutes = 60
	refresh := f.task(t, TaskFeedRefresh)

	f.sched.onTick(refresh.ID)
	assert.EqualValues(t, 1, f.task(t, TaskFeedRefresh).RunCount, "first tick runs")
	assert.Equal(t, []string{"a", "b"}, f.fetcher.calls(), "feeds at the error ceiling are excluded")

	f.now = f.now.Add(30 * time.Minute)
	f.sched.onTick(refresh.ID)
	assert.EqualValues(t, 1, f.task(t, TaskFeedRefresh).RunCount, "interval not elapsed")

	f.now = f.now.Add(30 * time.Minute)
	f.sched.onTick(refresh.ID)
	assert.EqualValues(t, 2, f.task(t, TaskFeedRefresh).RunCount)
}

func TestTick_SettingsErrorStillRefreshes(t *testing.T) {
	f := newFixture(t)
	f.store.settingsErr = errors.New("database is locked")

	f.sched.onTick(f.task(t, TaskFeedRefresh).ID)
	assert.EqualValues(t, 1, f.task(t, TaskFeedRefresh).RunCount)
}

func TestTick_DisabledTaskDoesNotRun(t *testing.T) {
	f := newFixture(t)
	health := f.task(t, TaskHealthCheck)
	require.NoError(t, f.sched.ToggleTask(health.ID, false))

	f.sched.onTick(health.ID)
	after := f.task(t, TaskHealthCheck)
	assert.False(t, after.Enabled)
	assert.Zero(t, after.RunCount)
}

func TestToggleTask_UnknownID(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.sched.ToggleTask("nope", true), apperr.ErrNotFound)
}

func TestExecuteTaskManually_UnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.ExecuteTaskManually(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.sched.TaskHistory("nope", 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExecuteTaskManually_DisabledTaskRuns(t *testing.T) {
	f := newFixture(t)
	cleanup := f.task(t, TaskIconCleanup)
	require.NoError(t, f.sched.ToggleTask(cleanup.ID, false))

	res, err := f.sched.ExecuteTaskManually(context.Background(), cleanup.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Cleaned up 4 expired icons", res.Message)
	assert.Equal(t, TriggerManual, res.Trigger)
	assert.Equal(t, cleanup.ID, res.TaskID)
	assert.Equal(t, "Icon Cache Cleanup", res.TaskName)

	after := f.task(t, TaskIconCleanup)
	assert.False(t, after.Enabled)
	assert.EqualValues(t, 1, after.RunCount)
	assert.EqualValues(t, 1, after.SuccessCount)
	require.NotNil(t, after.LastRun)
	assert.Equal(t, f.now, *after.LastRun)
}

func TestExecuteTaskManually_ManualRunIgnoresSettings(t *testing.T) {
	f := newFixture(t)
	f.store.settings.AutoRefresh = false

	res, err := f.sched.ExecuteTaskManually(context.Background(), f.task(t, TaskFeedRefresh).ID)
	require.NoError(t, err)
	assert.Equal(t, "Refreshed 2 feeds, 2 successful, 0 failed", res.Message)
}

func TestRefresh_IsolatesFeedFailures(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		t.Run(fmt.Sprintf("concurrent=%v", concurrent), func(t *testing.T) {
			f := newFixture(t)
			f.store.concurrent = concurrent
			f.store.feeds = append(f.store.feeds, model.Feed{ID: "d", URL: "https://d.example/feed"})
			f.fetcher.fail["b"] = &rss.FetchError{FeedID: "b", StatusCode: 503, Kind: apperr.ErrUpstream}

			res, err := f.sched.ExecuteTaskManually(context.Background(), f.task(t, TaskFeedRefresh).ID)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, "Refreshed 3 feeds, 2 successful, 1 failed", res.Message)
			assert.Equal(t, []string{"a", "b", "d"}, f.fetcher.calls())
			assert.Equal(t, map[string]string{"b": "HTTP 503 Service Unavailable"}, f.store.failures)

			task := f.task(t, TaskFeedRefresh)
			assert.EqualValues(t, 1, task.ErrorCount)
			require.NotNil(t, task.LastError)
			assert.Equal(t, res.Message, *task.LastError)
		})
	}
}

func TestRefresh_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.store.listErr = errors.New("no such table: feeds")

	res, err := f.sched.ExecuteTaskManually(context.Background(), f.task(t, TaskFeedRefresh).ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Failed to fetch feeds")
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	health := f.task(t, TaskHealthCheck)

	res, err := f.sched.ExecuteTaskManually(context.Background(), health.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "Database: OK, Memory: ")

	f.store.pingErr = errors.New("connection refused")
	res, err = f.sched.ExecuteTaskManually(context.Background(), health.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Database: ERROR")

	task := f.task(t, TaskHealthCheck)
	assert.EqualValues(t, 2, task.RunCount)
	assert.EqualValues(t, 1, task.SuccessCount)
	assert.EqualValues(t, 1, task.ErrorCount)
	require.NotNil(t, task.LastError)

	f.store.pingErr = nil
	_, err = f.sched.ExecuteTaskManually(context.Background(), health.ID)
	require.NoError(t, err)
	assert.Nil(t, f.task(t, TaskHealthCheck).LastError, "success clears the last error")
}

func TestIconCleanupFailure(t *testing.T) {
	f := newFixture(t)
	f.icons.err = errors.New("disk full")

	res, err := f.sched.ExecuteTaskManually(context.Background(), f.task(t, TaskIconCleanup).ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Failed to cleanup icons: disk full", res.Message)
}

func TestTaskHistory_NewestFirstAndBounded(t *testing.T) {
	f := newFixture(t, WithHistoryLimit(3))
	health := f.task(t, TaskHealthCheck)

	for i := 0; i < 5; i++ {
		f.now = f.now.Add(time.Minute)
		_, err := f.sched.ExecuteTaskManually(context.Background(), health.ID)
		require.NoError(t, err)
	}

	history, err := f.sched.TaskHistory(health.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].StartedAt.After(history[1].StartedAt))
	assert.True(t, history[1].StartedAt.After(history[2].StartedAt))

	history, err = f.sched.TaskHistory(health.ID, 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	other, err := f.sched.TaskHistory(f.task(t, TaskIconCleanup).ID, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.sched.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, f.sched.Stop(ctx))
}

func TestParseTaskType(t *testing.T) {
	for in, want := range map[string]TaskType{
		"feed_refresh": TaskFeedRefresh,
		"feed-refresh": TaskFeedRefresh,
		"Icon-Cleanup": TaskIconCleanup,
		"health_check": TaskHealthCheck,
	} {
		got, err := ParseTaskType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseTaskType("reboot")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) FetchFeed(ctx context.Context, _ string) (*rss.FetchResult, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return &rss.FetchResult{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStop_WaitsForManualRun(t *testing.T) {
	store := &fakeStore{feeds: []model.Feed{{ID: "a", URL: "https://a.example/feed"}}}
	fetcher := &blockingFetcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	sched, err := New(store, fetcher, &fakeIcons{})
	require.NoError(t, err)
	sched.Start()

	refresh, err := sched.TaskByType(TaskFeedRefresh)
	require.NoError(t, err)

	resCh := make(chan TaskExecutionResult, 1)
	go func() {
		res, err := sched.ExecuteTaskManually(context.Background(), refresh.ID)
		assert.NoError(t, err)
		resCh <- res
	}()
	<-fetcher.started

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sched.Stop(short), context.DeadlineExceeded)

	_, err = sched.ExecuteTaskManually(context.Background(), refresh.ID)
	assert.ErrorIs(t, err, ErrStopped)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- sched.Stop(ctx)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a manual run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(fetcher.release)
	require.NoError(t, <-stopped)
	res := <-resCh
	assert.True(t, res.Success, res.Message)
}
