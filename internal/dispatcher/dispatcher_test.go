package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/executor"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/store"
)

type stubExecutor struct {
	mu          sync.Mutex
	disposition executor.Disposition
	status      models.Status
	calls       []string
}

func (s *stubExecutor) Execute(_ context.Context, taskID string) (*executor.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, taskID)
	return &executor.Report{
		TaskID:      taskID,
		Status:      s.status,
		Disposition: s.disposition,
	}, nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return store.New(db, zap.NewNop())
}

func seedTask(t *testing.T, st *store.Store, taskID string, when time.Time) {
	t.Helper()
	contentID := "content-" + taskID
	require.NoError(t, st.PutContent(contentID, `{"x":{"text":"hi"}}`))
	require.NoError(t, st.CreateTask(&models.Task{
		TaskID:        taskID,
		ContentID:     contentID,
		Platforms:     []string{"x"},
		ScheduledTime: when,
	}))
}

func testConfig() *config.DispatcherConfig {
	return &config.DispatcherConfig{
		Enabled:      true,
		PollInterval: "10ms",
		Workers:      2,
		MaxRetries:   3,
		RetryBackoff: "1ms",
	}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := time.Minute

	assert.Equal(t, time.Minute, Backoff(base, 1))
	assert.Equal(t, 2*time.Minute, Backoff(base, 2))
	assert.Equal(t, 4*time.Minute, Backoff(base, 3))
	assert.Equal(t, time.Minute, Backoff(base, 0))
}

func TestScheduleUnavailableLeavesTaskScheduled(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t1", time.Now().UTC().Add(time.Hour))

	d := New(testConfig(), st, &stubExecutor{}, zap.NewNop())
	// Never started: the backend is "down".
	task, err := st.GetTask("t1")
	require.NoError(t, err)

	ref, err := d.Schedule(task)
	require.NoError(t, err)
	assert.Empty(t, ref)

	task, err = st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, task.Status)
	assert.Empty(t, task.ExternalRef)
}

func TestScheduleRecordsExternalRef(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t1", time.Now().UTC().Add(time.Hour))

	cfg := testConfig()
	cfg.PollInterval = "1h"
	d := New(cfg, st, &stubExecutor{disposition: executor.DispositionOK}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	task, err := st.GetTask("t1")
	require.NoError(t, err)

	ref, err := d.Schedule(task)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	task, err = st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, ref, task.ExternalRef)
}

func TestPollDeliversDueTask(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t-due", time.Now().UTC().Add(-time.Minute))

	stub := &stubExecutor{disposition: executor.DispositionOK, status: models.StatusCompleted}
	d := New(testConfig(), st, stub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	require.Eventually(t, func() bool {
		return stub.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The poll path claims before executing.
	task, err := st.GetTask("t-due")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, task.Status)
}

func TestFutureTaskNotDelivered(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t-future", time.Now().UTC().Add(time.Hour))

	stub := &stubExecutor{disposition: executor.DispositionOK}
	d := New(testConfig(), st, stub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, stub.callCount())

	task, err := st.GetTask("t-future")
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, task.Status)
}

func TestRetryExhaustionMarksTaskFailed(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t-retry", time.Now().UTC().Add(-time.Minute))

	stub := &stubExecutor{disposition: executor.DispositionRetryable}
	cfg := testConfig()
	cfg.MaxRetries = 2
	d := New(cfg, st, stub, zap.NewNop())

	d.runTask(context.Background(), "t-retry")

	// Initial attempt plus two retries before the budget runs out.
	assert.Equal(t, 3, stub.callCount())

	task, err := st.GetTask("t-retry")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "max retries exceeded", task.Error)
	assert.Equal(t, 3, task.Attempts)
}

func TestRunTaskSkipsUnclaimable(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t1", time.Now().UTC().Add(-time.Minute))

	outcome, err := st.CancelTask("t1")
	require.NoError(t, err)
	require.Equal(t, store.CancelOutcomeCancelled, outcome)

	stub := &stubExecutor{disposition: executor.DispositionOK}
	d := New(testConfig(), st, stub, zap.NewNop())

	d.runTask(context.Background(), "t1")
	assert.Zero(t, stub.callCount())
}

func TestCancelStopsPendingTimer(t *testing.T) {
	st := newTestStore(t)
	seedTask(t, st, "t1", time.Now().UTC().Add(time.Hour))

	cfg := testConfig()
	cfg.PollInterval = "1h"
	stub := &stubExecutor{disposition: executor.DispositionOK}
	d := New(cfg, st, stub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	_, err = d.Schedule(task)
	require.NoError(t, err)

	outcome, err := d.Cancel("t1")
	require.NoError(t, err)
	assert.Equal(t, store.CancelOutcomeCancelled, outcome)

	d.mu.Lock()
	timerCount := len(d.timers)
	d.mu.Unlock()
	assert.Zero(t, timerCount)

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestCancelMissingTask(t *testing.T) {
	st := newTestStore(t)
	d := New(testConfig(), st, &stubExecutor{}, zap.NewNop())

	outcome, err := d.Cancel("missing")
	require.NoError(t, err)
	assert.Equal(t, store.CancelOutcomeNotFound, outcome)
}
