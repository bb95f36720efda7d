package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/executor"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/store"
)

// maxRetriesExceeded is the terminal error recorded when the bounded
// task-level retry budget runs out.
const maxRetriesExceeded = "max retries exceeded"

// TaskExecutor is the slice of the executor the dispatcher needs. Execute
// always returns a report, even alongside an error.
type TaskExecutor interface {
	Execute(ctx context.Context, taskID string) (*executor.Report, error)
}

// Dispatcher guarantees the executor is invoked at-or-after each task's
// scheduled time, at least once. Delivery comes from two directions: an
// in-process timer registered at schedule time, and a poll loop that picks up
// due tasks the timers missed (process restarts, or tasks scheduled while the
// dispatcher was down). Exactly-once effect is the executor's job, not ours.
type Dispatcher struct {
	cfg    *config.DispatcherConfig
	store  *store.Store
	exec   TaskExecutor
	logger *zap.Logger

	ticker *time.Ticker
	stopCh chan struct{}
	jobCh  chan string
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*time.Timer
	started bool
}

func New(cfg *config.DispatcherConfig, st *store.Store, exec TaskExecutor, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		store:  st,
		exec:   exec,
		logger: logger,
		stopCh: make(chan struct{}),
		jobCh:  make(chan string, 64),
		timers: make(map[string]*time.Timer),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.cfg.Enabled {
		d.logger.Info("Dispatcher is disabled")
		return nil
	}

	interval := config.Duration(d.cfg.PollInterval, 30*time.Second)

	d.logger.Info("Starting dispatcher",
		zap.Duration("poll_interval", interval),
		zap.Int("workers", d.cfg.Workers))

	d.mu.Lock()
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.ticker = time.NewTicker(interval)

	// Recover tasks that came due while the process was down
	go func() {
		d.logger.Info("Running initial due-task sweep")
		d.pollDue()
	}()

	go func() {
		for {
			select {
			case <-d.ticker.C:
				d.pollDue()
			case <-d.stopCh:
				d.logger.Info("Dispatcher stopped")
				return
			case <-ctx.Done():
				d.logger.Info("Dispatcher context cancelled")
				return
			}
		}
	}()

	return nil
}

func (d *Dispatcher) Stop() {
	if d.ticker != nil {
		d.ticker.Stop()
	}

	d.mu.Lock()
	d.started = false
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("Dispatcher shutdown completed")
}

// Schedule registers a timer for an already-durable task row and records the
// timer's entry id as the task's external ref. When the dispatcher is not
// running the task simply stays scheduled with no ref; the poll loop or a
// manual trigger delivers it later. Scheduling is never lost just because
// the dispatch backend is down.
func (d *Dispatcher) Schedule(task *models.Task) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		d.logger.Warn("Dispatcher unavailable, task stays pending for poll pickup",
			zap.String("task_id", task.TaskID))
		return "", nil
	}

	entryID := uuid.NewString()
	taskID := task.TaskID
	delay := time.Until(task.ScheduledTime)
	if delay < 0 {
		delay = 0
	}

	d.timers[entryID] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, entryID)
		d.mu.Unlock()
		d.enqueue(taskID)
	})

	if err := d.store.SetExternalRef(taskID, entryID); err != nil {
		d.logger.Error("Failed to record dispatch ref",
			zap.String("task_id", taskID),
			zap.Error(err))
	}

	d.logger.Info("Task scheduled for dispatch",
		zap.String("task_id", taskID),
		zap.String("entry_id", entryID),
		zap.Duration("delay", delay))

	return entryID, nil
}

// Cancel forwards cancellation to the store and, when it succeeds, stops the
// pending timer so the entry does not fire into a no-op claim.
func (d *Dispatcher) Cancel(taskID string) (store.CancelOutcome, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return store.CancelOutcomeNotFound, nil
	}

	outcome, err := d.store.CancelTask(taskID)
	if err != nil {
		return "", err
	}

	if outcome == store.CancelOutcomeCancelled && task.ExternalRef != "" {
		d.mu.Lock()
		if timer, ok := d.timers[task.ExternalRef]; ok {
			timer.Stop()
			delete(d.timers, task.ExternalRef)
		}
		d.mu.Unlock()
	}

	return outcome, nil
}

// Trigger delivers a task immediately, bypassing its timer and the worker
// queue. This is the manual/alternate delivery path and works even when the
// dispatch loop itself is disabled. A task stuck in running after a worker
// crash can be re-driven this way; the executor's receipt checks make the
// re-run safe.
func (d *Dispatcher) Trigger(taskID string) {
	go func() {
		claimed, err := d.store.ClaimTask(taskID)
		if err != nil {
			d.logger.Error("Failed to claim task",
				zap.String("task_id", taskID),
				zap.Error(err))
			return
		}
		if !claimed {
			task, err := d.store.GetTask(taskID)
			if err != nil || task.Status != models.StatusRunning {
				return
			}
		}
		d.execute(context.Background(), taskID)
	}()
}

func (d *Dispatcher) pollDue() {
	tasks, err := d.store.DueTasks(time.Now().UTC(), 100)
	if err != nil {
		d.logger.Error("Due-task sweep failed", zap.Error(err))
		return
	}
	for _, task := range tasks {
		d.enqueue(task.TaskID)
	}
}

func (d *Dispatcher) enqueue(taskID string) {
	select {
	case d.jobCh <- taskID:
	default:
		// Queue is saturated; the next poll will pick the task up again.
		d.logger.Warn("Dispatch queue full, deferring task",
			zap.String("task_id", taskID))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case taskID := <-d.jobCh:
			d.runTask(ctx, taskID)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runTask drives one delivery: claim, execute, and retry with exponential
// backoff on retryable failures until the attempt budget is spent.
func (d *Dispatcher) runTask(ctx context.Context, taskID string) {
	claimed, err := d.store.ClaimTask(taskID)
	if err != nil {
		d.logger.Error("Failed to claim task",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if !claimed {
		// Cancelled, already delivered, or another worker owns it.
		return
	}

	d.execute(ctx, taskID)
}

// execute runs one delivery attempt cycle for an already-claimed task.
func (d *Dispatcher) execute(ctx context.Context, taskID string) {
	backoff := config.Duration(d.cfg.RetryBackoff, time.Minute)

	for {
		report, err := d.exec.Execute(ctx, taskID)
		if err != nil {
			d.logger.Error("Task execution errored",
				zap.String("task_id", taskID),
				zap.Error(err))
		}
		if report.Disposition != executor.DispositionRetryable {
			return
		}

		attempts, attErr := d.store.IncrementAttempts(taskID)
		if attErr != nil {
			d.logger.Error("Failed to count retry attempt",
				zap.String("task_id", taskID),
				zap.Error(attErr))
			return
		}
		if attempts > d.cfg.MaxRetries {
			d.logger.Error("Retry budget exhausted",
				zap.String("task_id", taskID),
				zap.Int("attempts", attempts))
			if err := d.store.UpdateTaskStatus(taskID, models.StatusFailed, maxRetriesExceeded, ""); err != nil {
				d.logger.Error("Failed to mark task failed",
					zap.String("task_id", taskID),
					zap.Error(err))
			}
			return
		}

		delay := Backoff(backoff, attempts)
		d.logger.Info("Retrying task after backoff",
			zap.String("task_id", taskID),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Backoff returns the delay before the given retry attempt (1-based),
// doubling per attempt from the configured base.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}
