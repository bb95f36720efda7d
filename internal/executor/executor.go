package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/publisher"
	"github.com/castline/castline/internal/store"
)

// Disposition tells the dispatcher what to do with a finished execution
// attempt. Publisher failures do not make a task retryable; only unexpected
// infrastructure errors do.
type Disposition int

const (
	DispositionOK Disposition = iota
	DispositionRetryable
	DispositionFatal
)

// Outcome records the result of one platform within a task.
type Outcome struct {
	Platform string `json:"platform"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"`
	Manual   bool   `json:"manual,omitempty"`
	PostID   string `json:"post_id,omitempty"`
	PostURL  string `json:"post_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report is the aggregated result of one execution attempt.
type Report struct {
	TaskID      string        `json:"task_id"`
	Status      models.Status `json:"status"`
	Outcomes    []Outcome     `json:"outcomes,omitempty"`
	Disposition Disposition   `json:"-"`
}

// Registry resolves a platform to its publisher.
type Registry interface {
	Get(platform publisher.Platform) (publisher.Publisher, error)
}

// Executor runs one task end to end: load content, publish to every platform
// in order, aggregate, persist. Re-running the same task is safe because
// receipted platforms are skipped, so redelivery after a crash is the normal
// recovery path.
type Executor struct {
	store    *store.Store
	registry Registry
	logger   *zap.Logger
}

func New(st *store.Store, registry Registry, logger *zap.Logger) *Executor {
	return &Executor{
		store:    st,
		registry: registry,
		logger:   logger,
	}
}

func (e *Executor) Execute(ctx context.Context, taskID string) (*Report, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Report{TaskID: taskID, Disposition: DispositionFatal}, err
		}
		return &Report{TaskID: taskID, Disposition: DispositionRetryable}, err
	}

	// A cancelled task is left exactly as it is.
	if task.Status == models.StatusCancelled {
		e.logger.Info("Task was cancelled before execution", zap.String("task_id", taskID))
		return &Report{TaskID: taskID, Status: models.StatusCancelled, Disposition: DispositionOK}, nil
	}
	if task.Status.Terminal() {
		e.logger.Info("Task already finished, nothing to do",
			zap.String("task_id", taskID),
			zap.String("status", string(task.Status)))
		return &Report{TaskID: taskID, Status: task.Status, Disposition: DispositionOK}, nil
	}

	// Content loss means the retention sweeper or an operator deleted state
	// a pending task still needed. Not retryable.
	content, err := e.store.GetContent(task.ContentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.failTask(taskID, "content not found")
			return &Report{TaskID: taskID, Status: models.StatusFailed, Disposition: DispositionFatal}, nil
		}
		return &Report{TaskID: taskID, Disposition: DispositionRetryable}, err
	}

	var contents publisher.ContentSet
	if err := json.Unmarshal([]byte(content.ContentsJSON), &contents); err != nil {
		e.failTask(taskID, fmt.Sprintf("malformed content payload: %v", err))
		return &Report{TaskID: taskID, Status: models.StatusFailed, Disposition: DispositionFatal}, nil
	}

	if err := e.store.UpdateTaskStatus(taskID, models.StatusRunning, "", ""); err != nil {
		if errors.Is(err, store.ErrTerminalStatus) {
			// Cancellation or a concurrent attempt won the race.
			task, getErr := e.store.GetTask(taskID)
			if getErr == nil {
				return &Report{TaskID: taskID, Status: task.Status, Disposition: DispositionOK}, nil
			}
		}
		return &Report{TaskID: taskID, Disposition: DispositionRetryable}, err
	}

	outcomes := make([]Outcome, 0, len(task.Platforms))
	for _, platformName := range task.Platforms {
		outcomes = append(outcomes, e.publishOne(ctx, taskID, platformName, contents))
	}

	status := aggregate(outcomes)
	resultJSON, err := json.Marshal(outcomes)
	if err != nil {
		return &Report{TaskID: taskID, Outcomes: outcomes, Disposition: DispositionRetryable}, err
	}
	if err := e.store.UpdateTaskStatus(taskID, status, "", string(resultJSON)); err != nil {
		return &Report{TaskID: taskID, Outcomes: outcomes, Disposition: DispositionRetryable}, err
	}

	e.logger.Info("Task execution finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
		zap.Int("platforms", len(outcomes)))

	return &Report{
		TaskID:      taskID,
		Status:      status,
		Outcomes:    outcomes,
		Disposition: DispositionOK,
	}, nil
}

// publishOne handles a single platform. Every branch records an outcome; one
// platform's failure never aborts the remaining platforms.
func (e *Executor) publishOne(ctx context.Context, taskID, platformName string, contents publisher.ContentSet) Outcome {
	outcome := Outcome{Platform: platformName}

	// Idempotent resume: a receipt means this platform already published in
	// a previous attempt.
	if receipt, err := e.store.CheckPublished(taskID, platformName); err == nil {
		e.logger.Info("Platform already published, skipping",
			zap.String("task_id", taskID),
			zap.String("platform", platformName))
		outcome.Success = true
		outcome.Skipped = true
		outcome.PostID = receipt.PostID
		outcome.PostURL = receipt.PostURL
		return outcome
	}

	platformContent, ok := contents[platformName]
	if !ok {
		outcome.Error = "no content for platform"
		return outcome
	}

	platform, err := publisher.ParsePlatform(platformName)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	pub, err := e.registry.Get(platform)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	if err := pub.Validate(&platformContent); err != nil {
		e.logger.Warn("Content failed platform validation",
			zap.String("task_id", taskID),
			zap.String("platform", platformName),
			zap.Error(err))
		outcome.Error = fmt.Sprintf("validation failed: %v", err)
		return outcome
	}

	result, err := pub.Publish(ctx, &platformContent)
	if err != nil {
		e.logger.Error("Publish failed",
			zap.String("task_id", taskID),
			zap.String("platform", platformName),
			zap.Error(err))
		outcome.Error = err.Error()
		return outcome
	}

	if err := e.store.MarkPublished(taskID, platformName, result.PostID, result.PostURL); err != nil {
		// Published but unreceipted: report the failure so a retry reconciles
		// it rather than silently losing the witness.
		e.logger.Error("Failed to record receipt",
			zap.String("task_id", taskID),
			zap.String("platform", platformName),
			zap.Error(err))
		outcome.Error = fmt.Sprintf("published but failed to record receipt: %v", err)
		return outcome
	}

	outcome.Success = true
	outcome.Manual = result.Manual
	outcome.PostID = result.PostID
	outcome.PostURL = result.PostURL
	return outcome
}

func (e *Executor) failTask(taskID, reason string) {
	if err := e.store.UpdateTaskStatus(taskID, models.StatusFailed, reason, ""); err != nil {
		e.logger.Error("Failed to mark task failed",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

// aggregate folds per-platform outcomes into the task-level status:
// completed when everything succeeded, failed when nothing did,
// partial_failure in between.
func aggregate(outcomes []Outcome) models.Status {
	all, any := true, false
	for _, o := range outcomes {
		if o.Success {
			any = true
		} else {
			all = false
		}
	}
	switch {
	case all:
		return models.StatusCompleted
	case any:
		return models.StatusPartialFailure
	default:
		return models.StatusFailed
	}
}
