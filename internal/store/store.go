package store

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateContent = errors.New("content already exists")
	ErrTerminalStatus   = errors.New("task is in a terminal status")
	ErrInvalidStatus    = errors.New("invalid status")
)

// CancelOutcome is the tri-state result of a cancellation attempt.
type CancelOutcome string

const (
	CancelOutcomeCancelled       CancelOutcome = "cancelled"
	CancelOutcomeAlreadyExecuted CancelOutcome = "already_executed"
	CancelOutcomeNotFound        CancelOutcome = "not_found"
)

// CleanupCounts reports rows deleted per table by one sweep.
type CleanupCounts struct {
	Contents int64 `json:"contents"`
	Tasks    int64 `json:"tasks"`
	Receipts int64 `json:"receipts"`
}

// Store is the single source of truth for tasks, content and receipts. All
// cross-task coordination happens through it; every mutation is a single
// guarded statement so unrelated tasks never contend.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the three tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Content{},
		&models.Task{},
		&models.Receipt{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// PutContent stores a write-once content blob. A second write under the same
// id fails with ErrDuplicateContent and leaves the original untouched.
func (s *Store) PutContent(contentID, contentsJSON string) error {
	content := models.Content{
		ContentID:    contentID,
		ContentsJSON: contentsJSON,
	}
	if err := s.db.Create(&content).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateContent, contentID)
		}
		return fmt.Errorf("failed to store content: %w", err)
	}
	return nil
}

func (s *Store) GetContent(contentID string) (*models.Content, error) {
	var content models.Content
	if err := s.db.Where("content_id = ?", contentID).First(&content).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("content %s: %w", contentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	return &content, nil
}

// CreateTask records a new task in scheduled state. The referenced content
// row must already exist.
func (s *Store) CreateTask(task *models.Task) error {
	if len(task.Platforms) == 0 {
		return fmt.Errorf("task %s has no platforms", task.TaskID)
	}
	if _, err := s.GetContent(task.ContentID); err != nil {
		return err
	}
	task.Status = models.StatusScheduled
	if err := s.db.Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(taskID string) (*models.Task, error) {
	var task models.Task
	if err := s.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return &task, nil
}

// SetExternalRef records the dispatch backend's correlation id for a task.
func (s *Store) SetExternalRef(taskID, ref string) error {
	res := s.db.Model(&models.Task{}).
		Where("task_id = ?", taskID).
		Update("external_ref", ref)
	if res.Error != nil {
		return fmt.Errorf("failed to set external ref: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// UpdateTaskStatus moves a task to the given status, stamping started_at on
// entry into running and finished_at on entry into any terminal status.
// Transitions out of a terminal status are refused; the state machine is
// monotonic.
func (s *Store) UpdateTaskStatus(taskID string, status models.Status, errMsg, result string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": status}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if result != "" {
		updates["result"] = result
	}
	if status == models.StatusRunning {
		updates["started_at"] = now
	}
	if status.Terminal() {
		updates["finished_at"] = now
	}

	res := s.db.Model(&models.Task{}).
		Where("task_id = ? AND status NOT IN ?", taskID, TerminalStatusNames()).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update task status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetTask(taskID); err != nil {
			return err
		}
		return fmt.Errorf("task %s: %w", taskID, ErrTerminalStatus)
	}
	return nil
}

// ClaimTask atomically moves a task from scheduled into running. It reports
// false when the task was already claimed, cancelled, terminal or missing,
// which is how concurrent redeliveries of the same task are serialized
// without whole-table locks.
func (s *Store) ClaimTask(taskID string) (bool, error) {
	res := s.db.Model(&models.Task{}).
		Where("task_id = ? AND status = ?", taskID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":     models.StatusRunning,
			"started_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// IncrementAttempts bumps the task-level retry counter and returns the new
// value.
func (s *Store) IncrementAttempts(taskID string) (int, error) {
	res := s.db.Model(&models.Task{}).
		Where("task_id = ?", taskID).
		Update("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	task, err := s.GetTask(taskID)
	if err != nil {
		return 0, err
	}
	return task.Attempts, nil
}

// CheckPublished is the idempotency read: it returns the receipt for
// (task, platform) if one exists.
func (s *Store) CheckPublished(taskID, platform string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := s.db.Where("task_id = ? AND platform = ?", taskID, platform).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("receipt for task %s platform %s: %w", taskID, platform, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to check receipt: %w", err)
	}
	return &receipt, nil
}

// MarkPublished writes the idempotency witness for (task, platform). The
// insert silently no-ops if a receipt already exists; re-marking is the
// documented recovery path, not an error.
func (s *Store) MarkPublished(taskID, platform, postID, postURL string) error {
	receipt := models.Receipt{
		TaskID:      taskID,
		Platform:    platform,
		PostID:      postID,
		PostURL:     postURL,
		PublishedAt: time.Now().UTC(),
	}
	err := s.db.Create(&receipt).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// CancelTask cancels a task that has not started yet. Once a task is running
// a publish may already be in flight, so cancellation is refused and reported
// as already_executed.
func (s *Store) CancelTask(taskID string) (CancelOutcome, error) {
	now := time.Now().UTC()
	res := s.db.Model(&models.Task{}).
		Where("task_id = ? AND status = ?", taskID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":      models.StatusCancelled,
			"finished_at": now,
		})
	if res.Error != nil {
		return "", fmt.Errorf("failed to cancel task: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return CancelOutcomeCancelled, nil
	}

	if _, err := s.GetTask(taskID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return CancelOutcomeNotFound, nil
		}
		return "", err
	}
	return CancelOutcomeAlreadyExecuted, nil
}

// ListTasks returns tasks most-recent-created first, optionally filtered by
// status. A zero limit defaults to 50.
func (s *Store) ListTasks(status models.Status, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.Model(&models.Task{}).Order("created_at DESC").Limit(limit)
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
		}
		query = query.Where("status = ?", status)
	}

	var tasks []*models.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// DueTasks returns scheduled tasks whose time has arrived, oldest first.
// Used by the dispatcher's poll loop to pick up tasks the timer backend
// missed or never knew about.
func (s *Store) DueTasks(now time.Time, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []*models.Task
	err := s.db.Model(&models.Task{}).
		Where("status = ? AND scheduled_time <= ?", models.StatusScheduled, now).
		Order("scheduled_time ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	return tasks, nil
}

// Cleanup reclaims content past the retention window, together with its tasks
// and receipts. A content row survives, regardless of age, while any
// referencing task is still scheduled or running: that state is needed by a
// task that has not finished yet.
func (s *Store) Cleanup(retention time.Duration) (CleanupCounts, error) {
	cutoff := time.Now().UTC().Add(-retention)
	var counts CleanupCounts

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Content ids blocked by a live or too-recent referencing task.
		blocked := tx.Model(&models.Task{}).
			Select("content_id").
			Where("status NOT IN ? OR created_at >= ?", TerminalStatusNames(), cutoff)

		var victims []string
		if err := tx.Model(&models.Content{}).
			Where("created_at < ?", cutoff).
			Where("content_id NOT IN (?)", blocked).
			Pluck("content_id", &victims).Error; err != nil {
			return err
		}
		if len(victims) == 0 {
			return nil
		}

		var taskIDs []string
		if err := tx.Model(&models.Task{}).
			Where("content_id IN ?", victims).
			Pluck("task_id", &taskIDs).Error; err != nil {
			return err
		}

		if len(taskIDs) > 0 {
			res := tx.Where("task_id IN ?", taskIDs).Delete(&models.Receipt{})
			if res.Error != nil {
				return res.Error
			}
			counts.Receipts = res.RowsAffected

			res = tx.Where("task_id IN ?", taskIDs).Delete(&models.Task{})
			if res.Error != nil {
				return res.Error
			}
			counts.Tasks = res.RowsAffected
		}

		res := tx.Where("content_id IN ?", victims).Delete(&models.Content{})
		if res.Error != nil {
			return res.Error
		}
		counts.Contents = res.RowsAffected
		return nil
	})
	if err != nil {
		return CleanupCounts{}, fmt.Errorf("cleanup failed: %w", err)
	}

	if counts.Contents > 0 {
		s.logger.Info("Retention cleanup removed rows",
			zap.Int64("contents", counts.Contents),
			zap.Int64("tasks", counts.Tasks),
			zap.Int64("receipts", counts.Receipts))
	}
	return counts, nil
}

// TerminalStatusNames returns the terminal statuses as plain strings for SQL
// IN clauses.
func TerminalStatusNames() []string {
	statuses := models.TerminalStatuses()
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return names
}
