package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/executor"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/publisher"
	"github.com/castline/castline/internal/store"
)

type createTaskRequest struct {
	Platforms     []string                     `json:"platforms" binding:"required,min=1"`
	ScheduledTime time.Time                    `json:"scheduled_time" binding:"required"`
	Contents      map[string]publisher.Content `json:"contents" binding:"required"`
}

type taskResponse struct {
	*models.Task
	Outcomes []executor.Outcome `json:"outcomes,omitempty"`
}

// handleCreateTask stores the content blob, records the task and hands it to
// the dispatcher. The task row is durable before dispatch is attempted, so a
// down dispatcher never loses a scheduling request.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Unknown platform names are rejected here, not at execution time.
	platforms := make([]string, 0, len(req.Platforms))
	for _, name := range req.Platforms {
		platform, err := publisher.ParsePlatform(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		platforms = append(platforms, string(platform))
	}

	contentsJSON, err := json.Marshal(req.Contents)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contents payload"})
		return
	}

	contentID := uuid.NewString()
	taskID := uuid.NewString()

	if err := s.Store.PutContent(contentID, string(contentsJSON)); err != nil {
		s.Logger.Error("Failed to store content", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store content"})
		return
	}

	task := &models.Task{
		TaskID:        taskID,
		ContentID:     contentID,
		Platforms:     platforms,
		ScheduledTime: req.ScheduledTime.UTC(),
	}
	if err := s.Store.CreateTask(task); err != nil {
		s.Logger.Error("Failed to create task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}

	externalRef, err := s.Dispatcher.Schedule(task)
	if err != nil {
		// The task is durably recorded; dispatch can happen via poll or the
		// execute endpoint later.
		s.Logger.Warn("Dispatch registration failed, task stays scheduled",
			zap.String("task_id", taskID),
			zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"task_id":        taskID,
		"content_id":     contentID,
		"external_ref":   externalRef,
		"status":         models.StatusScheduled,
		"scheduled_time": task.ScheduledTime,
	})
}

func (s *Server) handleListTasks(c *gin.Context) {
	status := models.Status(c.Query("status"))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	tasks, err := s.Store.ListTasks(status, limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Logger.Error("Failed to list tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.Store.GetTask(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.Logger.Error("Failed to get task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get task"})
		return
	}

	resp := taskResponse{Task: task}
	if task.Result != "" {
		// Result is stored serialized; decode it back into the structured
		// per-platform outcome list for the API.
		if err := json.Unmarshal([]byte(task.Result), &resp.Outcomes); err != nil {
			s.Logger.Warn("Failed to decode task result",
				zap.String("task_id", task.TaskID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	outcome, err := s.Dispatcher.Cancel(c.Param("id"))
	if err != nil {
		s.Logger.Error("Failed to cancel task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel task"})
		return
	}

	switch outcome {
	case store.CancelOutcomeCancelled:
		c.JSON(http.StatusOK, gin.H{"result": outcome})
	case store.CancelOutcomeAlreadyExecuted:
		c.JSON(http.StatusConflict, gin.H{"result": outcome})
	default:
		c.JSON(http.StatusNotFound, gin.H{"result": outcome})
	}
}

// handleExecuteTask is the manual/alternate trigger for tasks the dispatch
// backend never picked up.
func (s *Server) handleExecuteTask(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := s.Store.GetTask(taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.Logger.Error("Failed to get task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get task"})
		return
	}

	s.Dispatcher.Trigger(taskID)
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "triggered": true})
}

type cleanupRequest struct {
	RetentionHours int `json:"retention_hours"`
}

func (s *Server) handleCleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	retention := config.Duration(s.Config.Retention.Window, 30*24*time.Hour)
	if req.RetentionHours > 0 {
		retention = time.Duration(req.RetentionHours) * time.Hour
	}

	counts, err := s.Sweeper.Sweep(retention)
	if err != nil {
		s.Logger.Error("Cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": counts})
}
