package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"taskboard/internal/middleware"
	"taskboard/internal/models"
	"taskboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TaskHandler struct {
	taskService services.TaskService
}

func NewTaskHandler(taskService services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	DueDate     string `json:"dueDate"`
}

// updateTaskRequest keeps dueDate raw so an explicit null (clear) can be told
// apart from an absent field (leave unchanged).
type updateTaskRequest struct {
	ID          string          `json:"id"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Status      *string         `json:"status"`
	DueDate     json.RawMessage `json:"dueDate"`
}

func owner(c *gin.Context) (string, bool) {
	id := middleware.OwnerID(c)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return "", false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": err.Error(),
	})
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	query := services.ListQuery{
		Filter: c.DefaultQuery("filter", services.FilterAll),
		Search: c.Query("q"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			handleTaskError(c, &services.ValidationError{Field: "limit", Message: "must be an integer"})
			return
		}
		query.Limit = limit
	}

	tasks, err := h.taskService.ListTasks(c.Request.Context(), ownerID, query)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		handleTaskError(c, services.ErrNotFound)
		return
	}

	task, err := h.taskService.GetTask(c.Request.Context(), ownerID, id)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	input := services.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatus(req.Status),
	}
	if strings.TrimSpace(req.DueDate) != "" {
		due, err := models.ParseDueDate(req.DueDate)
		if err != nil {
			handleTaskError(c, &services.ValidationError{Field: "dueDate", Message: err.Error()})
			return
		}
		input.DueDate = &due
	}

	task, err := h.taskService.CreateTask(c.Request.Context(), ownerID, input)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		badRequest(c, errors.New("id is required"))
		return
	}
	id, err := uuid.FromString(strings.TrimSpace(req.ID))
	if err != nil {
		handleTaskError(c, services.ErrNotFound)
		return
	}

	patch := services.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Status != nil {
		status := models.TaskStatus(*req.Status)
		patch.Status = &status
	}
	patch.DueDate, err = parseOptionalDate(req.DueDate)
	if err != nil {
		handleTaskError(c, &services.ValidationError{Field: "dueDate", Message: err.Error()})
		return
	}

	task, err := h.taskService.UpdateTask(c.Request.Context(), ownerID, id, patch)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func parseOptionalDate(raw json.RawMessage) (services.OptionalDate, error) {
	if len(raw) == 0 {
		return services.OptionalDate{}, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return services.OptionalDate{Set: true}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return services.OptionalDate{}, models.ErrInvalidDate
	}
	if strings.TrimSpace(s) == "" {
		return services.OptionalDate{Set: true}, nil
	}
	due, err := models.ParseDueDate(s)
	if err != nil {
		return services.OptionalDate{}, err
	}
	return services.OptionalDate{Set: true, Value: &due}, nil
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	raw := strings.TrimSpace(c.Query("id"))
	if raw == "" {
		badRequest(c, errors.New("id query parameter is required"))
		return
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		handleTaskError(c, services.ErrNotFound)
		return
	}

	if err := h.taskService.DeleteTask(c.Request.Context(), ownerID, id); err != nil {
		handleTaskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TaskHandler) GetStats(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}

	result, err := h.taskService.GetStats(c.Request.Context(), ownerID)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleTaskError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   verr.Field,
			"message": verr.Message,
		})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
	case errors.Is(err, services.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "not authenticated",
		})
	default:
		log.Printf("[tasks] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to process task request",
		})
	}
}
