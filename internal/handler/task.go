package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

// TaskHandler 회의 태스크 핸들러
type TaskHandler struct {
	store store.Store
}

// NewTaskHandler TaskHandler 생성
func NewTaskHandler(st store.Store) *TaskHandler {
	return &TaskHandler{store: st}
}

// CreateTaskRequest 태스크 생성 요청
type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// UpdateTaskStatusRequest 태스크 상태 변경 요청
type UpdateTaskStatusRequest struct {
	Status model.TaskStatus `json:"status"`
}

// ListTasks 태스크 목록
func (h *TaskHandler) ListTasks(c *fiber.Ctx) error {
	meetingID := c.Params("id")

	var tasks []model.Task
	q := store.Eq("meeting_id", meetingID).Order("created_at", false)
	if err := h.store.Select(c.Context(), "tasks", q, &tasks); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list tasks",
		})
	}
	return c.JSON(tasks)
}

// CreateTask 태스크 생성
func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	meetingID := c.Params("id")
	userName, _ := c.Locals("displayName").(string)

	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	task := &model.Task{
		MeetingID:   meetingID,
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
		Status:      model.TaskStatusPending,
	}
	if req.DueDate != nil {
		due, err := time.Parse(time.RFC3339, *req.DueDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "due_date must be RFC3339",
			})
		}
		task.DueDate = &due
	}
	if err := h.store.Insert(c.Context(), "tasks", task); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create task",
		})
	}

	assignee := ""
	if req.Assignee != nil {
		assignee = *req.Assignee
	}
	recordActivity(c.Context(), h.store, meetingID, userName, model.ActivityAddTask,
		&model.AddTaskPayload{TaskTitle: task.Title, TaskAssignee: assignee})

	return c.Status(fiber.StatusCreated).JSON(task)
}

// UpdateTaskStatus 태스크 상태 변경
func (h *TaskHandler) UpdateTaskStatus(c *fiber.Ctx) error {
	meetingID := c.Params("id")
	taskID := c.Params("taskId")
	userName, _ := c.Locals("displayName").(string)

	var req UpdateTaskStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if !req.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid task status",
		})
	}

	q := store.Eq("meeting_id", meetingID).And("id", taskID)
	var tasks []model.Task
	if err := h.store.Select(c.Context(), "tasks", q, &tasks); err != nil || len(tasks) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "task not found",
		})
	}

	if err := h.store.Update(c.Context(), "tasks", q, map[string]any{
		"status": req.Status,
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update task",
		})
	}

	recordActivity(c.Context(), h.store, meetingID, userName, model.ActivityUpdateTask,
		&model.UpdateTaskPayload{TaskID: taskID, NewStatus: req.Status})

	tasks[0].Status = req.Status
	return c.JSON(tasks[0])
}

// DeleteTask 태스크 삭제
func (h *TaskHandler) DeleteTask(c *fiber.Ctx) error {
	meetingID := c.Params("id")
	taskID := c.Params("taskId")
	userName, _ := c.Locals("displayName").(string)

	q := store.Eq("meeting_id", meetingID).And("id", taskID)
	var tasks []model.Task
	if err := h.store.Select(c.Context(), "tasks", q, &tasks); err != nil || len(tasks) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "task not found",
		})
	}

	if err := h.store.Delete(c.Context(), "tasks", q); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete task",
		})
	}

	recordActivity(c.Context(), h.store, meetingID, userName, model.ActivityDeleteTask,
		&model.DeleteTaskPayload{TaskTitle: tasks[0].Title})

	return c.SendStatus(fiber.StatusNoContent)
}
