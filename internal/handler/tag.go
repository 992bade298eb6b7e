package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

// TagHandler 회의 태그 핸들러
type TagHandler struct {
	store store.Store
}

// NewTagHandler TagHandler 생성
func NewTagHandler(st store.Store) *TagHandler {
	return &TagHandler{store: st}
}

// CreateTagRequest 태그 생성 요청
type CreateTagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ListTags 태그 목록
func (h *TagHandler) ListTags(c *fiber.Ctx) error {
	meetingID := c.Params("id")

	var tags []model.Tag
	q := store.Eq("meeting_id", meetingID).Order("created_at", false)
	if err := h.store.Select(c.Context(), "tags", q, &tags); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list tags",
		})
	}
	return c.JSON(tags)
}

// CreateTag 태그 생성
func (h *TagHandler) CreateTag(c *fiber.Ctx) error {
	meetingID := c.Params("id")
	userName, _ := c.Locals("displayName").(string)

	var req CreateTagRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}
	if req.Color == "" {
		req.Color = model.UserColors[0]
	}

	tag := &model.Tag{
		MeetingID: meetingID,
		Name:      req.Name,
		Color:     req.Color,
	}
	if err := h.store.Insert(c.Context(), "tags", tag); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create tag",
		})
	}

	recordActivity(c.Context(), h.store, meetingID, userName, model.ActivityAddTag,
		&model.AddTagPayload{TagName: tag.Name, TagColor: tag.Color})

	return c.Status(fiber.StatusCreated).JSON(tag)
}
