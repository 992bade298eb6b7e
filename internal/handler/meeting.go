package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"collab-notes-backend/internal/ai"
	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/note"
	"collab-notes-backend/internal/store"
)

// MeetingHandler 회의, 노트, 활동 피드 핸들러
type MeetingHandler struct {
	store     store.Store
	ai        *ai.Client
	coalescer *note.Coalescer
	feedLimit int
}

// NewMeetingHandler MeetingHandler 생성
func NewMeetingHandler(st store.Store, aiClient *ai.Client, coalescer *note.Coalescer, feedLimit int) *MeetingHandler {
	return &MeetingHandler{store: st, ai: aiClient, coalescer: coalescer, feedLimit: feedLimit}
}

// CreateMeetingRequest 회의 생성 요청
type CreateMeetingRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// UpdateNoteRequest 노트 저장 요청
type UpdateNoteRequest struct {
	Text string `json:"text"`
}

// ActivityResponse 활동 피드 항목
type ActivityResponse struct {
	model.MeetingActivity
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// CreateMeeting 회의 생성. 빈 노트가 함께 만들어진다.
func (h *MeetingHandler) CreateMeeting(c *fiber.Ctx) error {
	var req CreateMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	meeting := &model.Meeting{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
	}
	if err := h.store.Insert(c.Context(), "meetings", meeting); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create meeting",
		})
	}

	emptyNote := &model.Note{MeetingID: meeting.ID}
	if err := h.store.Insert(c.Context(), "notes", emptyNote); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create note",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(meeting)
}

// ListMeetings 회의 목록, 최신순
func (h *MeetingHandler) ListMeetings(c *fiber.Ctx) error {
	var meetings []model.Meeting
	q := store.Query{OrderBy: "created_at", Desc: true}
	if err := h.store.Select(c.Context(), "meetings", q, &meetings); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list meetings",
		})
	}
	return c.JSON(meetings)
}

// GetMeeting 회의 단건 조회
func (h *MeetingHandler) GetMeeting(c *fiber.Ctx) error {
	meetingID := c.Params("id")

	var meetings []model.Meeting
	if err := h.store.Select(c.Context(), "meetings", store.Eq("id", meetingID), &meetings); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load meeting",
		})
	}
	if len(meetings) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "meeting not found",
		})
	}
	return c.JSON(meetings[0])
}

// GetNote 회의 노트 조회
func (h *MeetingHandler) GetNote(c *fiber.Ctx) error {
	meetingID := c.Params("id")

	noteRow, err := h.loadNote(c, meetingID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load note",
		})
	}
	if noteRow == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "note not found",
		})
	}
	return c.JSON(noteRow)
}

// UpdateNote 노트 저장. 마지막 저장이 이긴다.
func (h *MeetingHandler) UpdateNote(c *fiber.Ctx) error {
	meetingID := c.Params("id")
	userName, _ := c.Locals("displayName").(string)

	var req UpdateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	q := store.Eq("meeting_id", meetingID)
	err := h.store.Update(c.Context(), "notes", q, map[string]any{
		"content": model.NoteContent{Text: req.Text},
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save note",
		})
	}

	h.coalescer.RecordEdit(c.Context(), meetingID, userName, len([]rune(req.Text)))

	noteRow, loadErr := h.loadNote(c, meetingID)
	if loadErr != nil || noteRow == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load note",
		})
	}
	return c.JSON(noteRow)
}

// GetActivities 활동 피드, 최신 N건
func (h *MeetingHandler) GetActivities(c *fiber.Ctx) error {
	meetingID := c.Params("id")

	var rows []model.MeetingActivity
	q := store.Eq("meeting_id", meetingID).Order("created_at", true).Take(h.feedLimit)
	if err := h.store.Select(c.Context(), "meeting_activities", q, &rows); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load activities",
		})
	}

	out := make([]ActivityResponse, 0, len(rows))
	for i := range rows {
		out = append(out, ActivityResponse{
			MeetingActivity: rows[i],
			Description:     model.DescribeActivity(&rows[i]),
			Icon:            model.ActivityIcon(rows[i].ActivityType),
		})
	}
	return c.JSON(out)
}

// GenerateSummary 노트, 태그, 태스크를 모아 AI 요약 생성
func (h *MeetingHandler) GenerateSummary(c *fiber.Ctx) error {
	if h.ai == nil || !h.ai.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "summary generation is not available",
		})
	}
	meetingID := c.Params("id")

	var meetings []model.Meeting
	if err := h.store.Select(c.Context(), "meetings", store.Eq("id", meetingID), &meetings); err != nil || len(meetings) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "meeting not found",
		})
	}

	var notes []model.Note
	if err := h.store.Select(c.Context(), "notes", store.Eq("meeting_id", meetingID), &notes); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load note",
		})
	}
	noteText := ""
	if len(notes) > 0 {
		noteText = notes[0].Content.Text
	}

	var tags []model.Tag
	_ = h.store.Select(c.Context(), "tags", store.Eq("meeting_id", meetingID), &tags)
	var tasks []model.Task
	_ = h.store.Select(c.Context(), "tasks", store.Eq("meeting_id", meetingID), &tasks)

	summary, err := h.ai.GenerateSummary(c.Context(), meetings[0].Title, noteText, tags, tasks)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "summary generation failed",
		})
	}

	return c.JSON(fiber.Map{
		"summary": summary,
	})
}

// loadNote nil note means not found.
func (h *MeetingHandler) loadNote(c *fiber.Ctx, meetingID string) (*model.Note, error) {
	var notes []model.Note
	if err := h.store.Select(c.Context(), "notes", store.Eq("meeting_id", meetingID), &notes); err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return &notes[0], nil
}
