package handler

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"collab-notes-backend/internal/files"
	"collab-notes-backend/internal/storage"
)

// FileHandler 회의 첨부 파일 핸들러
type FileHandler struct {
	files *files.Service
	s3    *storage.S3Service
}

// NewFileHandler FileHandler 생성. s3가 nil이면 업로드는 비활성화된다.
func NewFileHandler(svc *files.Service, s3 *storage.S3Service) *FileHandler {
	return &FileHandler{files: svc, s3: s3}
}

// ListFiles 첨부 파일 목록
func (h *FileHandler) ListFiles(c *fiber.Ctx) error {
	if h.files == nil {
		return c.JSON([]any{})
	}
	meetingID := c.Params("id")

	rows, err := h.files.List(c.Context(), meetingID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list files",
		})
	}
	return c.JSON(rows)
}

// UploadFile multipart 업로드
func (h *FileHandler) UploadFile(c *fiber.Ctx) error {
	if h.files == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "file upload is not configured",
		})
	}
	meetingID := c.Params("id")
	userName, _ := c.Locals("displayName").(string)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file field is required",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read file",
		})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read file",
		})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	file, err := h.files.Upload(c.Context(), meetingID, userName, fileHeader.Filename, contentType, data)
	if err != nil {
		switch {
		case errors.Is(err, files.ErrFileTooLarge),
			errors.Is(err, files.ErrEmptyFile),
			errors.Is(err, files.ErrTypeNotAllowed),
			errors.Is(err, files.ErrTooManyFiles):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to upload file",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(file)
}

// DeleteFile 첨부 파일 삭제
func (h *FileHandler) DeleteFile(c *fiber.Ctx) error {
	if h.files == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "file upload is not configured",
		})
	}
	meetingID := c.Params("id")
	fileID := c.Params("fileId")
	userName, _ := c.Locals("displayName").(string)

	if err := h.files.Delete(c.Context(), meetingID, userName, fileID); err != nil {
		if errors.Is(err, files.ErrFileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "file not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete file",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetPresignedURL 대용량 업로드용 Presigned URL 생성
func (h *FileHandler) GetPresignedURL(c *fiber.Ctx) error {
	if h.s3 == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "S3 service is not configured",
		})
	}
	meetingID := c.Params("id")

	var req struct {
		FileName    string `json:"file_name"`
		ContentType string `json:"content_type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.FileName == "" || req.ContentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file_name and content_type are required",
		})
	}

	presigned, err := h.s3.GenerateUploadURL(c.Context(), meetingID, req.FileName, req.ContentType)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate presigned URL",
		})
	}

	return c.JSON(fiber.Map{
		"upload_url": presigned.URL,
		"key":        presigned.Key,
	})
}

// GetDownloadURL 비공개 블롭 다운로드 URL
func (h *FileHandler) GetDownloadURL(c *fiber.Ctx) error {
	if h.s3 == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "S3 service is not configured",
		})
	}
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "key is required",
		})
	}

	url, err := h.s3.GenerateDownloadURL(c.Context(), key)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate download URL",
		})
	}
	return c.JSON(fiber.Map{
		"download_url": url,
	})
}
