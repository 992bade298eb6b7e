package files

import (
	"context"
	"errors"
	"fmt"
	"log"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

var (
	ErrFileTooLarge   = errors.New("file exceeds the size limit")
	ErrEmptyFile      = errors.New("file is empty")
	ErrTypeNotAllowed = errors.New("file type is not allowed")
	ErrTooManyFiles   = errors.New("meeting file limit reached")
	ErrFileNotFound   = errors.New("file not found")
)

// allowedMimeTypes upload allowlist
var allowedMimeTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"text/markdown":      true,
	"text/csv":           true,
	"application/zip":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-powerpoint":                                           true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// BlobStore where file bytes live. Metadata stays in the row store.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Remove(ctx context.Context, key string) error
	GetPublicURL(key string) string
}

// KeyFunc builds the storage key for a new upload.
type KeyFunc func(meetingID, fileName string) string

// Service validates and stores meeting attachments. An upload is blob first,
// metadata second; when the metadata insert fails the uploaded blob is
// removed again so no orphan survives.
type Service struct {
	store    store.Store
	blobs    BlobStore
	key      KeyFunc
	maxSize  int64
	maxFiles int
}

func NewService(st store.Store, blobs BlobStore, key KeyFunc, maxSize int64, maxFiles int) *Service {
	return &Service{store: st, blobs: blobs, key: key, maxSize: maxSize, maxFiles: maxFiles}
}

// Upload stores one attachment and records an upload activity.
func (s *Service) Upload(ctx context.Context, meetingID, userName, fileName, contentType string, data []byte) (*model.MeetingFile, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, len(data))
	}
	if !allowedMimeTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotAllowed, contentType)
	}

	var existing []model.MeetingFile
	if err := s.store.Select(ctx, "meeting_files", store.Eq("meeting_id", meetingID), &existing); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	if s.maxFiles > 0 && len(existing) >= s.maxFiles {
		return nil, ErrTooManyFiles
	}

	key := s.key(meetingID, fileName)
	if err := s.blobs.Upload(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	file := &model.MeetingFile{
		MeetingID:  meetingID,
		FileName:   fileName,
		FileURL:    s.blobs.GetPublicURL(key),
		StorageKey: key,
		Uploader:   userName,
		FileSize:   int64(len(data)),
		MimeType:   contentType,
	}
	if err := s.store.Insert(ctx, "meeting_files", file); err != nil {
		// 메타데이터 실패 시 올라간 블롭을 되돌린다
		if rmErr := s.blobs.Remove(ctx, key); rmErr != nil {
			log.Printf("[Files] orphan blob %s cleanup failed: %v", key, rmErr)
		}
		return nil, fmt.Errorf("store metadata: %w", err)
	}

	s.recordActivity(ctx, meetingID, userName, model.ActivityUploadFile,
		&model.UploadFilePayload{FileName: fileName, FileSize: file.FileSize})

	return file, nil
}

// Delete removes an attachment's metadata and blob, then records the
// activity. A blob that fails to delete is only logged; the row is already
// gone and the feed has moved on.
func (s *Service) Delete(ctx context.Context, meetingID, userName, fileID string) error {
	var rows []model.MeetingFile
	q := store.Eq("meeting_id", meetingID).And("id", fileID)
	if err := s.store.Select(ctx, "meeting_files", q, &rows); err != nil {
		return fmt.Errorf("find file: %w", err)
	}
	if len(rows) == 0 {
		return ErrFileNotFound
	}
	file := rows[0]

	if err := s.store.Delete(ctx, "meeting_files", q); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if err := s.blobs.Remove(ctx, file.StorageKey); err != nil {
		log.Printf("[Files] blob %s delete failed: %v", file.StorageKey, err)
	}

	s.recordActivity(ctx, meetingID, userName, model.ActivityDeleteFile,
		&model.DeleteFilePayload{FileName: file.FileName})

	return nil
}

// List attachments for a meeting, newest first.
func (s *Service) List(ctx context.Context, meetingID string) ([]model.MeetingFile, error) {
	var rows []model.MeetingFile
	q := store.Eq("meeting_id", meetingID).Order("uploaded_at", true)
	if err := s.store.Select(ctx, "meeting_files", q, &rows); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return rows, nil
}

func (s *Service) recordActivity(ctx context.Context, meetingID, userName string, kind model.ActivityType, payload model.ActivityPayload) {
	activity := &model.MeetingActivity{
		MeetingID:    meetingID,
		UserName:     userName,
		ActivityType: kind,
		ActivityData: model.MustEncodePayload(payload),
	}
	if err := s.store.Insert(ctx, "meeting_activities", activity); err != nil {
		log.Printf("[Files] %s activity failed: %v", kind, err)
	}
}
