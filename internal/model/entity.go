package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Meeting 최상위 엔터티, 모든 다른 엔터티를 스코프한다
type Meeting struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"type:varchar(200);not null" json:"title"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Meeting) TableName() string {
	return "meetings"
}

func (m *Meeting) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// NoteContent 노트 본문 JSONB 페이로드
type NoteContent struct {
	Text string `json:"text"`
}

func (c NoteContent) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *NoteContent) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = NoteContent{}
		return nil
	}
	return errors.New("unsupported note content column type")
}

// Note 회의당 하나의 공유 노트
type Note struct {
	ID        string      `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID string      `gorm:"type:uuid;not null;index" json:"meeting_id"`
	Content   NoteContent `gorm:"type:jsonb" json:"content"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Note) TableName() string {
	return "notes"
}

func (n *Note) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// UserPresence one row per (meeting, user name); refreshed while the user is
// active, deleted on leave. Readers must filter by LastSeen themselves — rows
// are never expired server-side.
type UserPresence struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID string    `gorm:"type:uuid;not null;uniqueIndex:idx_presence_meeting_user" json:"meeting_id"`
	UserName  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_presence_meeting_user" json:"user_name"`
	UserColor string    `gorm:"type:varchar(20);not null" json:"user_color"`
	IsTyping  bool      `gorm:"default:false" json:"is_typing"`
	LastSeen  time.Time `gorm:"not null;index" json:"last_seen"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPresence) TableName() string {
	return "user_presence"
}

func (p *UserPresence) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Tag 회의 태그, 생성 후 불변
type Tag struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID string    `gorm:"type:uuid;not null;index" json:"meeting_id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Color     string    `gorm:"type:varchar(20);not null" json:"color"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Tag) TableName() string {
	return "tags"
}

func (t *Tag) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Task 회의 태스크
type Task struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID   string     `gorm:"type:uuid;not null;index" json:"meeting_id"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Description *string    `gorm:"type:text" json:"description,omitempty"`
	Assignee    *string    `gorm:"type:varchar(100)" json:"assignee,omitempty"`
	Status      TaskStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// MeetingFile uploaded file metadata. A row must always have a backing blob;
// the upload path rolls the blob back when the row insert fails.
type MeetingFile struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID  string    `gorm:"type:uuid;not null;index" json:"meeting_id"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"file_name"`
	FileURL    string    `gorm:"type:text;not null" json:"file_url"`
	StorageKey string    `gorm:"type:varchar(500);not null" json:"storage_key"`
	Uploader   string    `gorm:"type:varchar(100);not null" json:"uploader"`
	FileSize   int64     `gorm:"not null" json:"file_size"`
	MimeType   string    `gorm:"type:varchar(100);not null" json:"mime_type"`
	UploadedAt time.Time `gorm:"autoCreateTime;index" json:"uploaded_at"`
}

func (MeetingFile) TableName() string {
	return "meeting_files"
}

func (f *MeetingFile) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// MeetingActivity append-mostly activity feed row. The only in-place mutation
// is the edit-coalescing path, which extends CreatedAt and ActivityData of an
// open edit session instead of inserting a duplicate row.
type MeetingActivity struct {
	ID           string       `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID    string       `gorm:"type:uuid;not null;index:idx_activity_meeting_created" json:"meeting_id"`
	UserName     string       `gorm:"type:varchar(100);not null" json:"user_name"`
	ActivityType ActivityType `gorm:"type:varchar(30);not null" json:"activity_type"`
	ActivityData ActivityData `gorm:"type:jsonb" json:"activity_data"`
	CreatedAt    time.Time    `gorm:"index:idx_activity_meeting_created" json:"created_at"`
}

func (MeetingActivity) TableName() string {
	return "meeting_activities"
}

func (a *MeetingActivity) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return nil
}
