package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ActivityData raw JSONB payload column for a MeetingActivity row. Decode it
// into a typed payload with DecodePayload.
type ActivityData json.RawMessage

func (d ActivityData) Value() (driver.Value, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return []byte(d), nil
}

func (d *ActivityData) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		*d = ActivityData(append([]byte(nil), v...))
	case string:
		*d = ActivityData(v)
	case nil:
		*d = ActivityData("{}")
	default:
		return errors.New("unsupported activity data column type")
	}
	return nil
}

func (d ActivityData) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return []byte(d), nil
}

func (d *ActivityData) UnmarshalJSON(data []byte) error {
	*d = ActivityData(append([]byte(nil), data...))
	return nil
}

// ActivityPayload is the closed set of per-kind activity payloads. One variant
// exists per ActivityType; rendering dispatches exhaustively over them.
type ActivityPayload interface {
	isActivityPayload()
}

// JoinPayload user joined the meeting
type JoinPayload struct {
	UserType string `json:"user_type"` // "anonymous" | "registered"
}

// LeavePayload user left the meeting
type LeavePayload struct{}

// EditPayload one coalesced note edit session
type EditPayload struct {
	ContentLength int `json:"content_length"`
}

// AddTagPayload tag created
type AddTagPayload struct {
	TagName  string `json:"tag_name"`
	TagColor string `json:"tag_color"`
}

// AddTaskPayload task created
type AddTaskPayload struct {
	TaskTitle    string `json:"task_title"`
	TaskAssignee string `json:"task_assignee,omitempty"`
}

// UpdateTaskPayload task status changed
type UpdateTaskPayload struct {
	TaskID    string     `json:"task_id"`
	NewStatus TaskStatus `json:"new_status"`
}

// DeleteTaskPayload task removed
type DeleteTaskPayload struct {
	TaskTitle string `json:"task_title"`
}

// UploadFilePayload file uploaded
type UploadFilePayload struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// DeleteFilePayload file record removed
type DeleteFilePayload struct {
	FileName string `json:"file_name"`
}

func (JoinPayload) isActivityPayload()       {}
func (LeavePayload) isActivityPayload()      {}
func (EditPayload) isActivityPayload()       {}
func (AddTagPayload) isActivityPayload()     {}
func (AddTaskPayload) isActivityPayload()    {}
func (UpdateTaskPayload) isActivityPayload() {}
func (DeleteTaskPayload) isActivityPayload() {}
func (UploadFilePayload) isActivityPayload() {}
func (DeleteFilePayload) isActivityPayload() {}

// EncodePayload serializes a typed payload into the JSONB column form.
func EncodePayload(p ActivityPayload) (ActivityData, error) {
	if p == nil {
		return ActivityData("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return ActivityData(data), nil
}

// MustEncodePayload is EncodePayload for the static payload structs above,
// which cannot fail to marshal.
func MustEncodePayload(p ActivityPayload) ActivityData {
	data, err := EncodePayload(p)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodePayload maps a raw activity row back to its typed variant.
func DecodePayload(kind ActivityType, data ActivityData) (ActivityPayload, error) {
	raw := []byte(data)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	decode := func(dst ActivityPayload) (ActivityPayload, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return dst, nil
	}

	switch kind {
	case ActivityJoin:
		return decode(&JoinPayload{})
	case ActivityLeave:
		return decode(&LeavePayload{})
	case ActivityEdit:
		return decode(&EditPayload{})
	case ActivityAddTag:
		return decode(&AddTagPayload{})
	case ActivityAddTask:
		return decode(&AddTaskPayload{})
	case ActivityUpdateTask:
		return decode(&UpdateTaskPayload{})
	case ActivityDeleteTask:
		return decode(&DeleteTaskPayload{})
	case ActivityUploadFile:
		return decode(&UploadFilePayload{})
	case ActivityDeleteFile:
		return decode(&DeleteFilePayload{})
	}
	return nil, fmt.Errorf("unknown activity type %q", kind)
}

// DescribeActivity renders a feed line for an activity row. Unknown payloads
// fall back to the bare activity type so a malformed row never breaks the feed.
func DescribeActivity(a *MeetingActivity) string {
	payload, err := DecodePayload(a.ActivityType, a.ActivityData)
	if err != nil {
		return fmt.Sprintf("%s %s", a.UserName, a.ActivityType)
	}

	switch p := payload.(type) {
	case *JoinPayload:
		return fmt.Sprintf("%s joined the meeting", a.UserName)
	case *LeavePayload:
		return fmt.Sprintf("%s left the meeting", a.UserName)
	case *EditPayload:
		return fmt.Sprintf("%s edited the note (%d characters)", a.UserName, p.ContentLength)
	case *AddTagPayload:
		return fmt.Sprintf("%s added tag %q", a.UserName, p.TagName)
	case *AddTaskPayload:
		if p.TaskAssignee != "" {
			return fmt.Sprintf("%s created task %q for %s", a.UserName, p.TaskTitle, p.TaskAssignee)
		}
		return fmt.Sprintf("%s created task %q", a.UserName, p.TaskTitle)
	case *UpdateTaskPayload:
		return fmt.Sprintf("%s moved a task to %s", a.UserName, p.NewStatus)
	case *DeleteTaskPayload:
		return fmt.Sprintf("%s deleted task %q", a.UserName, p.TaskTitle)
	case *UploadFilePayload:
		return fmt.Sprintf("%s uploaded %s", a.UserName, p.FileName)
	case *DeleteFilePayload:
		return fmt.Sprintf("%s removed %s", a.UserName, p.FileName)
	}
	return fmt.Sprintf("%s %s", a.UserName, a.ActivityType)
}

// ActivityIcon feed icon name per activity kind, exhaustive over the closed set.
func ActivityIcon(kind ActivityType) string {
	switch kind {
	case ActivityJoin:
		return "user-plus"
	case ActivityLeave:
		return "user-minus"
	case ActivityEdit:
		return "edit"
	case ActivityAddTag:
		return "tag"
	case ActivityAddTask:
		return "check-square"
	case ActivityUpdateTask:
		return "refresh"
	case ActivityDeleteTask:
		return "trash"
	case ActivityUploadFile:
		return "upload"
	case ActivityDeleteFile:
		return "file-minus"
	}
	return "activity"
}
