package model

// TaskStatus task progress state
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses. Transitions between
// valid statuses are unconstrained.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// ActivityType activity feed entry kind
type ActivityType string

const (
	ActivityJoin       ActivityType = "join"
	ActivityLeave      ActivityType = "leave"
	ActivityEdit       ActivityType = "edit"
	ActivityAddTag     ActivityType = "add_tag"
	ActivityAddTask    ActivityType = "add_task"
	ActivityUpdateTask ActivityType = "update_task"
	ActivityDeleteTask ActivityType = "delete_task"
	ActivityUploadFile ActivityType = "upload_file"
	ActivityDeleteFile ActivityType = "delete_file"
)

func (a ActivityType) String() string {
	return string(a)
}

// UserColors fixed avatar palette; presence join assigns one at random
var UserColors = []string{
	"#1890ff",
	"#52c41a",
	"#faad14",
	"#f5222d",
	"#722ed1",
	"#13c2c2",
	"#eb2f96",
}
