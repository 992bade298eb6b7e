package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	cases := []struct {
		kind    ActivityType
		payload ActivityPayload
	}{
		{ActivityJoin, &JoinPayload{UserType: "anonymous"}},
		{ActivityLeave, &LeavePayload{}},
		{ActivityEdit, &EditPayload{ContentLength: 42}},
		{ActivityAddTag, &AddTagPayload{TagName: "design", TagColor: "#FF6B6B"}},
		{ActivityAddTask, &AddTaskPayload{TaskTitle: "write minutes", TaskAssignee: "민수"}},
		{ActivityUpdateTask, &UpdateTaskPayload{TaskID: "t-1", NewStatus: TaskStatusCompleted}},
		{ActivityDeleteTask, &DeleteTaskPayload{TaskTitle: "write minutes"}},
		{ActivityUploadFile, &UploadFilePayload{FileName: "deck.pdf", FileSize: 1024}},
		{ActivityDeleteFile, &DeleteFilePayload{FileName: "deck.pdf"}},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			data, err := EncodePayload(tc.payload)
			require.NoError(t, err)

			decoded, err := DecodePayload(tc.kind, data)
			require.NoError(t, err)
			assert.Equal(t, tc.payload, decoded)
		})
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload(ActivityType("rename"), ActivityData(`{}`))
	require.Error(t, err)
}

func TestDecodePayloadEmptyData(t *testing.T) {
	decoded, err := DecodePayload(ActivityEdit, nil)
	require.NoError(t, err)
	assert.Equal(t, &EditPayload{}, decoded)
}

func TestDescribeActivity(t *testing.T) {
	a := &MeetingActivity{
		UserName:     "수진",
		ActivityType: ActivityEdit,
		ActivityData: MustEncodePayload(&EditPayload{ContentLength: 120}),
	}
	assert.Equal(t, "수진 edited the note (120 characters)", DescribeActivity(a))

	a = &MeetingActivity{
		UserName:     "수진",
		ActivityType: ActivityAddTask,
		ActivityData: MustEncodePayload(&AddTaskPayload{TaskTitle: "follow up"}),
	}
	assert.Equal(t, `수진 created task "follow up"`, DescribeActivity(a))
}

func TestDescribeActivityMalformedPayload(t *testing.T) {
	a := &MeetingActivity{
		UserName:     "수진",
		ActivityType: ActivityEdit,
		ActivityData: ActivityData(`{broken`),
	}
	// 깨진 행이 피드 전체를 망가뜨리면 안 된다
	assert.Equal(t, "수진 edit", DescribeActivity(a))
}

func TestActivityIconCoversAllTypes(t *testing.T) {
	kinds := []ActivityType{
		ActivityJoin, ActivityLeave, ActivityEdit,
		ActivityAddTag, ActivityAddTask, ActivityUpdateTask, ActivityDeleteTask,
		ActivityUploadFile, ActivityDeleteFile,
	}
	for _, kind := range kinds {
		assert.NotEqual(t, "activity", ActivityIcon(kind), "icon missing for %s", kind)
	}
}
