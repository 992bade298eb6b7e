package presence

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	st := store.NewMemoryStore(clk)
	return NewTracker(st, clk, 300*time.Second), st, clk
}

func activities(t *testing.T, st *store.MemoryStore, meetingID string) []model.MeetingActivity {
	t.Helper()
	var rows []model.MeetingActivity
	require.NoError(t, st.Select(context.Background(), "meeting_activities", store.Eq("meeting_id", meetingID), &rows))
	return rows
}

func TestJoinCreatesPresenceAndActivity(t *testing.T) {
	tracker, st, _ := newTestTracker(t)
	ctx := context.Background()

	row, err := tracker.Join(ctx, "m1", "수진", "anonymous")
	require.NoError(t, err)
	assert.Equal(t, "수진", row.UserName)
	assert.Contains(t, model.UserColors, row.UserColor)
	assert.False(t, row.IsTyping)

	acts := activities(t, st, "m1")
	require.Len(t, acts, 1)
	assert.Equal(t, model.ActivityJoin, acts[0].ActivityType)

	payload, err := model.DecodePayload(acts[0].ActivityType, acts[0].ActivityData)
	require.NoError(t, err)
	assert.Equal(t, &model.JoinPayload{UserType: "anonymous"}, payload)
}

func TestRejoinReusesRowWithoutSecondJoinActivity(t *testing.T) {
	tracker, st, clk := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.Join(ctx, "m1", "수진", "registered")
	require.NoError(t, err)

	clk.Add(time.Minute)
	second, err := tracker.Join(ctx, "m1", "수진", "registered")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var rows []model.UserPresence
	require.NoError(t, st.Select(ctx, "user_presence", store.Eq("meeting_id", "m1"), &rows))
	assert.Len(t, rows, 1)

	// 재입장은 join 활동을 다시 남기지 않는다
	assert.Len(t, activities(t, st, "m1"), 1)
}

func TestSetTypingAndHeartbeatTouchLastSeen(t *testing.T) {
	tracker, st, clk := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Join(ctx, "m1", "수진", "registered")
	require.NoError(t, err)

	clk.Add(10 * time.Second)
	require.NoError(t, tracker.SetTyping(ctx, "m1", "수진", true))

	var rows []model.UserPresence
	require.NoError(t, st.Select(ctx, "user_presence", store.Eq("meeting_id", "m1"), &rows))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsTyping)
	assert.True(t, rows[0].LastSeen.Equal(clk.Now().UTC()))

	clk.Add(10 * time.Second)
	require.NoError(t, tracker.Heartbeat(ctx, "m1", "수진"))
	require.NoError(t, st.Select(ctx, "user_presence", store.Eq("meeting_id", "m1"), &rows))
	assert.True(t, rows[0].LastSeen.Equal(clk.Now().UTC()))
	assert.True(t, rows[0].IsTyping, "heartbeat must not clear the typing flag")
}

func TestOnlineUsersFiltersStaleParticipants(t *testing.T) {
	tracker, _, clk := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Join(ctx, "m1", "수진", "registered")
	require.NoError(t, err)
	_, err = tracker.Join(ctx, "m1", "민수", "anonymous")
	require.NoError(t, err)

	// 수진만 하트비트를 보내고 301초 경과
	clk.Add(200 * time.Second)
	require.NoError(t, tracker.Heartbeat(ctx, "m1", "수진"))
	clk.Add(101 * time.Second)

	online, err := tracker.OnlineUsers(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "수진", online[0].UserName)
}

func TestLeaveRemovesRowAndRecordsActivity(t *testing.T) {
	tracker, st, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Join(ctx, "m1", "수진", "registered")
	require.NoError(t, err)

	tracker.Leave(ctx, "m1", "수진")

	var rows []model.UserPresence
	require.NoError(t, st.Select(ctx, "user_presence", store.Eq("meeting_id", "m1"), &rows))
	assert.Empty(t, rows)

	acts := activities(t, st, "m1")
	require.Len(t, acts, 2)
	kinds := []model.ActivityType{acts[0].ActivityType, acts[1].ActivityType}
	assert.Contains(t, kinds, model.ActivityLeave)
}
