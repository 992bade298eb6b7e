package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-notes-backend/internal/config"
	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

func newWSFixture(feedLimit int) (*MeetingWSHandler, *store.MemoryStore, *clock.Mock, *wsSession) {
	clk := clock.NewMock()
	st := store.NewMemoryStore(clk)
	h := NewMeetingWSHandler(st, clk, nil, nil,
		config.SyncConfig{ActivityFeedLimit: feedLimit},
		config.WebSocketConfig{SendBufferSize: 16})
	sess := &wsSession{
		send:    make(chan []byte, 16),
		cancel:  func() {},
		seenIDs: make(map[string]bool),
	}
	return h, st, clk, sess
}

func insertJoinActivity(t *testing.T, st *store.MemoryStore, meetingID, userName string) *model.MeetingActivity {
	t.Helper()
	row := &model.MeetingActivity{
		MeetingID:    meetingID,
		UserName:     userName,
		ActivityType: model.ActivityJoin,
		ActivityData: model.MustEncodePayload(&model.JoinPayload{UserType: "registered"}),
	}
	require.NoError(t, st.Insert(context.Background(), "meeting_activities", row))
	require.NotEmpty(t, row.ID)
	return row
}

func TestActivitySnapshotRebuildsDedupSet(t *testing.T) {
	h, st, clk, sess := newWSFixture(2)

	first := insertJoinActivity(t, st, "m1", "수진")
	clk.Add(time.Second)
	second := insertJoinActivity(t, st, "m1", "민수")
	clk.Add(time.Second)
	third := insertJoinActivity(t, st, "m1", "지현")

	// 이전 구독에서 남은 id는 스냅샷 후 사라져야 한다
	sess.seenIDs["stale-id"] = true

	h.activitySnapshot(sess, "m1")(context.Background())

	sess.seenMu.Lock()
	defer sess.seenMu.Unlock()
	assert.Len(t, sess.seenIDs, 2)
	assert.True(t, sess.seenIDs[second.ID])
	assert.True(t, sess.seenIDs[third.ID])
	assert.False(t, sess.seenIDs["stale-id"])
	assert.False(t, sess.seenIDs[first.ID])
}

func TestForwardActivityDedupsReplayedInserts(t *testing.T) {
	h, st, _, sess := newWSFixture(20)

	row := insertJoinActivity(t, st, "m1", "수진")
	data, err := json.Marshal(row)
	require.NoError(t, err)

	h.forwardActivity(sess, store.Event{Type: store.EventInsert, New: data})
	h.forwardActivity(sess, store.Event{Type: store.EventInsert, New: data})
	assert.Len(t, sess.send, 1)

	// UPDATE는 기존 항목을 다시 쓰는 것이라 항상 통과한다
	h.forwardActivity(sess, store.Event{Type: store.EventUpdate, New: data})
	assert.Len(t, sess.send, 2)
}
