package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

const testBackoff = 50 * time.Millisecond

func TestSubscriberDeliversDirectEvents(t *testing.T) {
	st := store.NewMemoryStore(nil)
	ctx := context.Background()

	var mu sync.Mutex
	var got []store.Event
	sub := NewSubscriber(st, clock.New(), "m1", testBackoff, Channel{
		Collection: "notes",
		Types:      []store.EventType{store.EventUpdate},
		OnEvent: func(ev store.Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		},
	})
	sub.Start()
	defer sub.Close()

	require.Eventually(t, func() bool {
		return st.SubscriberCount("notes", "m1") == 1
	}, time.Second, 10*time.Millisecond)

	note := &model.Note{MeetingID: "m1"}
	require.NoError(t, st.Insert(ctx, "notes", note))
	require.NoError(t, st.Update(ctx, "notes", store.Eq("meeting_id", "m1"), map[string]any{
		"content": model.NoteContent{Text: "hello"},
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// INSERT는 걸러지고 UPDATE만 통과한다
	assert.Equal(t, store.EventUpdate, got[0].Type)
}

func TestSubscriberRefreshOnInvalidation(t *testing.T) {
	st := store.NewMemoryStore(nil)
	ctx := context.Background()

	var refreshes atomic.Int32
	sub := NewSubscriber(st, clock.New(), "m1", testBackoff, Channel{
		Collection: "tags",
		Refresh: func(context.Context) {
			refreshes.Add(1)
		},
	})
	sub.Start()
	defer sub.Close()

	// 구독 성공 시 1회 재조회
	require.Eventually(t, func() bool {
		return refreshes.Load() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, st.Insert(ctx, "tags", &model.Tag{MeetingID: "m1", Name: "design"}))
	require.Eventually(t, func() bool {
		return refreshes.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriberReconnectsAfterFeedFailure(t *testing.T) {
	st := store.NewMemoryStore(nil)

	collections := []string{"notes", "user_presence", "tags", "tasks", "meeting_files", "meeting_activities"}
	channels := make([]Channel, 0, len(collections))
	for _, c := range collections {
		channels = append(channels, Channel{Collection: c, Refresh: func(context.Context) {}})
	}

	sub := NewSubscriber(st, clock.New(), "m1", testBackoff, channels...)

	var errored atomic.Int32
	sub.OnStatus = func(_ string, status store.ChannelStatus) {
		if status == store.StatusError {
			errored.Add(1)
		}
	}

	sub.Start()
	defer sub.Close()

	allLive := func() bool {
		for _, c := range collections {
			if st.SubscriberCount(c, "m1") != 1 {
				return false
			}
		}
		return true
	}
	require.Eventually(t, allLive, time.Second, 10*time.Millisecond)

	// 연결이 끊기면 여섯 채널 전부 내려간다
	st.BreakFeeds("m1")
	require.Eventually(t, func() bool {
		for _, c := range collections {
			if st.SubscriberCount(c, "m1") != 0 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	// 백오프 후 여섯 채널 전부 다시 올라온다
	require.Eventually(t, allLive, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, errored.Load(), int32(1))
}

func TestSubscriberReconnectKeepsRetrying(t *testing.T) {
	st := store.NewMemoryStore(nil)

	sub := NewSubscriber(st, clock.New(), "m1", testBackoff, Channel{Collection: "tags"})
	sub.Start()
	defer sub.Close()

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return st.SubscriberCount("tags", "m1") == 1
		}, time.Second, 10*time.Millisecond)
		st.BreakFeeds("m1")
	}

	// 재시도 횟수에 상한이 없다
	require.Eventually(t, func() bool {
		return st.SubscriberCount("tags", "m1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriberCloseStopsReconnects(t *testing.T) {
	st := store.NewMemoryStore(nil)

	sub := NewSubscriber(st, clock.New(), "m1", testBackoff, Channel{Collection: "tags"})
	sub.Start()

	require.Eventually(t, func() bool {
		return st.SubscriberCount("tags", "m1") == 1
	}, time.Second, 10*time.Millisecond)

	st.BreakFeeds("m1")
	sub.Close()
	sub.Close()

	time.Sleep(3 * testBackoff)
	assert.Equal(t, 0, st.SubscriberCount("tags", "m1"))
}

func TestSubscriberStartTwiceIsNoop(t *testing.T) {
	st := store.NewMemoryStore(nil)

	sub := NewSubscriber(st, clock.New(), "m1", testBackoff, Channel{Collection: "tags"})
	sub.Start()
	sub.Start()
	defer sub.Close()

	require.Eventually(t, func() bool {
		return st.SubscriberCount("tags", "m1") == 1
	}, time.Second, 10*time.Millisecond)
}
