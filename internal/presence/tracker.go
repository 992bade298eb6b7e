package presence

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

// Tracker maintains who is in a meeting right now. A participant is one row
// per (meeting, user name); re-joining reuses the row instead of stacking
// duplicates.
type Tracker struct {
	store  store.Store
	clock  clock.Clock
	window time.Duration
}

// NewTracker wires a tracker. window is how long after the last heartbeat a
// participant still counts as online.
func NewTracker(st store.Store, clk clock.Clock, window time.Duration) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{store: st, clock: clk, window: window}
}

// Join registers the participant, assigning a random avatar color on first
// join. A join activity is recorded only when the row is brand new, detected
// by created_at still equal to updated_at after the upsert.
func (t *Tracker) Join(ctx context.Context, meetingID, userName, userType string) (*model.UserPresence, error) {
	row := &model.UserPresence{
		MeetingID: meetingID,
		UserName:  userName,
		UserColor: model.UserColors[rand.Intn(len(model.UserColors))],
		IsTyping:  false,
		LastSeen:  t.clock.Now().UTC(),
	}
	if err := t.store.Upsert(ctx, "user_presence", row, []string{"meeting_id", "user_name"}); err != nil {
		return nil, fmt.Errorf("presence join: %w", err)
	}

	// 업서트 결과를 다시 읽어 최초 입장 여부를 판별한다
	var rows []model.UserPresence
	q := store.Eq("meeting_id", meetingID).And("user_name", userName)
	if err := t.store.Select(ctx, "user_presence", q, &rows); err != nil {
		return nil, fmt.Errorf("presence read back: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("presence row missing after join")
	}
	current := rows[0]

	if current.CreatedAt.Equal(current.UpdatedAt) {
		activity := &model.MeetingActivity{
			MeetingID:    meetingID,
			UserName:     userName,
			ActivityType: model.ActivityJoin,
			ActivityData: model.MustEncodePayload(&model.JoinPayload{UserType: userType}),
		}
		if err := t.store.Insert(ctx, "meeting_activities", activity); err != nil {
			log.Printf("[Presence] join activity for %s failed: %v", userName, err)
		}
	}

	return &current, nil
}

// SetTyping flips the typing indicator and refreshes the heartbeat.
func (t *Tracker) SetTyping(ctx context.Context, meetingID, userName string, typing bool) error {
	q := store.Eq("meeting_id", meetingID).And("user_name", userName)
	return t.store.Update(ctx, "user_presence", q, map[string]any{
		"is_typing": typing,
		"last_seen": t.clock.Now().UTC(),
	})
}

// Heartbeat refreshes last_seen so the participant stays in the online window.
func (t *Tracker) Heartbeat(ctx context.Context, meetingID, userName string) error {
	q := store.Eq("meeting_id", meetingID).And("user_name", userName)
	return t.store.Update(ctx, "user_presence", q, map[string]any{
		"last_seen": t.clock.Now().UTC(),
	})
}

// Leave removes the participant and records a leave activity. Fire and
// forget: a participant whose connection already died cannot retry, so
// failures are only logged.
func (t *Tracker) Leave(ctx context.Context, meetingID, userName string) {
	q := store.Eq("meeting_id", meetingID).And("user_name", userName)
	if err := t.store.Delete(ctx, "user_presence", q); err != nil {
		log.Printf("[Presence] leave for %s failed: %v", userName, err)
		return
	}

	activity := &model.MeetingActivity{
		MeetingID:    meetingID,
		UserName:     userName,
		ActivityType: model.ActivityLeave,
		ActivityData: model.MustEncodePayload(&model.LeavePayload{}),
	}
	if err := t.store.Insert(ctx, "meeting_activities", activity); err != nil {
		log.Printf("[Presence] leave activity for %s failed: %v", userName, err)
	}
}

// OnlineUsers lists participants seen within the online window, most recent
// first.
func (t *Tracker) OnlineUsers(ctx context.Context, meetingID string) ([]model.UserPresence, error) {
	var rows []model.UserPresence
	q := store.Eq("meeting_id", meetingID).Order("last_seen", true)
	if err := t.store.Select(ctx, "user_presence", q, &rows); err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}

	cutoff := t.clock.Now().UTC().Add(-t.window)
	online := rows[:0]
	for _, row := range rows {
		if !row.LastSeen.Before(cutoff) {
			online = append(online, row)
		}
	}
	return online, nil
}
