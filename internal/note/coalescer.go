package note

import (
	"context"
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

// Coalescer folds a participant's rapid note saves into one edit activity.
// Saves landing within window of that participant's latest edit activity
// update the existing row in place; a longer pause starts a new one. The
// check and the update are two separate store calls, so two concurrent saves
// by the same participant can still race into two rows.
type Coalescer struct {
	store  store.Store
	clock  clock.Clock
	window time.Duration
}

func NewCoalescer(st store.Store, clk clock.Clock, window time.Duration) *Coalescer {
	if clk == nil {
		clk = clock.New()
	}
	return &Coalescer{store: st, clock: clk, window: window}
}

// RecordEdit logs one note save into the activity feed, reusing the ongoing
// edit session's row when the save lands within the window. Feed bookkeeping
// never fails the save itself; errors are logged and dropped.
func (c *Coalescer) RecordEdit(ctx context.Context, meetingID, userName string, contentLength int) {
	payload := model.MustEncodePayload(&model.EditPayload{ContentLength: contentLength})
	now := c.clock.Now().UTC()

	var latest []model.MeetingActivity
	q := store.Eq("meeting_id", meetingID).
		And("user_name", userName).
		And("activity_type", model.ActivityEdit).
		Order("created_at", true).
		Take(1)
	if err := c.store.Select(ctx, "meeting_activities", q, &latest); err != nil {
		log.Printf("[Activity] edit lookup for %s failed: %v", userName, err)
		return
	}

	if len(latest) > 0 && now.Sub(latest[0].CreatedAt) <= c.window {
		// 진행 중인 편집 세션: 같은 행의 시각과 내용만 갱신
		err := c.store.Update(ctx, "meeting_activities", store.Eq("id", latest[0].ID), map[string]any{
			"created_at":    now,
			"activity_data": payload,
		})
		if err != nil {
			log.Printf("[Activity] edit session update for %s failed: %v", userName, err)
		}
		return
	}

	activity := &model.MeetingActivity{
		MeetingID:    meetingID,
		UserName:     userName,
		ActivityType: model.ActivityEdit,
		ActivityData: payload,
		CreatedAt:    now,
	}
	if err := c.store.Insert(ctx, "meeting_activities", activity); err != nil {
		log.Printf("[Activity] edit insert for %s failed: %v", userName, err)
	}
}
