package handler

import (
	"context"
	"log"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

// recordActivity appends one feed entry. Feed bookkeeping never fails the
// request that triggered it.
func recordActivity(ctx context.Context, st store.Store, meetingID, userName string, kind model.ActivityType, payload model.ActivityPayload) {
	activity := &model.MeetingActivity{
		MeetingID:    meetingID,
		UserName:     userName,
		ActivityType: kind,
		ActivityData: model.MustEncodePayload(payload),
	}
	if err := st.Insert(ctx, "meeting_activities", activity); err != nil {
		log.Printf("[Activity] %s for %s failed: %v", kind, userName, err)
	}
}
