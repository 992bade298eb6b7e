package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithUpdatedAtStampsNoteWrites(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	values := withUpdatedAt("notes", map[string]any{"content": "hello"}, now)
	require.Contains(t, values, "updated_at")
	assert.Equal(t, now, values["updated_at"])
	assert.Equal(t, "hello", values["content"])
}

func TestWithUpdatedAtLeavesCallerMapAlone(t *testing.T) {
	now := time.Now()
	in := map[string]any{"content": "hello"}

	out := withUpdatedAt("notes", in, now)
	assert.NotContains(t, in, "updated_at")
	assert.Contains(t, out, "updated_at")
}

func TestWithUpdatedAtKeepsExplicitTimestamp(t *testing.T) {
	explicit := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	values := withUpdatedAt("notes", map[string]any{"updated_at": explicit}, time.Now())
	assert.Equal(t, explicit, values["updated_at"])
}

func TestWithUpdatedAtSkipsCollectionsWithoutColumn(t *testing.T) {
	// 태그와 활동 로그에는 updated_at 컬럼이 없다
	for _, collection := range []string{"tags", "meeting_activities", "unknown"} {
		values := withUpdatedAt(collection, map[string]any{"name": "x"}, time.Now())
		assert.NotContains(t, values, "updated_at", collection)
	}
}

func TestWithUpdatedAtCoversTimestampedCollections(t *testing.T) {
	for _, collection := range []string{"notes", "user_presence", "tasks"} {
		values := withUpdatedAt(collection, map[string]any{}, time.Now())
		assert.Contains(t, values, "updated_at", collection)
	}
}
