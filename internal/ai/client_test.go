package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-notes-backend/internal/model"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "meeting-summary", 5*time.Second, true)
}

func TestGenerateSummary(t *testing.T) {
	var gotPath string
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrompt = body["prompt"]
		json.NewEncoder(w).Encode(map[string]string{"answer": "요약 결과"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	summary, err := client.GenerateSummary(context.Background(), "주간 회의", "오늘 논의한 내용",
		[]model.Tag{{Name: "기획"}},
		[]model.Task{{Title: "배포 준비", Status: model.TaskStatusPending}})
	require.NoError(t, err)

	assert.Equal(t, "요약 결과", summary)
	assert.Equal(t, "/functions/meeting-summary", gotPath)
	assert.Contains(t, gotPrompt, "주간 회의")
	assert.Contains(t, gotPrompt, "기획")
	assert.Contains(t, gotPrompt, "배포 준비")
	assert.Contains(t, gotPrompt, "오늘 논의한 내용")
}

func TestGenerateSummaryFieldFallback(t *testing.T) {
	for _, field := range []string{"answer", "response", "content", "text"} {
		field := field
		t.Run(field, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{field: "요약"})
			}))
			defer srv.Close()

			summary, err := newTestClient(srv.URL).GenerateSummary(context.Background(), "회의", "노트", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, "요약", summary)
		})
	}
}

func TestGenerateSummaryNoUsableField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"usage": 12})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GenerateSummary(context.Background(), "회의", "노트", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable text field")
}

func TestGenerateSummaryDisabled(t *testing.T) {
	client := NewClient("http://unused", "meeting-summary", time.Second, false)
	_, err := client.GenerateSummary(context.Background(), "회의", "노트", nil, nil)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, client.Enabled())
}

func TestInvokeRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"answer": "두 번째에 성공"})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Invoke(context.Background(), "meeting-summary", map[string]string{"prompt": "p"})
	require.NoError(t, err)
	assert.Equal(t, "두 번째에 성공", result["answer"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Invoke(context.Background(), "meeting-summary", map[string]string{"prompt": "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(MaxAttempts), calls.Load())
}

func TestInvokeStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).Invoke(ctx, "meeting-summary", map[string]string{"prompt": "p"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "context canceled"))
}
