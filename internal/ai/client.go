package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"collab-notes-backend/internal/model"
)

const (
	// MaxAttempts 최초 시도 포함 호출 횟수
	MaxAttempts = 3
	// RetryBackoff 재시도 간 대기 시간 (선형 증가)
	RetryBackoff = 1 * time.Second
)

var ErrDisabled = errors.New("ai summary is disabled")

// Client AI 요약 함수 서버 HTTP 클라이언트
type Client struct {
	baseURL      string
	functionName string
	httpClient   *http.Client
	enabled      bool
}

// NewClient AI 클라이언트 생성
func NewClient(baseURL, functionName string, timeout time.Duration, enabled bool) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		functionName: functionName,
		httpClient:   &http.Client{Timeout: timeout},
		enabled:      enabled,
	}
}

// Enabled whether summary generation is available.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Invoke calls one function with a JSON body and retries transient failures
// with linearly growing backoff.
func (c *Client) Invoke(ctx context.Context, functionName string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/functions/" + functionName

	var lastErr error
	for i := 0; i < MaxAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(RetryBackoff * time.Duration(i)):
			}
			log.Printf("[AI] retrying %s (attempt %d/%d)", functionName, i+1, MaxAttempts)
		}

		result, err := c.invokeOnce(ctx, url, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("invoke %s: %w", functionName, lastErr)
}

func (c *Client) invokeOnce(ctx context.Context, url string, payload []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

// GenerateSummary builds the meeting summary prompt and extracts the answer
// from whichever field the function server used.
func (c *Client) GenerateSummary(ctx context.Context, meetingTitle, noteText string, tags []model.Tag, tasks []model.Task) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}

	result, err := c.Invoke(ctx, c.functionName, map[string]any{
		"prompt": buildSummaryPrompt(meetingTitle, noteText, tags, tasks),
	})
	if err != nil {
		return "", err
	}

	// 함수 서버 구현에 따라 응답 필드명이 제각각이다
	for _, field := range []string{"answer", "response", "content", "text"} {
		if value, ok := result[field].(string); ok && value != "" {
			return value, nil
		}
	}
	return "", errors.New("summary response has no usable text field")
}

func buildSummaryPrompt(meetingTitle, noteText string, tags []model.Tag, tasks []model.Task) string {
	var b strings.Builder
	b.WriteString("다음 회의 내용을 한국어로 간결하게 요약해 주세요.\n\n")
	fmt.Fprintf(&b, "회의 제목: %s\n\n", meetingTitle)

	if len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for _, t := range tags {
			names = append(names, t.Name)
		}
		fmt.Fprintf(&b, "태그: %s\n\n", strings.Join(names, ", "))
	}

	if len(tasks) > 0 {
		b.WriteString("태스크:\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("회의 노트:\n")
	b.WriteString(noteText)
	return b.String()
}
