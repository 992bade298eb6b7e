package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"

	"collab-notes-backend/internal/config"
	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/note"
	"collab-notes-backend/internal/presence"
	"collab-notes-backend/internal/realtime"
	"collab-notes-backend/internal/store"
)

// MeetingWSHandler 회의 실시간 세션 핸들러. 접속마다 노트 작성기, 프레즌스,
// 변경 피드 구독을 묶어서 돌린다.
type MeetingWSHandler struct {
	store     store.Store
	clock     clock.Clock
	tracker   *presence.Tracker
	coalescer *note.Coalescer
	syncCfg   config.SyncConfig
	wsCfg     config.WebSocketConfig
}

// NewMeetingWSHandler MeetingWSHandler 생성
func NewMeetingWSHandler(st store.Store, clk clock.Clock, tracker *presence.Tracker, coalescer *note.Coalescer, syncCfg config.SyncConfig, wsCfg config.WebSocketConfig) *MeetingWSHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &MeetingWSHandler{
		store:     st,
		clock:     clk,
		tracker:   tracker,
		coalescer: coalescer,
		syncCfg:   syncCfg,
		wsCfg:     wsCfg,
	}
}

// ClientMessage 클라이언트 → 서버 메시지
type ClientMessage struct {
	Type string `json:"type"` // note, save, heartbeat
	Text string `json:"text,omitempty"`
}

// ServerMessage 서버 → 클라이언트 메시지
type ServerMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Status  string `json:"status,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// wsSession one live connection
type wsSession struct {
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
	cancel  context.CancelFunc
	seenMu  sync.Mutex
	seenIDs map[string]bool
}

func (s *wsSession) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.send)
	})
}

// enqueue drops the connection when the client cannot keep up.
func (s *wsSession) enqueue(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *MeetingWSHandler) HandleWebSocket(c *websocket.Conn) {
	meetingID, ok1 := c.Locals("meetingId").(string)
	userName, ok2 := c.Locals("displayName").(string)
	anonymous, _ := c.Locals("anonymous").(bool)
	if !ok1 || !ok2 || meetingID == "" || userName == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","status":"invalid session"}`))
		c.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &wsSession{
		conn:    c,
		send:    make(chan []byte, h.wsCfg.SendBufferSize),
		cancel:  cancel,
		seenIDs: make(map[string]bool),
	}

	userType := "registered"
	if anonymous {
		userType = "anonymous"
	}
	if _, err := h.tracker.Join(ctx, meetingID, userName, userType); err != nil {
		log.Printf("[WS] join %s failed: %v", userName, err)
		c.Close()
		return
	}

	writer := note.NewWriter(ctx, h.store, h.clock, h.tracker, h.coalescer, meetingID, userName,
		h.syncCfg.TypingDebounce, h.syncCfg.NoteWriteDebounce)

	sub := h.buildSubscriber(sess, meetingID)
	sub.Start()

	log.Printf("[WS] %s joined meeting %s", userName, meetingID)

	// 송신 펌프
	go func() {
		for data := range sess.send {
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	defer func() {
		writer.Close()
		sub.Close()
		// 연결이 끊긴 뒤라 재시도도 응답도 없다
		h.tracker.Leave(context.Background(), meetingID, userName)
		sess.close()
		c.Close()
		log.Printf("[WS] %s left meeting %s", userName, meetingID)
	}()

	// 수신 루프
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "note":
			writer.SetText(msg.Text)
		case "save":
			if err := writer.Flush(ctx); err != nil {
				log.Printf("[WS] flush for %s failed: %v", userName, err)
			}
		case "heartbeat":
			if err := h.tracker.Heartbeat(ctx, meetingID, userName); err != nil {
				log.Printf("[WS] heartbeat for %s failed: %v", userName, err)
			}
		}
	}
}

// buildSubscriber wires the six per-meeting channels. Notes and activities
// pass rows straight through; presence, tags, tasks and files are re-fetched
// whole on any change.
func (h *MeetingWSHandler) buildSubscriber(sess *wsSession, meetingID string) *realtime.Subscriber {
	channels := []realtime.Channel{
		{
			Collection: "notes",
			Types:      []store.EventType{store.EventUpdate},
			OnEvent: func(ev store.Event) {
				h.forward(sess, "note", json.RawMessage(ev.New))
			},
			Refresh: h.snapshot(sess, "notes", "note_snapshot", meetingID, func() any { return &[]model.Note{} }),
		},
		{
			Collection: "meeting_activities",
			OnEvent: func(ev store.Event) {
				h.forwardActivity(sess, ev)
			},
			Refresh: h.activitySnapshot(sess, meetingID),
		},
		{
			Collection: "user_presence",
			Refresh:    h.presenceSnapshot(sess, meetingID),
		},
		{
			Collection: "tags",
			Refresh:    h.snapshot(sess, "tags", "tags", meetingID, func() any { return &[]model.Tag{} }),
		},
		{
			Collection: "tasks",
			Refresh:    h.snapshot(sess, "tasks", "tasks", meetingID, func() any { return &[]model.Task{} }),
		},
		{
			Collection: "meeting_files",
			Refresh:    h.snapshot(sess, "meeting_files", "files", meetingID, func() any { return &[]model.MeetingFile{} }),
		},
	}

	sub := realtime.NewSubscriber(h.store, h.clock, meetingID, h.syncCfg.ReconnectBackoff, channels...)
	sub.OnStatus = func(collection string, status store.ChannelStatus) {
		sess.enqueue(ServerMessage{Type: "status", Channel: collection, Status: string(status)})
	}
	return sub
}

// forward sends one row straight to the client.
func (h *MeetingWSHandler) forward(sess *wsSession, kind string, payload any) {
	if !sess.enqueue(ServerMessage{Type: kind, Payload: payload}) {
		log.Printf("[WS] slow client, dropping %s message", kind)
	}
}

// forwardActivity passes activity rows through with insert dedup. The feed
// can replay an insert after a resubscribe; the same id is only delivered
// once. Updates always pass, they rewrite an existing entry.
func (h *MeetingWSHandler) forwardActivity(sess *wsSession, ev store.Event) {
	var row model.MeetingActivity
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return
	}

	if ev.Type == store.EventInsert {
		sess.seenMu.Lock()
		seen := sess.seenIDs[row.ID]
		sess.seenIDs[row.ID] = true
		sess.seenMu.Unlock()
		if seen {
			return
		}
	}

	h.forward(sess, "activity", ActivityResponse{
		MeetingActivity: row,
		Description:     model.DescribeActivity(&row),
		Icon:            model.ActivityIcon(row.ActivityType),
	})
}

// snapshot builds the re-fetch callback for an invalidation channel.
func (h *MeetingWSHandler) snapshot(sess *wsSession, collection, kind, meetingID string, dest func() any) func(context.Context) {
	return func(ctx context.Context) {
		rows := dest()
		q := store.Eq("meeting_id", meetingID)
		if err := h.store.Select(ctx, collection, q, rows); err != nil {
			log.Printf("[WS] %s refresh failed: %v", collection, err)
			return
		}
		h.forward(sess, kind, rows)
	}
}

func (h *MeetingWSHandler) presenceSnapshot(sess *wsSession, meetingID string) func(context.Context) {
	return func(ctx context.Context) {
		online, err := h.tracker.OnlineUsers(ctx, meetingID)
		if err != nil {
			log.Printf("[WS] presence refresh failed: %v", err)
			return
		}
		h.forward(sess, "presence", online)
	}
}

func (h *MeetingWSHandler) activitySnapshot(sess *wsSession, meetingID string) func(context.Context) {
	return func(ctx context.Context) {
		var rows []model.MeetingActivity
		q := store.Eq("meeting_id", meetingID).Order("created_at", true).Take(h.syncCfg.ActivityFeedLimit)
		if err := h.store.Select(ctx, "meeting_activities", q, &rows); err != nil {
			log.Printf("[WS] activity refresh failed: %v", err)
			return
		}

		// dedup 집합을 스냅샷 기준으로 다시 만든다. 스냅샷 밖으로 밀려난
		// 오래된 id를 버려서 집합이 피드 상한 이상으로 자라지 않는다.
		sess.seenMu.Lock()
		sess.seenIDs = make(map[string]bool, len(rows))
		for _, row := range rows {
			sess.seenIDs[row.ID] = true
		}
		sess.seenMu.Unlock()

		out := make([]ActivityResponse, 0, len(rows))
		for i := range rows {
			out = append(out, ActivityResponse{
				MeetingActivity: rows[i],
				Description:     model.DescribeActivity(&rows[i]),
				Icon:            model.ActivityIcon(rows[i].ActivityType),
			})
		}
		h.forward(sess, "activities", out)
	}
}
