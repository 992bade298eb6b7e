package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// MemoryStore in-process Store with its own change feed. Used by tests and as
// a single-node fallback; rows live as JSON field maps so the same collection
// names and queries work against it unchanged.
type MemoryStore struct {
	mu     sync.Mutex
	clock  clock.Clock
	tables map[string][]map[string]any
	subs   map[string][]*memorySub
}

type memorySub struct {
	events chan Event
	status chan ChannelStatus
	done   chan struct{}
	once   sync.Once
}

func (m *memorySub) stop() {
	m.once.Do(func() {
		close(m.done)
		close(m.events)
		close(m.status)
	})
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:  clk,
		tables: make(map[string][]map[string]any),
		subs:   make(map[string][]*memorySub),
	}
}

func (m *MemoryStore) Select(ctx context.Context, collection string, q Query, dest any) error {
	m.mu.Lock()
	rows := m.matched(collection, q)
	m.mu.Unlock()

	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (m *MemoryStore) Insert(ctx context.Context, collection string, row any) error {
	fields, err := rowFields(row)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.prepareInsert(fields)
	m.tables[collection] = append(m.tables[collection], fields)
	m.mu.Unlock()

	// 호출자가 넘긴 행에 생성된 필드를 돌려준다
	writeBack(fields, row)
	m.publish(collection, Event{Type: EventInsert, New: mustMarshal(fields)})
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, collection string, q Query, values map[string]any) error {
	m.mu.Lock()
	rows := m.matched(collection, q)
	for _, fields := range rows {
		for k, v := range values {
			fields[k] = normalize(v)
		}
		if _, ok := fields["updated_at"]; ok {
			fields["updated_at"] = m.clock.Now().UTC().Format(time.RFC3339Nano)
		}
	}
	m.mu.Unlock()

	for _, fields := range rows {
		m.publish(collection, Event{Type: EventUpdate, New: mustMarshal(fields)})
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection string, q Query) error {
	m.mu.Lock()
	var kept []map[string]any
	var removed []map[string]any
	for _, fields := range m.tables[collection] {
		if matches(fields, q) {
			removed = append(removed, fields)
		} else {
			kept = append(kept, fields)
		}
	}
	m.tables[collection] = kept
	m.mu.Unlock()

	for _, fields := range removed {
		m.publish(collection, Event{Type: EventDelete, Old: mustMarshal(fields)})
	}
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, row any, conflictColumns []string) error {
	fields, err := rowFields(row)
	if err != nil {
		return err
	}

	m.mu.Lock()
	var existing map[string]any
	for _, candidate := range m.tables[collection] {
		hit := true
		for _, c := range conflictColumns {
			if fmt.Sprint(candidate[c]) != fmt.Sprint(fields[c]) {
				hit = false
				break
			}
		}
		if hit {
			existing = candidate
			break
		}
	}

	kind := EventInsert
	if existing == nil {
		m.prepareInsert(fields)
		m.tables[collection] = append(m.tables[collection], fields)
	} else {
		kind = EventUpdate
		for k, v := range fields {
			if k == "id" || k == "created_at" {
				continue
			}
			if isZeroField(v) {
				continue
			}
			existing[k] = v
		}
		if _, ok := existing["updated_at"]; ok {
			existing["updated_at"] = m.clock.Now().UTC().Format(time.RFC3339Nano)
		}
		fields = existing
	}
	m.mu.Unlock()

	writeBack(fields, row)
	m.publish(collection, Event{Type: kind, New: mustMarshal(fields)})
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection, meetingID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		events: make(chan Event, 64),
		status: make(chan ChannelStatus, 4),
		done:   make(chan struct{}),
	}
	key := changeChannel(collection, meetingID)

	m.mu.Lock()
	m.subs[key] = append(m.subs[key], sub)
	m.mu.Unlock()

	sub.status <- StatusConnecting
	sub.status <- StatusSubscribed

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		m.mu.Lock()
		live := m.subs[key][:0]
		for _, s := range m.subs[key] {
			if s != sub {
				live = append(live, s)
			}
		}
		m.subs[key] = live
		m.mu.Unlock()
		sub.stop()
	}()

	return NewSubscription(sub.events, sub.status, cancel)
}

// BreakFeeds fails every live subscription scoped to the meeting, as a broken
// upstream connection would. Feeds report ERROR and their event streams close.
func (m *MemoryStore) BreakFeeds(meetingID string) {
	m.mu.Lock()
	var broken []*memorySub
	for key, subs := range m.subs {
		if !strings.HasSuffix(key, ":"+meetingID) {
			continue
		}
		broken = append(broken, subs...)
		m.subs[key] = nil
	}
	m.mu.Unlock()

	for _, sub := range broken {
		select {
		case sub.status <- StatusError:
		default:
		}
		sub.stop()
	}
}

// SubscriberCount live feed count for one collection and meeting.
func (m *MemoryStore) SubscriberCount(collection, meetingID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[changeChannel(collection, meetingID)])
}

func (m *MemoryStore) prepareInsert(fields map[string]any) {
	if id, _ := fields["id"].(string); id == "" {
		fields["id"] = uuid.NewString()
	}
	now := m.clock.Now().UTC().Format(time.RFC3339Nano)
	if isZeroField(fields["created_at"]) {
		fields["created_at"] = now
	}
	if v, ok := fields["uploaded_at"]; ok && isZeroField(v) {
		fields["uploaded_at"] = now
	}
	// 신규 행은 created_at == updated_at 이어야 한다
	if _, ok := fields["updated_at"]; ok {
		fields["updated_at"] = fields["created_at"]
	}
}

func (m *MemoryStore) matched(collection string, q Query) []map[string]any {
	var rows []map[string]any
	for _, fields := range m.tables[collection] {
		if matches(fields, q) {
			rows = append(rows, fields)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			a := fmt.Sprint(rows[i][q.OrderBy])
			b := fmt.Sprint(rows[j][q.OrderBy])
			if q.Desc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}

func (m *MemoryStore) publish(collection string, ev Event) {
	fields := map[string]any{}
	if ev.New != nil {
		_ = json.Unmarshal(ev.New, &fields)
	} else {
		_ = json.Unmarshal(ev.Old, &fields)
	}
	meetingID := MeetingIDOf(fields)
	if meetingID == "" {
		return
	}
	ev.Collection = collection
	ev.MeetingID = meetingID

	m.mu.Lock()
	subs := append([]*memorySub(nil), m.subs[changeChannel(collection, meetingID)]...)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.events <- ev:
		case <-sub.done:
		default:
		}
	}
}

func matches(fields map[string]any, q Query) bool {
	for _, f := range q.Filters {
		if fmt.Sprint(fields[f.Column]) != fmt.Sprint(normalize(f.Value)) {
			return false
		}
	}
	return true
}

// normalize reduces a value to its JSON shape so comparisons behave the same
// as against stored rows.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func isZeroField(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "0001-01-01T00:00:00Z"
	}
	return false
}

// writeBack round-trips stored fields into the caller's typed row.
func writeBack(fields map[string]any, row any) {
	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, row)
}
