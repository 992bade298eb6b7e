package store

import (
	"context"
	"encoding/json"
	"sync"
)

// EventType change feed row operation
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChannelStatus lifecycle of one change feed subscription
type ChannelStatus string

const (
	StatusConnecting ChannelStatus = "CONNECTING"
	StatusSubscribed ChannelStatus = "SUBSCRIBED"
	StatusError      ChannelStatus = "ERROR"
	StatusTimedOut   ChannelStatus = "TIMED_OUT"
)

// Event one row change on a collection, scoped to a meeting. New carries the
// row after INSERT/UPDATE, Old the row before DELETE.
type Event struct {
	Type       EventType       `json:"type"`
	Collection string          `json:"collection"`
	MeetingID  string          `json:"meeting_id"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
}

// Filter equality condition on one column
type Filter struct {
	Column string
	Value  any
}

// Query read/mutation scope for a collection
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Eq shorthand for a single-filter query
func Eq(column string, value any) Query {
	return Query{Filters: []Filter{{Column: column, Value: value}}}
}

// And appends another equality filter
func (q Query) And(column string, value any) Query {
	q.Filters = append(q.Filters, Filter{Column: column, Value: value})
	return q
}

// Order sets result ordering
func (q Query) Order(column string, desc bool) Query {
	q.OrderBy = column
	q.Desc = desc
	return q
}

// Take caps the result count
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Store row access plus a per-meeting change feed. Mutations publish the
// matching Event to every live subscription on the same collection and meeting.
type Store interface {
	Select(ctx context.Context, collection string, q Query, dest any) error
	Insert(ctx context.Context, collection string, row any) error
	Update(ctx context.Context, collection string, q Query, values map[string]any) error
	Delete(ctx context.Context, collection string, q Query) error
	// Upsert inserts or, on a conflict over conflictColumns, overwrites the
	// existing row in place.
	Upsert(ctx context.Context, collection string, row any, conflictColumns []string) error
	Subscribe(ctx context.Context, collection, meetingID string) *Subscription
}

// Subscription live change feed for one collection and meeting. Events stays
// open until Close or feed failure; Status reports the connection lifecycle.
type Subscription struct {
	Events <-chan Event
	Status <-chan ChannelStatus

	cancel context.CancelFunc
	once   sync.Once
}

// NewSubscription wires a Subscription over its backing channels.
func NewSubscription(events <-chan Event, status <-chan ChannelStatus, cancel context.CancelFunc) *Subscription {
	return &Subscription{Events: events, Status: status, cancel: cancel}
}

// Close tears the feed down. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// MeetingIDOf pulls the meeting scope out of a row for feed routing.
func MeetingIDOf(row any) string {
	data, err := json.Marshal(row)
	if err != nil {
		return ""
	}
	var probe struct {
		MeetingID string `json:"meeting_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	if probe.MeetingID != "" {
		return probe.MeetingID
	}
	// meetings 컬렉션은 자기 자신이 스코프
	return probe.ID
}
