package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"collab-notes-backend/internal/store"
)

// =============================================================================
// Subscriber - 회의 단위 변경 피드 구독 관리
// =============================================================================

// Channel describes how one collection's change feed is consumed.
//
// Direct channels (OnEvent set) hand each matching row straight to the
// consumer. Invalidation channels (OnEvent nil) treat any change as stale
// state and call Refresh to re-fetch the whole collection.
type Channel struct {
	Collection string
	// Types limits which event kinds reach OnEvent. Empty means all.
	Types   []store.EventType
	OnEvent func(store.Event)
	// Refresh re-fetches collection state. Called once per successful
	// subscribe, and on every event when OnEvent is nil.
	Refresh func(context.Context)
}

func (c Channel) wants(t store.EventType) bool {
	if len(c.Types) == 0 {
		return true
	}
	for _, want := range c.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Subscriber keeps one meeting's channels live. Any channel failure tears
// down every channel, waits a fixed backoff, and rebuilds them all, retrying
// until Close. At most one rebuild cycle runs at a time.
type Subscriber struct {
	store     store.Store
	clock     clock.Clock
	meetingID string
	backoff   time.Duration
	channels  []Channel
	// OnStatus observes per-channel status transitions. Optional.
	OnStatus func(collection string, status store.ChannelStatus)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	subs         []*store.Subscription
	reconnecting bool
	started      bool
	closed       bool
	wg           sync.WaitGroup
}

// NewSubscriber wires a subscriber for one meeting. Channels are not opened
// until Start.
func NewSubscriber(st store.Store, clk clock.Clock, meetingID string, backoff time.Duration, channels ...Channel) *Subscriber {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		store:     st,
		clock:     clk,
		meetingID: meetingID,
		backoff:   backoff,
		channels:  channels,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start opens every channel. Calling it twice is a no-op.
func (s *Subscriber) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.openAllLocked()
	s.mu.Unlock()
}

// Close tears every channel down and stops reconnecting. Idempotent.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.teardownLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

// openAllLocked subscribes every channel. Caller holds s.mu.
func (s *Subscriber) openAllLocked() {
	for _, ch := range s.channels {
		sub := s.store.Subscribe(s.ctx, ch.Collection, s.meetingID)
		s.subs = append(s.subs, sub)
		s.wg.Add(1)
		go s.run(ch, sub)
	}
}

func (s *Subscriber) teardownLocked() {
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
}

// run consumes one channel until its feed ends, then hands control to the
// reconnect cycle.
func (s *Subscriber) run(ch Channel, sub *store.Subscription) {
	defer s.wg.Done()

	events, statuses := sub.Events, sub.Status
	for {
		select {
		case <-s.ctx.Done():
			return

		case status, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if s.OnStatus != nil {
				s.OnStatus(ch.Collection, status)
			}
			switch status {
			case store.StatusSubscribed:
				if ch.Refresh != nil {
					ch.Refresh(s.ctx)
				}
			case store.StatusError, store.StatusTimedOut:
				s.scheduleReconnect(ch.Collection, status)
				return
			}

		case ev, ok := <-events:
			if !ok {
				// feed closed without a terminal status
				s.scheduleReconnect(ch.Collection, store.StatusError)
				return
			}
			if !ch.wants(ev.Type) {
				continue
			}
			if ch.OnEvent != nil {
				ch.OnEvent(ev)
			} else if ch.Refresh != nil {
				ch.Refresh(s.ctx)
			}
		}
	}
}

// scheduleReconnect starts one full teardown-and-rebuild cycle. Failures from
// the other channels of the same broken connection collapse into the cycle
// already in flight.
func (s *Subscriber) scheduleReconnect(collection string, status store.ChannelStatus) {
	s.mu.Lock()
	if s.closed || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.teardownLocked()
	s.mu.Unlock()

	log.Printf("[Realtime] meeting %s channel %s reported %s, resubscribing in %s",
		s.meetingID, collection, status, s.backoff)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(s.backoff):
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.reconnecting = false
		s.openAllLocked()
	}()
}
