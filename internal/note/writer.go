package note

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/presence"
	"collab-notes-backend/internal/store"
)

// Writer buffers one participant's note edits and writes them out after the
// typing pauses. Every keystroke marks the participant as typing; the typing
// flag clears after typingDelay of silence and the buffered text is written
// after writeDelay. Writes are last-writer-wins over the meeting's note row.
type Writer struct {
	store     store.Store
	clock     clock.Clock
	presence  *presence.Tracker
	coalescer *Coalescer
	meetingID string
	userName  string

	typingDelay time.Duration
	writeDelay  time.Duration

	ctx context.Context

	mu           sync.Mutex
	pending      *string
	typingActive bool
	typingTimer  *clock.Timer
	writeTimer   *clock.Timer
	closed       bool
}

// NewWriter wires a writer for one participant in one meeting.
func NewWriter(ctx context.Context, st store.Store, clk clock.Clock, tracker *presence.Tracker, coalescer *Coalescer, meetingID, userName string, typingDelay, writeDelay time.Duration) *Writer {
	if clk == nil {
		clk = clock.New()
	}
	return &Writer{
		store:       st,
		clock:       clk,
		presence:    tracker,
		coalescer:   coalescer,
		meetingID:   meetingID,
		userName:    userName,
		typingDelay: typingDelay,
		writeDelay:  writeDelay,
		ctx:         ctx,
	}
}

// SetText replaces the buffered note text and restarts both debounce timers.
// Only the newest text survives a burst of calls.
func (w *Writer) SetText(text string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = &text

	markTyping := !w.typingActive
	w.typingActive = true

	if w.typingTimer == nil {
		w.typingTimer = w.clock.AfterFunc(w.typingDelay, w.typingStopped)
	} else {
		w.typingTimer.Reset(w.typingDelay)
	}
	if w.writeTimer == nil {
		w.writeTimer = w.clock.AfterFunc(w.writeDelay, w.writeDue)
	} else {
		w.writeTimer.Reset(w.writeDelay)
	}
	w.mu.Unlock()

	if markTyping {
		if err := w.presence.SetTyping(w.ctx, w.meetingID, w.userName, true); err != nil {
			log.Printf("[Note] typing on for %s failed: %v", w.userName, err)
		}
	}
}

func (w *Writer) typingStopped() {
	w.mu.Lock()
	if w.closed || !w.typingActive {
		w.mu.Unlock()
		return
	}
	w.typingActive = false
	w.mu.Unlock()

	if err := w.presence.SetTyping(w.ctx, w.meetingID, w.userName, false); err != nil {
		log.Printf("[Note] typing off for %s failed: %v", w.userName, err)
	}
}

func (w *Writer) writeDue() {
	if err := w.Flush(w.ctx); err != nil {
		log.Printf("[Note] debounced write for %s failed: %v", w.userName, err)
	}
}

// Flush writes any buffered text immediately. No-op when nothing is pending.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.pending == nil {
		w.mu.Unlock()
		return nil
	}
	text := *w.pending
	w.pending = nil
	if w.writeTimer != nil {
		w.writeTimer.Stop()
	}
	w.mu.Unlock()

	q := store.Eq("meeting_id", w.meetingID)
	err := w.store.Update(ctx, "notes", q, map[string]any{
		"content": model.NoteContent{Text: text},
	})
	if err != nil {
		return err
	}

	if w.coalescer != nil {
		w.coalescer.RecordEdit(ctx, w.meetingID, w.userName, len([]rune(text)))
	}
	return nil
}

// Close stops both timers and clears the typing flag. Text still waiting on
// the debounce timer is abandoned, so keystrokes within the write delay of
// teardown can be lost. Safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	wasTyping := w.typingActive
	w.typingActive = false
	if w.typingTimer != nil {
		w.typingTimer.Stop()
	}
	if w.writeTimer != nil {
		w.writeTimer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	if wasTyping {
		if err := w.presence.SetTyping(w.ctx, w.meetingID, w.userName, false); err != nil {
			log.Printf("[Note] typing off for %s failed: %v", w.userName, err)
		}
	}
}
