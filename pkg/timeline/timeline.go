// Package timeline maintains the per-room message log: an append-only
// sequence that merges optimistic local sends with server-confirmed traffic
// without showing duplicates.
package timeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type DeliveryState int

const (
	Optimistic DeliveryState = iota
	Confirmed
)

func (s DeliveryState) String() string {
	if s == Confirmed {
		return "confirmed"
	}
	return "optimistic"
}

// Message is one timeline row. Timestamp is the server's display string and
// is never used for ordering; display order is arrival order.
type Message struct {
	ID        string
	Room      string
	Sender    string
	Body      string
	Timestamp string
	State     DeliveryState
}

type entry struct {
	msg   Message
	added time.Time
}

// Timeline is the ordered log for a single room. Append-only from the
// consumer's perspective: reconciliation upgrades rows in place, it never
// reorders them.
type Timeline struct {
	mu      sync.Mutex
	room    string
	entries []entry
	window  time.Duration
	now     func() time.Time
}

const defaultMatchWindow = 10 * time.Second

func New(room string) *Timeline {
	return NewWithWindow(room, defaultMatchWindow)
}

// NewWithWindow sets the reconciliation match window: how long an optimistic
// entry stays eligible to absorb its server echo.
func NewWithWindow(room string, window time.Duration) *Timeline {
	return &Timeline{room: room, window: window, now: time.Now}
}

func (t *Timeline) Room() string { return t.room }

// AppendLocal inserts an optimistic entry for a just-sent message, giving
// the UI immediate feedback before the server echo lands.
func (t *Timeline) AppendLocal(sender, body, timestamp string) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Room:      t.room,
		Sender:    sender,
		Body:      body,
		Timestamp: timestamp,
		State:     Optimistic,
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry{msg: msg, added: t.now()})
	t.mu.Unlock()
	return msg
}

// Reconcile merges a server-confirmed message. If an optimistic entry with
// the same sender and body exists inside the match window it is upgraded in
// place (no duplicate row); otherwise the message is appended as a new
// confirmed entry, which covers traffic from other participants.
func (t *Timeline) Reconcile(sender, body, timestamp string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	for i := range t.entries {
		e := &t.entries[i]
		if e.msg.State != Optimistic || e.msg.Sender != sender || e.msg.Body != body {
			continue
		}
		if e.added.Before(cutoff) {
			continue
		}
		e.msg.State = Confirmed
		if timestamp != "" {
			e.msg.Timestamp = timestamp
		}
		return e.msg
	}

	msg := Message{
		ID:        uuid.New().String(),
		Room:      t.room,
		Sender:    sender,
		Body:      body,
		Timestamp: timestamp,
		State:     Confirmed,
	}
	t.entries = append(t.entries, entry{msg: msg, added: t.now()})
	return msg
}

// ReplaceHistory swaps the timeline for the server's authoritative list.
// Not-yet-reconciled optimistic entries are dropped rather than risking
// duplicate display against the fresh snapshot.
func (t *Timeline) ReplaceHistory(history []Message) {
	entries := make([]entry, 0, len(history))
	now := t.now()
	for _, m := range history {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.Room = t.room
		m.State = Confirmed
		entries = append(entries, entry{msg: m, added: now})
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

// Messages returns a copy of the timeline in display order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Store holds one timeline per room.
type Store struct {
	mu        sync.Mutex
	timelines map[string]*Timeline
	window    time.Duration
}

func NewStore() *Store {
	return &Store{timelines: make(map[string]*Timeline), window: defaultMatchWindow}
}

// Get returns the timeline for room, creating it on first use.
func (s *Store) Get(room string) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[room]
	if !ok {
		tl = NewWithWindow(room, s.window)
		s.timelines[room] = tl
	}
	return tl
}

// Drop discards the timeline for room. Called on leave so stale events
// cannot mutate a discarded log.
func (s *Store) Drop(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timelines, room)
}
