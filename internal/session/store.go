package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the conversation state of one widget session: the ordered
// transcript, the input buffer, the busy flag and the time of the last
// accepted chat request. All mutations are synchronous and observers are
// notified after the lock is released.
type Store struct {
	id          string
	mu          sync.Mutex
	messages    []Message
	input       string
	busy        bool
	lastRequest time.Time
	observers   []func(Snapshot)
}

// NewStore creates a store seeded with a single bot greeting
func NewStore(greeting string) *Store {
	s := &Store{id: uuid.NewString()}
	if greeting != "" {
		s.messages = []Message{BotMessage(greeting)}
	}
	return s
}

// ID returns the session identifier
func (s *Store) ID() string {
	return s.id
}

// Subscribe registers fn to be called with a snapshot after every mutation
func (s *Store) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Messages returns a copy of the transcript, oldest first
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyMessagesLocked()
}

// Snapshot returns a copy of the whole conversation state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Append adds msg to the end of the transcript. Appending a temporary
// message first drops any existing one so at most one is ever present.
func (s *Store) Append(msg Message) {
	s.mutate(func() {
		if msg.Temporary {
			s.messages = filterTemporary(s.messages)
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		s.messages = append(s.messages, msg)
	})
}

// Replace swaps the whole transcript
func (s *Store) Replace(msgs []Message) {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	s.mutate(func() {
		s.messages = cp
	})
}

// RemoveTemporary drops every placeholder message, wherever it sits in the
// transcript, and returns how many were removed.
func (s *Store) RemoveTemporary() int {
	removed := 0
	s.mutate(func() {
		before := len(s.messages)
		s.messages = filterTemporary(s.messages)
		removed = before - len(s.messages)
	})
	return removed
}

// Input returns the current input buffer
func (s *Store) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// SetInput replaces the input buffer
func (s *Store) SetInput(input string) {
	s.mutate(func() {
		s.input = input
	})
}

// Busy reports whether a chat request is in flight
func (s *Store) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SetBusy sets the busy flag
func (s *Store) SetBusy(busy bool) {
	s.mutate(func() {
		s.busy = busy
	})
}

// LastRequest returns the start time of the last accepted chat request,
// the zero time if there has been none.
func (s *Store) LastRequest() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequest
}

// SetLastRequest records the start time of an accepted chat request
func (s *Store) SetLastRequest(t time.Time) {
	s.mutate(func() {
		s.lastRequest = t
	})
}

// Reset restores the transcript to a single greeting and clears the input
// buffer. The throttle timestamp is kept.
func (s *Store) Reset(greeting string) {
	s.mutate(func() {
		s.messages = nil
		if greeting != "" {
			s.messages = []Message{BotMessage(greeting)}
		}
		s.input = ""
	})
}

func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	observers := make([]func(Snapshot), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, observer := range observers {
		observer(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Messages:    s.copyMessagesLocked(),
		Input:       s.input,
		Busy:        s.busy,
		LastRequest: s.lastRequest,
	}
}

func (s *Store) copyMessagesLocked() []Message {
	cp := make([]Message, len(s.messages))
	copy(cp, s.messages)
	return cp
}

func filterTemporary(msgs []Message) []Message {
	kept := msgs[:0:0]
	for _, msg := range msgs {
		if !msg.Temporary {
			kept = append(kept, msg)
		}
	}
	return kept
}
