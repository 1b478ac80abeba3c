package turnlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChangeKind tags store change notifications.
type ChangeKind string

const (
	ChangeAppended  ChangeKind = "appended"
	ChangeUpdated   ChangeKind = "updated"
	ChangeRemoved   ChangeKind = "removed"
	ChangeTruncated ChangeKind = "truncated"
	ChangeCleared   ChangeKind = "cleared"
)

// Change describes one store mutation. Turn is a copy and safe to retain.
type Change struct {
	Kind ChangeKind
	Turn Turn
}

// NotifyFunc receives store change notifications. Called synchronously under
// the store lock's shadow; keep it cheap.
type NotifyFunc func(Change)

// Update is a partial turn mutation. Nil fields are left untouched.
type Update struct {
	Content       *string
	AppendContent *string
	IsStreaming   *bool
	Feedback      *Feedback
	FunctionCall  *FunctionCall
	Citations     []Citation

	// ClearMeta drops feedback, function call and citations before the other
	// fields are applied. Used by regenerate to reset an answerer turn in
	// place.
	ClearMeta bool
}

// Store is the ordered, append-only log of turns. Order is insertion order
// and is never reordered; removal and truncation are the only deletions.
type Store struct {
	mu     sync.Mutex
	turns  []Turn
	notify NotifyFunc
}

func NewStore() *Store {
	return &Store{}
}

// OnChange registers the change notification callback. Only one callback is
// supported; the session fans out to its own subscribers.
func (s *Store) OnChange(fn NotifyFunc) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// Append adds a turn at the end and returns its id, assigning a fresh ulid
// when the turn arrives without one. Never fails.
func (s *Store) Append(t Turn) string {
	s.mu.Lock()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = ulid.Make().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.turns = append(s.turns, t)
	fn := s.notify
	s.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeAppended, Turn: t})
	}
	return t.ID
}

// Update merges partial fields into an existing turn. An absent id is a
// silent no-op, not an error, to tolerate late updates after truncation.
func (s *Store) Update(id string, u Update) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	t := &s.turns[idx]
	if u.ClearMeta {
		t.Feedback = nil
		t.FunctionCall = nil
		t.Citations = nil
	}
	if u.Content != nil {
		t.Content = *u.Content
	}
	if u.AppendContent != nil {
		t.Content += *u.AppendContent
	}
	if u.IsStreaming != nil {
		t.IsStreaming = *u.IsStreaming
	}
	if u.Feedback != nil {
		t.Feedback = u.Feedback
	}
	if u.FunctionCall != nil {
		t.FunctionCall = u.FunctionCall
	}
	if u.Citations != nil {
		t.Citations = append([]Citation{}, u.Citations...)
	}
	cp := *t
	fn := s.notify
	s.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeUpdated, Turn: cp})
	}
}

// Remove deletes a turn and removes it from the order. Absent ids are a
// no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	removed := s.turns[idx]
	s.turns = append(s.turns[:idx], s.turns[idx+1:]...)
	fn := s.notify
	s.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeRemoved, Turn: removed})
	}
}

// TruncateFrom drops the turn with the given id and everything after it,
// returning the removed turns in order. Absent ids return nil.
func (s *Store) TruncateFrom(id string) []Turn {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	removed := append([]Turn{}, s.turns[idx:]...)
	s.turns = s.turns[:idx]
	fn := s.notify
	s.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeTruncated, Turn: removed[0]})
	}
	return removed
}

// Clear drops all turns.
func (s *Store) Clear() {
	s.mu.Lock()
	s.turns = nil
	fn := s.notify
	s.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeCleared})
	}
}

// Replace swaps the full contents, used when rehydrating a persisted session.
func (s *Store) Replace(turns []Turn) {
	s.mu.Lock()
	s.turns = append([]Turn{}, turns...)
	s.mu.Unlock()
}

func (s *Store) Get(id string) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Turn{}, false
	}
	return s.turns[idx], true
}

// Last returns a copy of the final turn, or false on an empty store.
func (s *Store) Last() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// Turns returns a copy of the full log in order.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn{}, s.turns...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// CountRole returns how many turns carry the given role.
func (s *Store) CountRole(role Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.turns {
		if t.Role == role {
			n++
		}
	}
	return n
}

// WindowedContext renders the last turnsBack turns as the model's sole
// conversational memory: each as "[role]\ncontent", joined by blank lines.
// Turns with no content are skipped.
func (s *Store) WindowedContext(turnsBack int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renderWindow(s.turns, turnsBack)
}

// WindowedContextBefore is WindowedContext computed as if the turn with the
// given id (and everything after it) were absent. Used when an existing
// pending turn is reused as the question so the answerer sees everything up
// to, but not including, it.
func (s *Store) WindowedContextBefore(id string, turnsBack int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return renderWindow(s.turns, turnsBack)
	}
	return renderWindow(s.turns[:idx], turnsBack)
}

func renderWindow(turns []Turn, turnsBack int) string {
	if turnsBack <= 0 || len(turns) == 0 {
		return ""
	}
	start := len(turns) - turnsBack
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, turnsBack)
	for _, t := range turns[start:] {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", t.Role, t.Content))
	}
	return strings.Join(parts, "\n\n")
}

func (s *Store) indexLocked(id string) int {
	for i := range s.turns {
		if s.turns[i].ID == id {
			return i
		}
	}
	return -1
}
