package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danshapiro/socratic/internal/agent"
)

// SessionState tracks one live session: the agent session itself, the SSE
// broadcaster its events feed, and the cancel func that stops its loop.
type SessionState struct {
	ID          string
	Session     *agent.Session
	Broadcaster *Broadcaster
	Cancel      context.CancelFunc
	StartedAt   time.Time

	mu  sync.Mutex
	err error
}

// SetErr records a terminal loop error for the status surface.
func (ss *SessionState) SetErr(err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.err = err
}

// Status returns the current session status for the HTTP API.
func (ss *SessionState) Status() SessionStatus {
	st := SessionStatus{
		SessionID: ss.ID,
		Topic:     ss.Session.Topic(),
		State:     string(ss.Session.State()),
		TurnCount: len(ss.Session.Turns()),
	}
	for _, cs := range ss.Session.CredentialStatuses() {
		st.Credentials = append(st.Credentials, string(cs))
	}
	return st
}

// SessionRegistry is the thread-safe map of live sessions.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*SessionState)}
}

func (r *SessionRegistry) Register(id string, ss *SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("session %s already exists", id)
	}
	r.sessions[id] = ss
	return nil
}

func (r *SessionRegistry) Get(id string) (*SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ss, ok := r.sessions[id]
	return ss, ok
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// List returns session ids sorted by start time, newest first.
func (r *SessionRegistry) List() []*SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SessionState, 0, len(r.sessions))
	for _, ss := range r.sessions {
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// CancelAll stops every live session loop, used at shutdown.
func (r *SessionRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ss := range r.sessions {
		if ss.Cancel != nil {
			ss.Cancel()
		}
	}
}
