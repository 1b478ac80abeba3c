package server

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSessionRegistry_RegisterAndGet(t *testing.T) {
	r := NewSessionRegistry()

	ss := &SessionState{ID: "sess-1"}
	if err := r.Register("sess-1", ss); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := r.Get("sess-1")
	if !ok {
		t.Fatal("expected to find session")
	}
	if got.ID != "sess-1" {
		t.Fatalf("unexpected session ID: %s", got.ID)
	}
}

func TestSessionRegistry_DuplicateRegister(t *testing.T) {
	r := NewSessionRegistry()

	ss := &SessionState{ID: "sess-1"}
	if err := r.Register("sess-1", ss); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Register("sess-1", ss); err == nil {
		t.Fatal("expected error on duplicate register")
	}
}

func TestSessionRegistry_GetNotFound(t *testing.T) {
	r := NewSessionRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected not found")
	}
}

func TestSessionRegistry_ListNewestFirst(t *testing.T) {
	r := NewSessionRegistry()
	base := time.Now().UTC()
	r.Register("old", &SessionState{ID: "old", StartedAt: base})
	r.Register("new", &SessionState{ID: "new", StartedAt: base.Add(time.Minute)})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("unexpected order: %s, %s", list[0].ID, list[1].ID)
	}
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("sess-1", &SessionState{ID: "sess-1"})
	r.Remove("sess-1")
	if _, ok := r.Get("sess-1"); ok {
		t.Fatal("session still present after remove")
	}
}

func TestSessionRegistry_CancelAll(t *testing.T) {
	r := NewSessionRegistry()

	canceled := make([]string, 0)
	var mu sync.Mutex

	for _, id := range []string{"a", "b", "c"} {
		_, cancel := context.WithCancel(context.Background())
		localID := id
		r.Register(id, &SessionState{
			ID: id,
			Cancel: func() {
				mu.Lock()
				canceled = append(canceled, localID)
				mu.Unlock()
				cancel()
			},
		})
	}

	r.CancelAll()

	mu.Lock()
	defer mu.Unlock()
	if len(canceled) != 3 {
		t.Fatalf("expected 3 cancellations, got %d", len(canceled))
	}
}
