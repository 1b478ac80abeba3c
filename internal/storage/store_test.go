package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danshapiro/socratic/internal/turnlog"
)

func testSnapshot(id string, updated time.Time) SessionSnapshot {
	return SessionSnapshot{
		ID:        id,
		Topic:     "goroutines",
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
		Turns: []turnlog.Turn{
			{ID: "t1", Role: turnlog.RoleStarter, Content: "What is a goroutine?", CreatedAt: updated},
			{ID: "t2", Role: turnlog.RoleAnswerer, Content: "A lightweight thread.",
				Feedback:  &turnlog.Feedback{Rating: turnlog.RatingGood, Text: "fine"},
				Citations: []turnlog.Citation{{Title: "go.dev", URI: "https://go.dev"}},
				CreatedAt: updated},
		},
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	want := testSnapshot("01AAAA", time.Now().UTC().Truncate(time.Second))
	if err := store.SaveSession(want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := store.LoadSession("01AAAA")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.ID != want.ID || got.Topic != want.Topic {
		t.Fatalf("loaded %+v", got)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("turns = %d", len(got.Turns))
	}
	if got.Turns[1].Feedback == nil || got.Turns[1].Feedback.Rating != turnlog.RatingGood {
		t.Fatalf("feedback = %+v", got.Turns[1].Feedback)
	}
	if len(got.Turns[1].Citations) != 1 || got.Turns[1].Citations[0].URI != "https://go.dev" {
		t.Fatalf("citations = %+v", got.Turns[1].Citations)
	}
}

func TestSaveRequiresID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveSession(SessionSnapshot{}); err == nil {
		t.Fatal("empty id accepted")
	}
}

func TestLoadAllSessionsNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	base := time.Now().UTC()
	for i, id := range []string{"01OLD", "01MID", "01NEW"} {
		if err := store.SaveSession(testSnapshot(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveSession %s: %v", id, err)
		}
	}

	snaps, err := store.LoadAllSessions()
	if err != nil {
		t.Fatalf("LoadAllSessions: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d", len(snaps))
	}
	want := []string{"01NEW", "01MID", "01OLD"}
	for i, id := range want {
		if snaps[i].ID != id {
			t.Fatalf("order = [%s %s %s], want %v", snaps[0].ID, snaps[1].ID, snaps[2].ID, want)
		}
	}
}

func TestLoadAllSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveSession(testSnapshot("01GOOD", time.Now().UTC())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "01BAD.session"), []byte("not a snapshot"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	// Flip one payload byte so the integrity hash no longer matches.
	tampered := filepath.Join(dir, "01TAMPERED.session")
	if err := store.SaveSession(testSnapshot("01TAMPERED", time.Now().UTC())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	b, err := os.ReadFile(tampered)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b[len(b)-1] ^= 0xff
	if err := os.WriteFile(tampered, b, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	snaps, err := store.LoadAllSessions()
	if err != nil {
		t.Fatalf("LoadAllSessions: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != "01GOOD" {
		t.Fatalf("snapshots = %+v, want only the intact one", snaps)
	}
}

func TestLoadRejectsTamperedPayload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveSession(testSnapshot("01X", time.Now().UTC())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	path := filepath.Join(dir, "01X.session")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b[len(b)-1] ^= 0xff
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	if _, err := store.LoadSession("01X"); err == nil {
		t.Fatal("tampered snapshot loaded")
	}
}

func TestDeleteSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveSession(testSnapshot("01DEL", time.Now().UTC())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.DeleteSession("01DEL"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.LoadSession("01DEL"); err == nil {
		t.Fatal("deleted session still loads")
	}
	// Deleting an absent session is not an error.
	if err := store.DeleteSession("01DEL"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
