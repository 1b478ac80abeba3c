package turnlog

import (
	"fmt"
	"strings"
	"testing"
)

func seedStore(n int) *Store {
	s := NewStore()
	roles := []Role{RoleAsker, RoleAnswerer}
	for i := 0; i < n; i++ {
		s.Append(Turn{Role: roles[i%2], Content: fmt.Sprintf("turn %d", i+1)})
	}
	return s
}

func TestStore_AppendAssignsIDAndPreservesOrder(t *testing.T) {
	s := NewStore()
	id1 := s.Append(Turn{Role: RoleUser, Content: "one"})
	id2 := s.Append(Turn{Role: RoleAsker, Content: "two"})
	if id1 == "" || id2 == "" {
		t.Fatalf("ids not assigned: %q %q", id1, id2)
	}
	if id1 == id2 {
		t.Fatalf("duplicate ids: %q", id1)
	}
	turns := s.Turns()
	if len(turns) != 2 || turns[0].Content != "one" || turns[1].Content != "two" {
		t.Fatalf("unexpected order: %+v", turns)
	}
}

func TestStore_UpdateAbsentIDIsNoOp(t *testing.T) {
	s := seedStore(2)
	content := "rewritten"
	s.Update("nonexistent", Update{Content: &content})
	for _, turn := range s.Turns() {
		if turn.Content == content {
			t.Fatalf("update of absent id mutated a turn: %+v", turn)
		}
	}
}

func TestStore_UpdateMergesFields(t *testing.T) {
	s := NewStore()
	id := s.Append(Turn{Role: RoleAnswerer, Content: "partial", IsStreaming: true})

	more := " answer"
	s.Update(id, Update{AppendContent: &more})
	done := false
	s.Update(id, Update{IsStreaming: &done})

	got, ok := s.Get(id)
	if !ok {
		t.Fatal("turn missing")
	}
	if got.Content != "partial answer" {
		t.Fatalf("content = %q", got.Content)
	}
	if got.IsStreaming {
		t.Fatal("still streaming after freeze")
	}
}

func TestStore_UpdateClearMeta(t *testing.T) {
	s := NewStore()
	id := s.Append(Turn{
		Role:         RoleAnswerer,
		Content:      "old",
		FunctionCall: &FunctionCall{Name: "interactive_example"},
		Citations:    []Citation{{Title: "t", URI: "u"}},
	})
	empty := ""
	s.Update(id, Update{Content: &empty, ClearMeta: true})
	got, _ := s.Get(id)
	if got.Content != "" || got.FunctionCall != nil || got.Citations != nil {
		t.Fatalf("meta not cleared: %+v", got)
	}
}

func TestStore_Remove(t *testing.T) {
	s := seedStore(3)
	turns := s.Turns()
	s.Remove(turns[1].ID)
	got := s.Turns()
	if len(got) != 2 || got[0].ID != turns[0].ID || got[1].ID != turns[2].ID {
		t.Fatalf("unexpected turns after remove: %+v", got)
	}
}

func TestStore_TruncateFrom(t *testing.T) {
	s := NewStore()
	q1 := s.Append(Turn{Role: RoleUser, Content: "q1"})
	s.Append(Turn{Role: RoleAnswerer, Content: "a1"})
	s.Append(Turn{Role: RoleUser, Content: "q2"})

	removed := s.TruncateFrom(q1)
	if len(removed) != 3 {
		t.Fatalf("removed %d turns, want 3", len(removed))
	}
	if s.Len() != 0 {
		t.Fatalf("store not empty after truncating from first turn: %d", s.Len())
	}
}

func TestStore_WindowedContext(t *testing.T) {
	s := seedStore(6)
	got := s.WindowedContext(4)

	want := strings.Join([]string{
		"[asker]\nturn 3",
		"[answerer]\nturn 4",
		"[asker]\nturn 5",
		"[answerer]\nturn 6",
	}, "\n\n")
	if got != want {
		t.Fatalf("windowed context:\n%s\nwant:\n%s", got, want)
	}
}

func TestStore_WindowedContextSkipsEmptyTurns(t *testing.T) {
	s := NewStore()
	s.Append(Turn{Role: RoleAsker, Content: "question"})
	s.Append(Turn{Role: RoleAnswerer, Content: ""})
	s.Append(Turn{Role: RoleUser, Content: "followup"})

	got := s.WindowedContext(8)
	if strings.Contains(got, "[answerer]") {
		t.Fatalf("empty turn rendered: %q", got)
	}
	if !strings.Contains(got, "[asker]\nquestion") || !strings.Contains(got, "[user]\nfollowup") {
		t.Fatalf("missing turns: %q", got)
	}
}

func TestStore_WindowedContextBefore(t *testing.T) {
	s := NewStore()
	s.Append(Turn{Role: RoleStarter, Content: "opening"})
	pending := s.Append(Turn{Role: RoleUser, Content: "pending question"})

	got := s.WindowedContextBefore(pending, 8)
	if strings.Contains(got, "pending question") {
		t.Fatalf("context includes the excluded turn: %q", got)
	}
	if !strings.Contains(got, "[starter]\nopening") {
		t.Fatalf("context missing prior turns: %q", got)
	}
}

func TestStore_ChangeNotifications(t *testing.T) {
	s := NewStore()
	var kinds []ChangeKind
	s.OnChange(func(ch Change) { kinds = append(kinds, ch.Kind) })

	id := s.Append(Turn{Role: RoleUser, Content: "hi"})
	c := "hello"
	s.Update(id, Update{Content: &c})
	s.Remove(id)

	want := []ChangeKind{ChangeAppended, ChangeUpdated, ChangeRemoved}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

func TestWindowSize_TurnsBack(t *testing.T) {
	cases := map[WindowSize]int{
		WindowShort:      4,
		WindowMedium:     8,
		WindowLong:       12,
		WindowSize("??"): 8,
	}
	for w, want := range cases {
		if got := w.TurnsBack(); got != want {
			t.Fatalf("%s.TurnsBack() = %d, want %d", w, got, want)
		}
	}
}
