package undo

import (
	"fmt"
	"testing"
)

func TestHistoryIsBounded(t *testing.T) {
	h := New[int](0)
	if h.Capacity() != DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", h.Capacity(), DefaultCapacity)
	}
	for i := 1; i <= 21; i++ {
		h.Push(fmt.Sprintf("op %d", i), i)
	}
	if h.Len() != 20 {
		t.Fatalf("len = %d, want 20", h.Len())
	}
	desc := h.Descriptions()
	if desc[0] != "op 21" || desc[len(desc)-1] != "op 2" {
		t.Fatalf("descriptions = %v, want op 21 .. op 2", desc)
	}

	var last int
	for h.Len() > 0 {
		h.Undo(func(s Snapshot[int]) { last = s.State })
	}
	if last != 2 {
		t.Fatalf("oldest surviving state = %d, want 2 (1 was discarded)", last)
	}
}

func TestUndoIsLIFO(t *testing.T) {
	h := New[string](5)
	h.Push("a", "state-a")
	h.Push("b", "state-b")

	var got []string
	for {
		_, ok := h.Undo(func(s Snapshot[string]) { got = append(got, s.State) })
		if !ok {
			break
		}
	}
	if len(got) != 2 || got[0] != "state-b" || got[1] != "state-a" {
		t.Fatalf("undo order = %v", got)
	}
}

func TestUndoOnEmptyStack(t *testing.T) {
	h := New[int](3)
	called := false
	if _, ok := h.Undo(func(Snapshot[int]) { called = true }); ok || called {
		t.Fatal("undo on empty stack should be a no-op")
	}
}

func TestPushIgnoredWhileRestoring(t *testing.T) {
	h := New[int](3)
	h.Push("first", 1)
	h.Push("second", 2)

	h.Undo(func(s Snapshot[int]) {
		if !h.Restoring() {
			t.Fatal("expected restoring during apply")
		}
		if h.Push("nested", 99) {
			t.Fatal("push during restore should be dropped")
		}
		if _, ok := h.Undo(func(Snapshot[int]) {}); ok {
			t.Fatal("nested undo should be refused")
		}
	})
	if h.Restoring() {
		t.Fatal("restoring flag should clear after apply")
	}
	if desc := h.Descriptions(); len(desc) != 1 || desc[0] != "first" {
		t.Fatalf("descriptions = %v, want [first]", desc)
	}
}

func TestClear(t *testing.T) {
	h := New[int](3)
	h.Push("a", 1)
	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("len = %d after clear", h.Len())
	}
}
