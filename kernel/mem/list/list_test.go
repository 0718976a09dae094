package list

import "testing"

func TestPushPopFIFO(t *testing.T) {
	var l List[int]
	l.PushTail(1)
	l.PushTail(2)
	l.PushTail(3)

	if got := l.Size(); got != 3 {
		t.Fatalf("expected size 3, got %d", got)
	}

	for _, want := range []int{1, 2, 3} {
		if got := l.PopHead(); got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if !l.Empty() {
		t.Fatal("expected list to be empty after draining")
	}
}

func TestPushHeadLIFO(t *testing.T) {
	var l List[string]
	l.PushHead("a")
	l.PushHead("b")
	l.PushHead("c")

	if got := l.PopHead(); got != "c" {
		t.Fatalf("expected c, got %s", got)
	}
}

func TestPopHeadWithoutFree(t *testing.T) {
	var l List[int]
	l.PushTail(1)
	l.PushTail(2)

	l.PopHeadWithoutFree()
	if got := l.Size(); got != 1 {
		t.Fatalf("expected size 1, got %d", got)
	}
	if got := l.Head(); got != 2 {
		t.Fatalf("expected head 2, got %d", got)
	}
}

func TestRemoveByData(t *testing.T) {
	var l List[int]
	l.PushTail(1)
	l.PushTail(2)
	l.PushTail(3)

	eq := func(a, b int) bool { return a == b }
	if !l.RemoveByData(2, eq) {
		t.Fatal("expected RemoveByData to find 2")
	}
	if l.Size() != 2 {
		t.Fatalf("expected size 2, got %d", l.Size())
	}

	var seen []int
	l.ForEach(func(v int) { seen = append(seen, v) })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 3 {
		t.Fatalf("expected [1 3], got %v", seen)
	}

	if l.RemoveByData(99, eq) {
		t.Fatal("expected RemoveByData to report false for a missing element")
	}
}

func TestRemoveByDataTail(t *testing.T) {
	var l List[int]
	l.PushTail(1)
	l.PushTail(2)

	eq := func(a, b int) bool { return a == b }
	if !l.RemoveByData(2, eq) {
		t.Fatal("expected RemoveByData to find tail element 2")
	}
	// tail must have followed the removal, or a subsequent PushTail
	// would corrupt the list by linking off the stale tail pointer.
	l.PushTail(3)
	var seen []int
	l.ForEach(func(v int) { seen = append(seen, v) })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 3 {
		t.Fatalf("expected [1 3], got %v", seen)
	}
}

func TestFind(t *testing.T) {
	var l List[int]
	l.PushTail(10)
	l.PushTail(20)
	l.PushTail(30)

	got, ok := l.Find(func(v int) bool { return v > 15 })
	if !ok || got != 20 {
		t.Fatalf("expected (20, true), got (%d, %v)", got, ok)
	}

	_, ok = l.Find(func(v int) bool { return v > 100 })
	if ok {
		t.Fatal("expected Find to report false when no element matches")
	}
}
