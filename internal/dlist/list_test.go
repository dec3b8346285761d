package dlist

import (
	"testing"
	"unsafe"
)

func TestPushFrontPopBackOrdering(t *testing.T) {
	var l List
	l.Init()

	a, b, c := &Node{}, &Node{}, &Node{}
	l.PushFront(a)
	l.PushFront(b)
	l.PushFront(c)

	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
	if l.Front() != c {
		t.Fatalf("front should be the most recently pushed node")
	}
	if l.Back() != a {
		t.Fatalf("back should be the first pushed node")
	}

	if got := l.PopBack(); got != a {
		t.Fatalf("pop_back = %p, want %p", got, a)
	}
	if l.Len() != 2 {
		t.Fatalf("len after pop_back = %d, want 2", l.Len())
	}
}

func TestRemoveMiddleNode(t *testing.T) {
	var l List
	l.Init()
	a, b, c := &Node{}, &Node{}, &Node{}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	if l.Front() != a || l.Back() != c {
		t.Fatalf("remove of middle node corrupted ordering")
	}
}

func TestRemoveAbsentNodeIsNoOp(t *testing.T) {
	var l List
	l.Init()
	a := &Node{}
	l.PushBack(a)

	stray := &Node{}
	l.Remove(stray)
	if l.Len() != 1 {
		t.Fatalf("removing a node never inserted should be a no-op, len = %d", l.Len())
	}
}

func TestMoveToFrontReordersWithoutChangingLength(t *testing.T) {
	var l List
	l.Init()
	a, b, c := &Node{}, &Node{}, &Node{}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.MoveToFront(c)
	if l.Front() != c {
		t.Fatalf("front after move_to_front = %p, want %p", l.Front(), c)
	}
	if l.Len() != 3 {
		t.Fatalf("len changed across move_to_front: %d", l.Len())
	}

	l.MoveToBack(c)
	if l.Back() != c {
		t.Fatalf("back after move_to_back = %p, want %p", l.Back(), c)
	}
}

func TestEmptyListInvariants(t *testing.T) {
	var l List
	l.Init()
	if !l.IsEmpty() {
		t.Fatalf("freshly initialized list should be empty")
	}
	if l.PopFront() != nil || l.PopBack() != nil {
		t.Fatalf("pop on an empty list must return nil")
	}
	if l.Front() != nil || l.Back() != nil {
		t.Fatalf("front/back on an empty list must return nil")
	}
}

func TestValueCarriesBackReference(t *testing.T) {
	var l List
	l.Init()

	type owner struct{ n Node }
	o := &owner{}
	o.n.Value = unsafe.Pointer(o) // set explicitly by embedders; dlist itself never touches Value
	l.PushBack(&o.n)

	if l.Front() != &o.n || l.Front().Value != unsafe.Pointer(o) {
		t.Fatalf("expected the embedded node back, still pointing at its owner")
	}
}
