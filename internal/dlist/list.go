// Package dlist implements the intrusive circular doubly-linked list used to
// order a thread's page blocks within one size class.
//
// Links live in the first two pointer-sized words of each node, exactly as
// the spec's page-block header lays next/prev at its head. A list is touched
// by exactly one goroutine at a time (the owning thread heap); dlist does no
// locking of its own.
package dlist

import "unsafe"

// Node is the embeddable link pair. A type that wants list membership places
// a Node as (or reachable from) its first field and casts through
// unsafe.Pointer at the list boundary, mirroring the spec's "first two
// pointer-sized words" layout.
type Node struct {
	next *Node
	prev *Node

	// Value carries a back-reference to the struct this Node is embedded
	// in, mirroring container/list.Element's Value field. The slab package
	// sets it once, at block construction, to the block's own address so a
	// list walk can recover *Block from a *Node in O(1) without an
	// unsafe offset trick.
	Value unsafe.Pointer
}

// List is a circular doubly-linked list header. The zero value is not ready
// for use; call Init first.
type List struct {
	root Node
	size int
}

// Init establishes l as an empty circular list.
func (l *List) Init() {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.size = 0
}

// Len returns the number of nodes currently linked into l.
func (l *List) Len() int { return l.size }

// IsEmpty reports whether l has no nodes.
func (l *List) IsEmpty() bool { return l.root.next == &l.root }

// PushFront links n at the head of l.
func (l *List) PushFront(n *Node) {
	n.next = l.root.next
	n.prev = &l.root
	l.root.next.prev = n
	l.root.next = n
	l.size++
}

// PushBack links n at the tail of l.
func (l *List) PushBack(n *Node) {
	n.prev = l.root.prev
	n.next = &l.root
	l.root.prev.next = n
	l.root.prev = n
	l.size++
}

// PopFront unlinks and returns the head node, or nil if l is empty.
func (l *List) PopFront() *Node {
	if l.IsEmpty() {
		return nil
	}
	n := l.root.next
	l.Remove(n)
	return n
}

// PopBack unlinks and returns the tail node, or nil if l is empty.
func (l *List) PopBack() *Node {
	if l.IsEmpty() {
		return nil
	}
	n := l.root.prev
	l.Remove(n)
	return n
}

// Front returns the head node without unlinking it, or nil if l is empty.
func (l *List) Front() *Node {
	if l.IsEmpty() {
		return nil
	}
	return l.root.next
}

// Back returns the tail node without unlinking it, or nil if l is empty.
func (l *List) Back() *Node {
	if l.IsEmpty() {
		return nil
	}
	return l.root.prev
}

// Remove unlinks n from l. It validates membership by walking from the head
// until n or the sentinel root is reached; a no-op if n is not in l. This
// mirrors the reference list's defensive remove, which tolerates being asked
// to unlink a node it never held.
func (l *List) Remove(n *Node) {
	for cur := l.root.next; cur != &l.root; cur = cur.next {
		if cur == n {
			n.prev.next = n.next
			n.next.prev = n.prev
			n.next = nil
			n.prev = nil
			l.size--
			return
		}
	}
}

// MoveToFront relinks an already-present node at the head of l without a
// membership scan; callers that know n is linked into l and only want to
// reorder it (e.g. by fullness) use this instead of Remove+PushFront. n must
// still be linked: a node that was removed has nil links.
func (l *List) MoveToFront(n *Node) {
	l.unlinkFast(n)
	l.PushFront(n)
}

// MoveToBack relinks an already-present node at the tail of l.
func (l *List) MoveToBack(n *Node) {
	l.unlinkFast(n)
	l.PushBack(n)
}

func (l *List) unlinkFast(n *Node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	l.size--
}

// NodePtr reinterprets an arbitrary pointer as a *Node, for callers that
// embed Node at the head of a larger struct (the page-block header).
func NodePtr(p unsafe.Pointer) *Node { return (*Node)(p) }
