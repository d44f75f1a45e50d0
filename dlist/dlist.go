// Package dlist implements an intrusive doubly-linked list: the link
// node lives inside the element being listed, the way the Go runtime's
// own span lists work (mSpanList threads *mspan.list through the span
// itself rather than boxing spans in a separate container). This
// package is used to chain free chunks, small-chunk containers, and
// free macro-blocks.
package dlist

// Node is embedded in any element that wants to be listable. The empty
// state is represented by both pointers referring back to the node
// itself (a self-loop), which doubles as the list root's empty state.
type Node[T any] struct {
	prev, next *Node[T]
	elem       *T
}

// initLoop makes n a self-loop: the representation of "not linked".
func (n *Node[T]) initLoop() {
	n.prev = n
	n.next = n
}

// linked reports whether n currently participates in a list with more
// than just itself, or is the root of a non-empty list.
func (n *Node[T]) linked() bool {
	return n.next != n || n.prev != n
}

// List is a circular intrusive doubly-linked list with a sentinel root
// node. The zero value is not ready to use; call Init first. A copied
// List is only valid while empty (e.g. to seed an array of empty
// lists).
type List[T any] struct {
	root Node[T]
	n    int
}

// Init must be called before first use.
func (l *List[T]) Init() *List[T] {
	l.root.initLoop()
	l.n = 0
	return l
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int { return l.n }

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.n == 0 }

func (l *List[T]) insertAfter(at *Node[T], n *Node[T], elem *T) {
	n.elem = elem
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	l.n++
}

// PushFront links elem (via its Node, obtained through nodeOf) at the
// head of the list.
func (l *List[T]) PushFront(elem *T, nodeOf func(*T) *Node[T]) {
	l.insertAfter(&l.root, nodeOf(elem), elem)
}

// PushBack links elem at the tail of the list.
func (l *List[T]) PushBack(elem *T, nodeOf func(*T) *Node[T]) {
	l.insertAfter(l.root.prev, nodeOf(elem), elem)
}

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *T {
	if l.Empty() {
		return nil
	}
	return l.root.next.elem
}

// Back returns the last element, or nil if the list is empty.
func (l *List[T]) Back() *T {
	if l.Empty() {
		return nil
	}
	return l.root.prev.elem
}

// PopFront unlinks and returns the first element, or nil if empty.
func (l *List[T]) PopFront(nodeOf func(*T) *Node[T]) *T {
	e := l.Front()
	if e == nil {
		return nil
	}
	l.Remove(e, nodeOf)
	return e
}

// PopBack unlinks and returns the last element, or nil if empty.
func (l *List[T]) PopBack(nodeOf func(*T) *Node[T]) *T {
	e := l.Back()
	if e == nil {
		return nil
	}
	l.Remove(e, nodeOf)
	return e
}

// Remove unlinks elem from the list. It reports whether elem was the
// sole element, so the caller can reset bookkeeping that assumed a
// non-empty list — if the removed element was the sole element, the
// caller is told so the containing list's own state can be reset too.
func (l *List[T]) Remove(elem *T, nodeOf func(*T) *Node[T]) (wasSole bool) {
	n := nodeOf(elem)
	if !n.linked() && l.n == 0 {
		return false
	}
	wasSole = l.n == 1
	n.prev.next = n.next
	n.next.prev = n.prev
	n.initLoop()
	n.elem = nil
	if l.n > 0 {
		l.n--
	}
	return wasSole
}

// Each calls f once per element, in forward (front-to-back) order. It
// terminates when the iteration reaches the root again, so it is safe
// against a list that is mutated only by removing the current element
// mid-iteration (f should not insert into l).
func (l *List[T]) Each(f func(*T) bool) {
	for n := l.root.next; n != &l.root; {
		next := n.next
		if !f(n.elem) {
			return
		}
		n = next
	}
}
