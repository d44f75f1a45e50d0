// Package mpscq implements a multi-producer, single-consumer queue that
// is drained in bulk. It is the mechanism by which a thread's free of an
// address it does not own gets handed back to the chunk manager that
// does own it, without the freeing thread ever taking that manager's
// lock.
//
// Expressed with Go's atomic.Pointer rather than hand-rolled CAS loops
// over unsafe.Pointer — the idiomatic Go 1.19+ replacement for the
// kind of lock-free linked structure runtime/internal/atomic builds
// mheap.go/mcache.go's own queues out of.
package mpscq

import (
	"runtime"
	"sync/atomic"
)

// Node is embedded in anything enqueued on a Queue.
type Node[T any] struct {
	next atomic.Pointer[Node[T]]
	elem *T
}

// Queue is a lock-free MPSC queue. The zero value is ready to use.
// Insert may be called from any number of goroutines; DequeueAll must
// only ever be called from one logical consumer at a time (the owning
// local allocator's flush path).
type Queue[T any] struct {
	head atomic.Pointer[Node[T]]
	tail atomic.Pointer[Node[T]]
}

// Insert publishes elem (via its Node, obtained through nodeOf) onto
// the queue. Safe for concurrent use by any number of producers.
func (q *Queue[T]) Insert(elem *T, nodeOf func(*T) *Node[T]) {
	n := nodeOf(elem)
	n.elem = elem
	n.next.Store(nil)
	prev := q.tail.Swap(n)
	if prev == nil {
		q.head.Store(n)
		return
	}
	prev.next.Store(n)
}

// DequeueAll atomically detaches the entire current queue and returns
// its elements in insertion order. Must be called by a single consumer
// at a time; concurrent Insert calls are safe while this runs.
func (q *Queue[T]) DequeueAll() []*T {
	head := q.head.Swap(nil)
	if head == nil {
		return nil
	}
	tail := q.tail.Swap(nil)

	var out []*T
	n := head
	for {
		out = append(out, n.elem)
		if n == tail {
			break
		}
		next := n.next.Load()
		for next == nil {
			// A producer has claimed its slot (via tail.Swap) but has
			// not yet published its node's predecessor link. Spin
			// until it does; this is the one place the queue is not
			// wait-free, and it is bounded by however long the racing
			// producer takes to execute one store.
			runtime.Gosched()
			next = n.next.Load()
		}
		n = next
	}
	return out
}
