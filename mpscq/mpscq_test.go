package mpscq

import (
	"sort"
	"sync"
	"testing"
)

type entry struct {
	v    int
	node Node[entry]
}

func nodeOf(e *entry) *Node[entry] { return &e.node }

func TestInsertDequeueOrder(t *testing.T) {
	var q Queue[entry]
	items := []*entry{{v: 1}, {v: 2}, {v: 3}}
	for _, it := range items {
		q.Insert(it, nodeOf)
	}
	got := q.DequeueAll()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.v != i+1 {
			t.Fatalf("got[%d] = %d, want %d", i, e.v, i+1)
		}
	}
	if more := q.DequeueAll(); more != nil {
		t.Fatalf("expected empty dequeue, got %v", more)
	}
}

func TestConcurrentProducers(t *testing.T) {
	var q Queue[entry]
	const producers = 16
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Insert(&entry{v: p*perProducer + i}, nodeOf)
			}
		}(p)
	}
	wg.Wait()

	got := q.DequeueAll()
	if len(got) != producers*perProducer {
		t.Fatalf("len = %d, want %d", len(got), producers*perProducer)
	}
	vals := make([]int, len(got))
	for i, e := range got {
		vals[i] = e.v
	}
	sort.Ints(vals)
	for i, v := range vals {
		if v != i {
			t.Fatalf("missing value %d in dequeued set", i)
		}
	}
}
