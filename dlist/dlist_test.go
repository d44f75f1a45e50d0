package dlist

import "testing"

type item struct {
	val  int
	node Node[item]
}

func nodeOf(i *item) *Node[item] { return &i.node }

func TestPushFrontPopFrontOrder(t *testing.T) {
	var l List[item]
	l.Init()

	a := &item{val: 1}
	b := &item{val: 2}
	c := &item{val: 3}
	l.PushFront(a, nodeOf)
	l.PushFront(b, nodeOf)
	l.PushFront(c, nodeOf)

	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
	got := []int{}
	for e := l.PopFront(nodeOf); e != nil; e = l.PopFront(nodeOf) {
		got = append(got, e.val)
	}
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if !l.Empty() {
		t.Fatalf("expected empty list")
	}
}

func TestPushBackFIFO(t *testing.T) {
	var l List[item]
	l.Init()
	for i := 1; i <= 3; i++ {
		l.PushBack(&item{val: i}, nodeOf)
	}
	var got []int
	l.Each(func(e *item) bool { got = append(got, e.val); return true })
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestRemoveReportsSole(t *testing.T) {
	var l List[item]
	l.Init()
	a := &item{val: 42}
	l.PushFront(a, nodeOf)
	if wasSole := l.Remove(a, nodeOf); !wasSole {
		t.Fatalf("expected Remove to report sole element")
	}
	if !l.Empty() {
		t.Fatalf("expected empty after removing sole element")
	}
}

func TestRemoveMiddle(t *testing.T) {
	var l List[item]
	l.Init()
	a, b, c := &item{val: 1}, &item{val: 2}, &item{val: 3}
	l.PushBack(a, nodeOf)
	l.PushBack(b, nodeOf)
	l.PushBack(c, nodeOf)

	if wasSole := l.Remove(b, nodeOf); wasSole {
		t.Fatalf("Remove(b) should not report sole")
	}
	var got []int
	l.Each(func(e *item) bool { got = append(got, e.val); return true })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("got %v, want [1 3]", got)
	}
}

func TestEachAllowsRemovingCurrent(t *testing.T) {
	var l List[item]
	l.Init()
	items := make([]*item, 5)
	for i := range items {
		items[i] = &item{val: i}
		l.PushBack(items[i], nodeOf)
	}
	l.Each(func(e *item) bool {
		if e.val%2 == 0 {
			l.Remove(e, nodeOf)
		}
		return true
	})
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	var got []int
	l.Each(func(e *item) bool { got = append(got, e.val); return true })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("got %v, want [1 3]", got)
	}
}
