// Package queue holds a peer's outstanding table requests, its own and
// those of every other philosopher, ordered by (timestamp, requester).
//
// The queue is a binary heap indexed by requester, so Insert and
// RemoveByRequester are O(log n) and Front is O(1). A requester never has
// more than one entry: admitting a new timestamp replaces the old one.
//
// Queue is not goroutine-safe; it belongs to a single peer.
package queue

import (
	"container/heap"
	"sort"

	"github.com/daviddao/philtable/pkg/clock"
	"github.com/daviddao/philtable/pkg/model"
)

// Queue is an ordered set of request entries keyed by requester.
type Queue struct {
	h     entryHeap
	index map[model.PeerID]*item
}

type item struct {
	entry model.Entry
	pos   int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{index: make(map[model.PeerID]*item)}
}

// Insert admits e. An identical entry is a no-op; an entry for the same
// requester with a different timestamp is replaced.
func (q *Queue) Insert(e model.Entry) {
	if it, ok := q.index[e.Requester]; ok {
		if it.entry == e {
			return
		}
		it.entry = e
		heap.Fix(&q.h, it.pos)
		return
	}
	it := &item{entry: e}
	heap.Push(&q.h, it)
	q.index[e.Requester] = it
}

// RemoveByRequester deletes the entry belonging to id, if any.
func (q *Queue) RemoveByRequester(id model.PeerID) {
	it, ok := q.index[id]
	if !ok {
		return
	}
	heap.Remove(&q.h, it.pos)
	delete(q.index, id)
}

// Front returns the minimum entry, or false if the queue is empty.
func (q *Queue) Front() (model.Entry, bool) {
	if len(q.h) == 0 {
		return model.Entry{}, false
	}
	return q.h[0].entry, true
}

// IsFront reports whether e is the current minimum entry.
func (q *Queue) IsFront(e model.Entry) bool {
	f, ok := q.Front()
	return ok && f == e
}

// Get returns the entry held for requester id.
func (q *Queue) Get(id model.PeerID) (model.Entry, bool) {
	it, ok := q.index[id]
	if !ok {
		return model.Entry{}, false
	}
	return it.entry, true
}

// Len returns the number of entries.
func (q *Queue) Len() int { return len(q.h) }

// Entries returns the entries in ascending order.
func (q *Queue) Entries() []model.Entry {
	out := make([]model.Entry, len(q.h))
	for i, it := range q.h {
		out[i] = it.entry
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

// entryHeap implements heap.Interface, keeping each item's position current
// so the index can remove or fix it in place.
type entryHeap []*item

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return before(h[i].entry, h[j].entry) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *entryHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func before(a, b model.Entry) bool {
	return clock.TotalOrderLess(a.Timestamp, a.Requester, b.Timestamp, b.Requester)
}
