package queue

import (
	"math/rand"
	"testing"

	"github.com/daviddao/philtable/pkg/model"
)

func entry(id model.PeerID, ts model.LogicalTime) model.Entry {
	return model.Entry{Requester: id, Timestamp: ts}
}

func TestEmptyQueue(t *testing.T) {
	q := New()
	if _, ok := q.Front(); ok {
		t.Fatal("Front on empty queue should return false")
	}
	if q.IsFront(entry(1, 1)) {
		t.Fatal("IsFront on empty queue should be false")
	}
	if q.Len() != 0 {
		t.Fatalf("Len: got %d, want 0", q.Len())
	}
	// Removing from an empty queue must not panic.
	q.RemoveByRequester(7)
}

func TestInsert_OrdersByTimestamp(t *testing.T) {
	q := New()
	q.Insert(entry(3, 603))
	q.Insert(entry(1, 201))
	q.Insert(entry(2, 402))

	want := []model.Entry{entry(1, 201), entry(2, 402), entry(3, 603)}
	got := q.Entries()
	if len(got) != len(want) {
		t.Fatalf("Entries: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Entries[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
	if !q.IsFront(entry(1, 201)) {
		t.Fatalf("front should be peer 1, got %v", got[0])
	}
}

func TestInsert_TieBreakByRequester(t *testing.T) {
	q := New()
	q.Insert(entry(3, 10))
	q.Insert(entry(2, 10))
	f, ok := q.Front()
	if !ok || f.Requester != 2 {
		t.Fatalf("front: got %v, want requester 2", f)
	}
}

func TestInsert_Idempotent(t *testing.T) {
	q := New()
	q.Insert(entry(1, 5))
	q.Insert(entry(1, 5))
	if q.Len() != 1 {
		t.Fatalf("Len after duplicate insert: got %d, want 1", q.Len())
	}
}

func TestInsert_ReplacesPriorEntryForRequester(t *testing.T) {
	q := New()
	q.Insert(entry(1, 5))
	q.Insert(entry(2, 7))
	q.Insert(entry(1, 9))

	if q.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", q.Len())
	}
	got, ok := q.Get(1)
	if !ok || got.Timestamp != 9 {
		t.Fatalf("Get(1): got %v ok=%v, want ts 9", got, ok)
	}
	if !q.IsFront(entry(2, 7)) {
		t.Fatal("peer 2 should now be front")
	}
}

func TestRemoveByRequester(t *testing.T) {
	q := New()
	q.Insert(entry(1, 1))
	q.Insert(entry(2, 2))
	q.Insert(entry(3, 3))

	q.RemoveByRequester(1)
	if !q.IsFront(entry(2, 2)) {
		t.Fatal("after removing 1, front should be 2")
	}
	q.RemoveByRequester(3)
	q.RemoveByRequester(3) // no-op
	if q.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", q.Len())
	}
	if _, ok := q.Get(3); ok {
		t.Fatal("Get(3) should miss after removal")
	}
}

func TestRetirementNeverReturnsRemovedRequester(t *testing.T) {
	q := New()
	q.Insert(entry(1, 1))
	q.Insert(entry(2, 2))
	q.RemoveByRequester(1)
	for i := 0; i < 3; i++ {
		if f, _ := q.Front(); f.Requester == 1 {
			t.Fatal("front returned retired requester")
		}
	}
	q.Insert(entry(1, 10))
	if f, _ := q.Front(); f.Requester != 2 {
		t.Fatalf("front: got %v, want requester 2", f)
	}
}

func TestRandomizedAgainstSortedSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := New()
	ref := map[model.PeerID]model.LogicalTime{}

	for step := 0; step < 2000; step++ {
		id := model.PeerID(rng.Intn(12) + 1)
		if rng.Intn(3) == 0 {
			q.RemoveByRequester(id)
			delete(ref, id)
		} else {
			ts := model.LogicalTime(rng.Intn(50))
			q.Insert(entry(id, ts))
			ref[id] = ts
		}

		if q.Len() != len(ref) {
			t.Fatalf("step %d: Len %d, want %d", step, q.Len(), len(ref))
		}
		var lowest *model.Entry
		for id, ts := range ref {
			e := entry(id, ts)
			if lowest == nil || before(e, *lowest) {
				lowest = &e
			}
		}
		f, ok := q.Front()
		if lowest == nil {
			if ok {
				t.Fatalf("step %d: Front returned %v on empty", step, f)
			}
			continue
		}
		if !ok || f != *lowest {
			t.Fatalf("step %d: Front %v, want %v", step, f, *lowest)
		}
	}
}
