// Package audit re-checks a recorded run against the guarantees of the
// mutual exclusion protocol.
//
// It only looks at the journal: the sequence numbers assigned while the
// run was recorded give a single order in which every request, eat and
// leave happened, and the (timestamp, peer) of each request gives the
// order in which the protocol should have served them.
package audit

import (
	"fmt"
	"sort"

	"github.com/daviddao/philtable/pkg/clock"
	"github.com/daviddao/philtable/pkg/model"
)

// Check names one audited property.
type Check string

const (
	// CheckSafety fails when a peer eats while another is eating.
	CheckSafety Check = "safety"
	// CheckOrder fails when a later request is served before an earlier
	// one that was already known.
	CheckOrder Check = "order"
	// CheckRetirement fails when a request is served twice or an eat has
	// no request behind it.
	CheckRetirement Check = "retirement"
)

// Finding is one violation found in a journal.
type Finding struct {
	Check  Check        `json:"check"`
	Seq    int64        `json:"seq"`
	Peer   model.PeerID `json:"peer"`
	Other  model.PeerID `json:"other,omitempty"`
	Detail string       `json:"detail"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s at seq %d: %s", f.Check, f.Seq, f.Detail)
}

// Report summarizes an audit.
type Report struct {
	Safe       bool                 `json:"safe"`
	Ordered    bool                 `json:"ordered"`
	Requests   int                  `json:"requests"`
	Meals      map[model.PeerID]int `json:"meals"`
	Violations []Finding            `json:"violations,omitempty"`
}

// OK reports whether the run passed every check.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

type request struct {
	entry  model.Entry
	seq    int64
	eatSeq int64
}

// Run audits events, which need not be sorted.
func Run(events []model.Event) *Report {
	sorted := append([]model.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	rep := &Report{Safe: true, Ordered: true, Meals: make(map[model.PeerID]int)}
	reqs := make(map[model.Entry]*request)
	var served []*request
	var eating model.PeerID

	for _, e := range sorted {
		key := model.Entry{Requester: e.PeerID, Timestamp: e.LamportTS}
		switch e.Kind {
		case model.EventRequest:
			rep.Requests++
			reqs[key] = &request{entry: key, seq: e.Seq}

		case model.EventEat:
			if eating != 0 && eating != e.PeerID {
				rep.Safe = false
				rep.add(Finding{
					Check: CheckSafety, Seq: e.Seq, Peer: e.PeerID, Other: eating,
					Detail: fmt.Sprintf("peer %d ate while peer %d was eating", e.PeerID, eating),
				})
			}
			eating = e.PeerID
			rep.Meals[e.PeerID]++

			r, ok := reqs[key]
			switch {
			case !ok:
				rep.add(Finding{
					Check: CheckRetirement, Seq: e.Seq, Peer: e.PeerID,
					Detail: fmt.Sprintf("peer %d ate for %v without requesting", e.PeerID, key),
				})
			case r.eatSeq != 0:
				rep.add(Finding{
					Check: CheckRetirement, Seq: e.Seq, Peer: e.PeerID,
					Detail: fmt.Sprintf("request %v served twice (seq %d and %d)", key, r.eatSeq, e.Seq),
				})
			default:
				r.eatSeq = e.Seq
				served = append(served, r)
			}

		case model.EventLeave:
			if eating == e.PeerID {
				eating = 0
			}
		}
	}

	rep.checkOrder(served)
	return rep
}

// checkOrder compares every pair of served requests: when a precedes b
// and a was issued before b was served, a must have been served first.
// served is in eat order.
func (rep *Report) checkOrder(served []*request) {
	for i, b := range served {
		for _, a := range served[i+1:] {
			if clock.TotalOrderLess(a.entry.Timestamp, a.entry.Requester, b.entry.Timestamp, b.entry.Requester) && a.seq < b.eatSeq {
				rep.Ordered = false
				rep.add(Finding{
					Check: CheckOrder, Seq: b.eatSeq, Peer: b.entry.Requester, Other: a.entry.Requester,
					Detail: fmt.Sprintf("request %v served before earlier request %v", b.entry, a.entry),
				})
			}
		}
	}
}

func (rep *Report) add(f Finding) {
	rep.Violations = append(rep.Violations, f)
}
