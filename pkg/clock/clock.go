// Package clock implements the Lamport logical clock each philosopher owns.
//
// Two rules from Lamport (1978) govern it:
//
//	IR1 (local event): before sending a request or an exit, increment.
//	IR2 (receipt):     on receiving a message stamped t, set the clock to
//	                   max(own, t) + 1.
//
// TotalOrderLess breaks timestamp ties by peer ID so that every peer sorts
// competing requests identically.
//
// Clock is not goroutine-safe: each peer runner owns exactly one and only
// touches it from its own goroutine.
package clock

import "github.com/daviddao/philtable/pkg/model"

// Clock is a Lamport logical clock. The zero value starts at 0.
type Clock struct {
	ts model.LogicalTime
}

// Tick implements IR1. Returns the new timestamp.
func (c *Clock) Tick() model.LogicalTime {
	c.ts++
	return c.ts
}

// Receive implements IR2: set the clock to max(own, received) + 1.
// Returns the new timestamp.
func (c *Clock) Receive(received model.LogicalTime) model.LogicalTime {
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() model.LogicalTime { return c.ts }

// Set seeds the clock with a specific value.
func (c *Clock) Set(v model.LogicalTime) { c.ts = v }

// TotalOrderLess reports whether the event (tsA, peerA) precedes
// (tsB, peerB):
//
//	tsA < tsB, or
//	tsA == tsB and peerA < peerB
func TotalOrderLess(tsA model.LogicalTime, peerA model.PeerID, tsB model.LogicalTime, peerB model.PeerID) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return peerA < peerB
}
