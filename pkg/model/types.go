// Package model defines the core domain types for philtable.
//
// philtable simulates N philosophers sharing one table. They never share
// memory: every coordination step is a message routed through a broker.
// Access to the table is granted with the Ricart-Agrawala protocol:
//
//   - Lamport clocks (1978) stamp every request. Ties are broken by peer
//     ID, giving every participant the same strict total order.
//
//   - A peer eats only after all N-1 other live peers answered its request
//     and its own request is the earliest entry in its local queue.
package model

import (
	"errors"
	"fmt"
	"time"
)

// PeerID identifies a philosopher. IDs are 1-based; 0 means "nobody".
type PeerID int32

// LogicalTime is a Lamport timestamp.
type LogicalTime int32

// ErrUnknownKind is returned for message kinds or wire tags outside the
// closed set below.
var ErrUnknownKind = errors.New("unknown message kind")

// Kind enumerates the messages peers exchange through the router.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindExit
	// KindDepart is synthesized by the router when a peer's channel
	// closes. Peers never send it.
	KindDepart
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindExit:
		return "exit"
	case KindDepart:
		return "depart"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindRequest && k <= KindDepart
}

// ParseKind maps a wire tag back to its Kind.
func ParseKind(tag string) (Kind, error) {
	switch tag {
	case "request":
		return KindRequest, nil
	case "response":
		return KindResponse, nil
	case "exit":
		return KindExit, nil
	case "depart":
		return KindDepart, nil
	}
	return KindInvalid, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
}

// Message is the record exchanged between peers. It is a value type and is
// never modified after it is sent.
//
// Sender is always the originating peer. Target is only meaningful for
// responses: it names the requester being answered.
type Message struct {
	Kind      Kind        `json:"kind"`
	Sender    PeerID      `json:"sender"`
	Target    PeerID      `json:"target,omitempty"`
	Timestamp LogicalTime `json:"timestamp"`
}

func (m Message) String() string {
	if m.Kind == KindResponse {
		return fmt.Sprintf("%s(%d->%d @%d)", m.Kind, m.Sender, m.Target, m.Timestamp)
	}
	return fmt.Sprintf("%s(%d @%d)", m.Kind, m.Sender, m.Timestamp)
}

// Entry is an outstanding request held in a peer's queue.
type Entry struct {
	Requester PeerID      `json:"requester"`
	Timestamp LogicalTime `json:"timestamp"`
}

func (e Entry) String() string {
	return fmt.Sprintf("(%d,%d)", e.Timestamp, e.Requester)
}

// Phase is where a peer is in its Idle -> Requesting -> Eating cycle.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRequesting
	// PhaseEating is the critical section: the peer holds the table.
	PhaseEating
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequesting:
		return "requesting"
	case PhaseEating:
		return "eating"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// PeerState is a point-in-time copy of a peer's protocol state.
type PeerState struct {
	ID      PeerID      `json:"id"`
	Clock   LogicalTime `json:"clock"`
	Phase   Phase       `json:"phase"`
	Own     *Entry      `json:"own,omitempty"`
	Pending []PeerID    `json:"pending,omitempty"`
	Queue   []Entry     `json:"queue"`
}

// EventKind enumerates the entries of a run journal.
type EventKind string

const (
	EventRequest EventKind = "request"
	EventEat     EventKind = "eat"
	EventLeave   EventKind = "leave"
	EventDepart  EventKind = "depart"
	EventDrop    EventKind = "drop"
)

// Event is a single journal entry. Seq is a run-wide sequence assigned when
// the event is recorded; it respects causality between peers because every
// cross-peer effect travels through a message sent after the record.
//
// For request, eat and leave events LamportTS is the timestamp of the
// request concerned.
type Event struct {
	RunID       int64       `json:"run_id,omitempty"`
	Seq         int64       `json:"seq"`
	PeerID      PeerID      `json:"peer_id"`
	LamportTS   LogicalTime `json:"lamport_ts"`
	Kind        EventKind   `json:"kind"`
	Counterpart PeerID      `json:"counterpart,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Run describes one recorded simulation.
type Run struct {
	ID         int64     `json:"id"`
	Peers      int       `json:"peers"`
	Transport  string    `json:"transport"`
	Seed       int64     `json:"seed"`
	Meals      int       `json:"meals"`
	Violations int       `json:"violations"`
	Started    time.Time `json:"started_at"`
	Finished   time.Time `json:"finished_at,omitempty"`
}
