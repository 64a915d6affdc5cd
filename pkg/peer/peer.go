// Package peer implements a philosopher: the Ricart-Agrawala state
// machine, the runner that drives it from its link, and the generator that
// decides when it gets hungry.
//
// Peer itself is a synchronous state machine with no goroutines and no
// I/O. Every transition returns the messages it wants sent, which keeps
// the protocol deterministic under test and leaves scheduling to Runner.
package peer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/daviddao/philtable/pkg/clock"
	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/queue"
)

var (
	// ErrNotIdle is returned by Request while a request is outstanding.
	ErrNotIdle = errors.New("peer is not idle")
	// ErrNotEating is returned by Exit outside the critical section.
	ErrNotEating = errors.New("peer is not eating")
	// ErrFromSelf is returned by Handle for a message the peer sent itself.
	ErrFromSelf = errors.New("message from self")
)

// Peer is one philosopher's protocol state. Not goroutine-safe.
type Peer struct {
	id      model.PeerID
	clock   clock.Clock
	phase   model.Phase
	others  map[model.PeerID]struct{}
	pending map[model.PeerID]struct{}
	queue   *queue.Queue
}

// New returns an idle peer that shares the table with others.
func New(id model.PeerID, others []model.PeerID) *Peer {
	p := &Peer{
		id:      id,
		others:  make(map[model.PeerID]struct{}, len(others)),
		pending: make(map[model.PeerID]struct{}),
		queue:   queue.New(),
	}
	for _, o := range others {
		if o != id {
			p.others[o] = struct{}{}
		}
	}
	return p
}

// ID returns the peer's identifier.
func (p *Peer) ID() model.PeerID { return p.id }

// Phase returns the current phase.
func (p *Peer) Phase() model.Phase { return p.phase }

// Clock returns the current Lamport time.
func (p *Peer) Clock() model.LogicalTime { return p.clock.Value() }

// Seed sets the clock, e.g. to stage deterministic timestamps.
func (p *Peer) Seed(t model.LogicalTime) { p.clock.Set(t) }

// Own returns the peer's outstanding request, if any.
func (p *Peer) Own() (model.Entry, bool) {
	return p.queue.Get(p.id)
}

// Request moves Idle -> Requesting and returns the Request to broadcast.
func (p *Peer) Request() (model.Message, error) {
	if p.phase != model.PhaseIdle {
		return model.Message{}, fmt.Errorf("request from %s: %w", p.phase, ErrNotIdle)
	}
	ts := p.clock.Tick()
	p.queue.Insert(model.Entry{Requester: p.id, Timestamp: ts})
	p.pending = make(map[model.PeerID]struct{}, len(p.others))
	for o := range p.others {
		p.pending[o] = struct{}{}
	}
	p.phase = model.PhaseRequesting
	return model.Message{Kind: model.KindRequest, Sender: p.id, Timestamp: ts}, nil
}

// Handle applies a routed message and returns any replies.
//
// A Request is always answered, whatever the phase: priority between
// competing requests is decided by queue order, never by withholding the
// response.
func (p *Peer) Handle(m model.Message) ([]model.Message, error) {
	if m.Sender == p.id {
		return nil, fmt.Errorf("peer %d: %w: %v", p.id, ErrFromSelf, m)
	}
	switch m.Kind {
	case model.KindRequest:
		ts := p.clock.Receive(m.Timestamp)
		p.queue.Insert(model.Entry{Requester: m.Sender, Timestamp: m.Timestamp})
		return []model.Message{{
			Kind:      model.KindResponse,
			Sender:    p.id,
			Target:    m.Sender,
			Timestamp: ts,
		}}, nil

	case model.KindResponse:
		p.clock.Receive(m.Timestamp)
		if p.phase == model.PhaseRequesting {
			delete(p.pending, m.Sender)
		}
		return nil, nil

	case model.KindExit:
		p.clock.Receive(m.Timestamp)
		p.queue.RemoveByRequester(m.Sender)
		return nil, nil

	case model.KindDepart:
		p.clock.Receive(m.Timestamp)
		delete(p.others, m.Sender)
		delete(p.pending, m.Sender)
		p.queue.RemoveByRequester(m.Sender)
		return nil, nil
	}
	return nil, fmt.Errorf("peer %d: %w: %v", p.id, model.ErrUnknownKind, m.Kind)
}

// CanEnter reports whether the peer may take the table: it is requesting,
// every other live peer has answered, and its own request heads the queue.
func (p *Peer) CanEnter() bool {
	if p.phase != model.PhaseRequesting || len(p.pending) != 0 {
		return false
	}
	own, ok := p.queue.Get(p.id)
	return ok && p.queue.IsFront(own)
}

// Enter moves Requesting -> Eating if CanEnter. Reports whether it did.
func (p *Peer) Enter() bool {
	if !p.CanEnter() {
		return false
	}
	p.phase = model.PhaseEating
	return true
}

// Exit moves Eating -> Idle and returns the Exit to broadcast.
func (p *Peer) Exit() (model.Message, error) {
	if p.phase != model.PhaseEating {
		return model.Message{}, fmt.Errorf("exit from %s: %w", p.phase, ErrNotEating)
	}
	ts := p.clock.Tick()
	p.queue.RemoveByRequester(p.id)
	p.pending = make(map[model.PeerID]struct{})
	p.phase = model.PhaseIdle
	return model.Message{Kind: model.KindExit, Sender: p.id, Timestamp: ts}, nil
}

// Live returns how many other peers are still at the table.
func (p *Peer) Live() int { return len(p.others) }

// Snapshot copies the peer's state.
func (p *Peer) Snapshot() model.PeerState {
	s := model.PeerState{
		ID:    p.id,
		Clock: p.clock.Value(),
		Phase: p.phase,
		Queue: p.queue.Entries(),
	}
	if own, ok := p.queue.Get(p.id); ok {
		s.Own = &own
	}
	for id := range p.pending {
		s.Pending = append(s.Pending, id)
	}
	sort.Slice(s.Pending, func(i, j int) bool { return s.Pending[i] < s.Pending[j] })
	return s
}
