// Package router implements the broker that stands in for a broadcast
// medium: every peer sends all of its messages to the router, which fans
// requests and exits out to the other peers and unicasts each response to
// the requester it answers.
//
// The router owns the topology table. It is built once from the links it
// is given and only ever shrinks, when a peer's upstream closes.
package router

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/transport"
)

// Stats counts what the router did, keyed by message kind name.
type Stats struct {
	Received  map[string]int `json:"received"`
	Forwarded map[string]int `json:"forwarded"`
	Dropped   map[string]int `json:"dropped"`
	Departed  []model.PeerID `json:"departed"`
}

func newStats() Stats {
	return Stats{
		Received:  make(map[string]int),
		Forwarded: make(map[string]int),
		Dropped:   make(map[string]int),
	}
}

func (s Stats) clone() Stats {
	c := newStats()
	for k, v := range s.Received {
		c.Received[k] = v
	}
	for k, v := range s.Forwarded {
		c.Forwarded[k] = v
	}
	for k, v := range s.Dropped {
		c.Dropped[k] = v
	}
	c.Departed = append([]model.PeerID(nil), s.Departed...)
	return c
}

// envelope is one upstream event tagged with the channel it came from.
type envelope struct {
	source model.PeerID
	msg    model.Message
	closed bool
}

// Router forwards messages between peers.
type Router struct {
	routes map[model.PeerID]transport.RouterEnd
	log    *logrus.Entry

	mu    sync.Mutex
	stats Stats
}

// New builds a router over the router ends of links.
func New(links []*transport.Link, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Router{
		routes: make(map[model.PeerID]transport.RouterEnd, len(links)),
		log:    log.WithField("component", "router"),
		stats:  newStats(),
	}
	for _, l := range links {
		r.routes[l.ID] = l.Router
	}
	return r
}

// Stats returns a copy of the router's counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.clone()
}

// Run forwards messages until every peer has left or ctx ends. Either way
// every remaining downstream is closed before it returns.
func (r *Router) Run(ctx context.Context) error {
	inbound := make(chan envelope)
	for id, end := range r.routes {
		go fanIn(ctx, id, end.Upstream(), inbound)
	}
	defer r.closeAll()

	r.log.WithField("peers", r.peerIDs()).Info("routing")
	for len(r.routes) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-inbound:
			if env.closed {
				r.depart(env.source)
				continue
			}
			r.route(env.source, env.msg)
		}
	}
	r.log.Info("all peers left")
	return nil
}

// fanIn forwards one peer's upstream, preserving its order. After ctx ends
// it keeps draining so the peer's sends never block.
func fanIn(ctx context.Context, id model.PeerID, up <-chan model.Message, inbound chan<- envelope) {
	for m := range up {
		select {
		case inbound <- envelope{source: id, msg: m}:
		case <-ctx.Done():
		}
	}
	select {
	case inbound <- envelope{source: id, closed: true}:
	case <-ctx.Done():
	}
}

func (r *Router) route(source model.PeerID, m model.Message) {
	kind := m.Kind.String()
	log := r.log.WithFields(logrus.Fields{"source": source, "kind": kind, "ts": m.Timestamp})
	if !m.Kind.Valid() {
		kind = "invalid"
	}
	r.count(func(s *Stats) { s.Received[kind]++ })

	switch m.Kind {
	case model.KindRequest, model.KindExit:
		if m.Sender != source {
			log.WithField("sender", m.Sender).Warn("dropping message with spoofed sender")
			r.count(func(s *Stats) { s.Dropped[kind]++ })
			return
		}
		n := r.broadcast(source, m)
		log.WithField("fanout", n).Debug("broadcast")

	case model.KindResponse:
		if m.Sender != source {
			log.WithField("sender", m.Sender).Warn("dropping response with spoofed sender")
			r.count(func(s *Stats) { s.Dropped[kind]++ })
			return
		}
		end, ok := r.routes[m.Target]
		if !ok || m.Target == source {
			log.WithField("target", m.Target).Warn("dropping response to unknown peer")
			r.count(func(s *Stats) { s.Dropped[kind]++ })
			return
		}
		end.Deliver(m)
		r.count(func(s *Stats) { s.Forwarded[kind]++ })
		log.WithField("target", m.Target).Debug("unicast")

	case model.KindDepart:
		log.Warn("dropping depart sent by a peer")
		r.count(func(s *Stats) { s.Dropped[kind]++ })

	default:
		log.Warn("dropping malformed message")
		r.count(func(s *Stats) { s.Dropped[kind]++ })
	}
}

// broadcast delivers m to every live peer except source.
func (r *Router) broadcast(source model.PeerID, m model.Message) int {
	n := 0
	for id, end := range r.routes {
		if id == source {
			continue
		}
		end.Deliver(m)
		n++
	}
	kind := m.Kind.String()
	r.count(func(s *Stats) { s.Forwarded[kind] += n })
	return n
}

// depart removes id from the topology and tells the others, so they stop
// counting it toward their quorum.
func (r *Router) depart(id model.PeerID) {
	end, ok := r.routes[id]
	if !ok {
		return
	}
	delete(r.routes, id)
	if err := end.Close(); err != nil {
		r.log.WithError(err).WithField("peer", id).Warn("closing downstream")
	}
	r.count(func(s *Stats) { s.Departed = append(s.Departed, id) })
	r.log.WithFields(logrus.Fields{"peer": id, "remaining": len(r.routes)}).Info("peer left")
	r.broadcast(id, model.Message{Kind: model.KindDepart, Sender: id})
}

func (r *Router) closeAll() {
	for id, end := range r.routes {
		if err := end.Close(); err != nil {
			r.log.WithError(err).WithField("peer", id).Warn("closing downstream")
		}
		delete(r.routes, id)
	}
}

func (r *Router) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Router) peerIDs() []model.PeerID {
	ids := make([]model.PeerID, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
