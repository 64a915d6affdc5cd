package peer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/table"
	"github.com/daviddao/philtable/pkg/transport"
)

// Observer receives journal events from a runner. Implementations must be
// safe for concurrent use by several runners.
type Observer interface {
	Record(e model.Event)
}

type nopObserver struct{}

func (nopObserver) Record(model.Event) {}

// Options configures a Runner.
type Options struct {
	Generator *Generator
	Table     *table.Table
	Observer  Observer
	Log       *logrus.Entry
	// Eat is how long the peer holds the table.
	Eat time.Duration
	// Meals is how many times the peer eats before leaving; 0 means
	// never leave on its own.
	Meals int
}

// Runner drives a Peer from its link: one goroutine, no shared state.
type Runner struct {
	peer  *Peer
	link  transport.PeerEnd
	gen   *Generator
	table *table.Table
	obs   Observer
	log   *logrus.Entry
	eat   time.Duration
	meals int
	eaten int
}

// NewRunner wires p to link.
func NewRunner(p *Peer, link transport.PeerEnd, opts Options) *Runner {
	r := &Runner{
		peer:  p,
		link:  link,
		gen:   opts.Generator,
		table: opts.Table,
		obs:   opts.Observer,
		log:   opts.Log,
		eat:   opts.Eat,
		meals: opts.Meals,
	}
	if r.gen == nil {
		r.gen = NewGenerator(int64(p.ID()), 1, 0, 0)
	}
	if r.table == nil {
		r.table = table.New()
	}
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	if r.log == nil {
		r.log = logrus.NewEntry(logrus.StandardLogger())
	}
	r.log = r.log.WithField("peer", p.ID())
	return r
}

// Run serves the peer until it has eaten its meals, the router drops it,
// or ctx ends. On return the peer has left: its upstream is closed and
// its inbox drained.
func (r *Runner) Run(ctx context.Context) error {
	defer r.leave()

	think := time.NewTimer(r.gen.Think())
	defer think.Stop()
	thinking := true

	for {
		if r.peer.Phase() == model.PhaseIdle {
			if r.meals > 0 && r.eaten >= r.meals {
				r.log.WithField("meals", r.eaten).Info("full, leaving the table")
				return nil
			}
			if !thinking {
				think.Reset(r.gen.Think())
				thinking = true
			}
		}
		// Only an idle peer thinks; a waiting one blocks on its inbox.
		var thinkC <-chan time.Time
		if thinking {
			thinkC = think.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-r.link.Inbox():
			if !ok {
				r.log.Debug("router closed inbox")
				return nil
			}
			if err := r.handle(ctx, m); err != nil {
				return err
			}
		case <-thinkC:
			thinking = false
			if r.gen.Hungry() {
				if err := r.request(ctx); err != nil {
					return err
				}
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, m model.Message) error {
	log := r.log.WithFields(logrus.Fields{"kind": m.Kind.String(), "from": m.Sender, "ts": m.Timestamp})
	out, err := r.peer.Handle(m)
	if err != nil {
		log.WithError(err).Warn("dropping message")
		r.record(model.EventDrop, 0, m.Sender)
		return nil
	}
	log.WithField("clock", r.peer.Clock()).Debug("received")
	if m.Kind == model.KindDepart {
		log.WithField("live", r.peer.Live()).Info("peer departed")
	}
	for _, o := range out {
		if err := r.link.Send(ctx, o); err != nil {
			return err
		}
	}
	return r.tryEat(ctx)
}

func (r *Runner) request(ctx context.Context) error {
	msg, err := r.peer.Request()
	if err != nil {
		r.log.WithError(err).Debug("not requesting")
		return nil
	}
	r.log.WithField("ts", msg.Timestamp).Info("hungry, requesting the table")
	r.record(model.EventRequest, msg.Timestamp, 0)
	if err := r.link.Send(ctx, msg); err != nil {
		return err
	}
	return r.tryEat(ctx)
}

// tryEat enters the critical section if the protocol allows it, holds it
// for the eat duration without handling messages, then exits.
func (r *Runner) tryEat(ctx context.Context) error {
	if !r.peer.Enter() {
		return nil
	}
	own, _ := r.peer.Own()
	log := r.log.WithField("ts", own.Timestamp)

	if err := r.table.Sit(r.peer.ID()); err != nil {
		log.WithError(err).Error("mutual exclusion violated")
	}
	r.record(model.EventEat, own.Timestamp, 0)
	log.Info("eating")

	var cancelled error
	if r.eat > 0 {
		t := time.NewTimer(r.eat)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			cancelled = ctx.Err()
		}
	}

	r.record(model.EventLeave, own.Timestamp, 0)
	if err := r.table.Leave(r.peer.ID()); err != nil && !errors.Is(err, table.ErrNotSeated) {
		log.WithError(err).Error("leaving table")
	}
	r.eaten++
	msg, err := r.peer.Exit()
	if err != nil {
		return err
	}
	log.WithField("exit_ts", msg.Timestamp).Info("done eating")
	if err := r.link.Send(ctx, msg); err != nil {
		return err
	}
	return cancelled
}

func (r *Runner) leave() {
	if err := r.link.Close(); err != nil {
		r.log.WithError(err).Warn("closing link")
	}
	r.record(model.EventDepart, r.peer.Clock(), 0)
	for range r.link.Inbox() {
	}
}

func (r *Runner) record(kind model.EventKind, ts model.LogicalTime, other model.PeerID) {
	r.obs.Record(model.Event{
		PeerID:      r.peer.ID(),
		LamportTS:   ts,
		Kind:        kind,
		Counterpart: other,
		CreatedAt:   time.Now().UTC(),
	})
}
