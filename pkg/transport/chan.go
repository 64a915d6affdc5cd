package transport

import (
	"context"

	"github.com/daviddao/philtable/pkg/model"
)

// NewChanLink connects peer id to the router with Go channels.
func NewChanLink(id model.PeerID) *Link {
	up := make(chan model.Message)
	box := NewMailbox()
	return &Link{
		ID:     id,
		Peer:   &chanPeer{up: up, box: box},
		Router: &chanRouter{up: up, box: box},
	}
}

type chanPeer struct {
	up     chan model.Message
	box    *Mailbox
	closed bool
}

func (p *chanPeer) Send(ctx context.Context, m model.Message) error {
	if p.closed {
		return ErrClosed
	}
	select {
	case p.up <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chanPeer) Inbox() <-chan model.Message { return p.box.Out() }

func (p *chanPeer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.up)
	return nil
}

type chanRouter struct {
	up     chan model.Message
	box    *Mailbox
	closed bool
}

func (r *chanRouter) Upstream() <-chan model.Message { return r.up }

func (r *chanRouter) Deliver(m model.Message) {
	if r.closed {
		return
	}
	r.box.Put(m)
}

func (r *chanRouter) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.box.Close()
	return nil
}
