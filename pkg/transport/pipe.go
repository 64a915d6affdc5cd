package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/wire"
)

// NewPipeLink connects peer id to the router with two OS pipes, one per
// direction. Records that fail to decode are logged and dropped.
func NewPipeLink(id model.PeerID, log *logrus.Entry) (*Link, error) {
	upR, upW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("peer %d: upstream pipe: %w", id, err)
	}
	downR, downW, err := os.Pipe()
	if err != nil {
		upR.Close()
		upW.Close()
		return nil, fmt.Errorf("peer %d: downstream pipe: %w", id, err)
	}
	log = log.WithField("peer", id)

	p := &pipePeer{
		w:     wire.NewWriter(upW),
		upW:   upW,
		inbox: make(chan model.Message),
	}
	go readPipe(downR, p.inbox, log.WithField("dir", "down"), func(r wire.Record) (model.Message, error) {
		return wire.FromDownstream(r, id)
	})

	r := &pipeRouter{
		up:  make(chan model.Message),
		box: NewMailbox(),
	}
	go readPipe(upR, r.up, log.WithField("dir", "up"), func(rec wire.Record) (model.Message, error) {
		return wire.FromUpstream(rec, id)
	})
	go writePipe(downW, r.box.Out(), log.WithField("dir", "down"))

	return &Link{ID: id, Peer: p, Router: r}, nil
}

// readPipe decodes records from f into out until end of stream, then
// closes both.
func readPipe(f *os.File, out chan<- model.Message, log *logrus.Entry, decode func(wire.Record) (model.Message, error)) {
	defer close(out)
	defer f.Close()
	rd := wire.NewReader(f)
	for {
		rec, err := rd.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.WithError(err).Warn("pipe read failed")
			}
			return
		}
		m, err := decode(rec)
		if err != nil {
			log.WithError(err).WithField("tag", rec.TagString()).Warn("dropping malformed record")
			continue
		}
		out <- m
	}
}

// writePipe encodes everything from in onto f, closing f once in is
// closed.
func writePipe(f *os.File, in <-chan model.Message, log *logrus.Entry) {
	defer f.Close()
	w := wire.NewWriter(f)
	for m := range in {
		if err := w.Write(wire.Downstream(m)); err != nil {
			log.WithError(err).WithField("msg", m.String()).Warn("pipe write failed")
		}
	}
}

type pipePeer struct {
	w      *wire.Writer
	upW    *os.File
	inbox  chan model.Message
	closed bool
}

func (p *pipePeer) Send(ctx context.Context, m model.Message) error {
	if p.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.w.Write(wire.Upstream(m))
}

func (p *pipePeer) Inbox() <-chan model.Message { return p.inbox }

func (p *pipePeer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.upW.Close()
}

type pipeRouter struct {
	up     chan model.Message
	box    *Mailbox
	closed bool
}

func (r *pipeRouter) Upstream() <-chan model.Message { return r.up }

func (r *pipeRouter) Deliver(m model.Message) {
	if r.closed {
		return
	}
	r.box.Put(m)
}

func (r *pipeRouter) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.box.Close()
	return nil
}
