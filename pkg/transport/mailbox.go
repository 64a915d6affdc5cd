package transport

import "github.com/daviddao/philtable/pkg/model"

// Mailbox is an unbounded FIFO in front of a peer's inbound channel. The
// router puts into it without ever blocking on a slow reader, which keeps
// one peer that is busy eating from stalling the whole broker.
type Mailbox struct {
	in  chan model.Message
	out chan model.Message
}

// NewMailbox creates a Mailbox and starts its pump goroutine.
func NewMailbox() *Mailbox {
	b := &Mailbox{
		in:  make(chan model.Message),
		out: make(chan model.Message),
	}
	go b.run()
	return b
}

// Put enqueues m. Must not be called after Close.
func (b *Mailbox) Put(m model.Message) { b.in <- m }

// Out returns the channel the owner reads from. It is closed after Close,
// discarding anything still buffered.
func (b *Mailbox) Out() <-chan model.Message { return b.out }

// Close stops the mailbox.
func (b *Mailbox) Close() { close(b.in) }

func (b *Mailbox) run() {
	defer close(b.out)
	var buf []model.Message
	for {
		if len(buf) == 0 {
			m, ok := <-b.in
			if !ok {
				return
			}
			buf = append(buf, m)
			continue
		}
		select {
		case m, ok := <-b.in:
			if !ok {
				return
			}
			buf = append(buf, m)
		case b.out <- buf[0]:
			buf = buf[1:]
		}
	}
}
