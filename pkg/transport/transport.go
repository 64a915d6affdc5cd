// Package transport provides the point-to-point channels between each
// philosopher and the router.
//
// Every peer gets one Link: an upstream direction (peer to router) and a
// downstream direction (router to peer). Both directions are FIFO and have
// exactly one producer and one consumer. Closing the upstream is how a
// peer leaves; the router answers by closing the downstream.
//
// Two implementations exist. "chan" uses typed Go channels. "pipe" uses a
// pair of OS pipes carrying fixed-size wire records, mirroring the duplex
// pipe pairing of a fork-based simulation.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/philtable/pkg/model"
)

// ErrClosed is returned by Send after the peer closed its upstream.
var ErrClosed = errors.New("link closed")

// Kind selects a transport implementation.
type Kind string

const (
	KindChan Kind = "chan"
	KindPipe Kind = "pipe"
)

// ParseKind validates a transport name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindChan, KindPipe:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown transport %q (want %q or %q)", s, KindChan, KindPipe)
}

// PeerEnd is the philosopher's side of a link.
type PeerEnd interface {
	// Send hands m to the router. It fails with ErrClosed after Close.
	Send(ctx context.Context, m model.Message) error
	// Inbox yields messages routed to this peer. It is closed once the
	// router has dropped the peer.
	Inbox() <-chan model.Message
	// Close ends the upstream direction. The peer must keep draining
	// Inbox until it is closed.
	Close() error
}

// RouterEnd is the router's side of a link.
type RouterEnd interface {
	// Upstream yields messages sent by the peer, in order. It is closed
	// when the peer leaves.
	Upstream() <-chan model.Message
	// Deliver queues m for the peer. It never blocks on the peer.
	Deliver(m model.Message)
	// Close ends the downstream direction.
	Close() error
}

// Link is the pair of ends connecting one peer to the router.
type Link struct {
	ID     model.PeerID
	Peer   PeerEnd
	Router RouterEnd
}

// New builds a link of the given kind for peer id.
func New(kind Kind, id model.PeerID, log *logrus.Entry) (*Link, error) {
	switch kind {
	case KindChan:
		return NewChanLink(id), nil
	case KindPipe:
		return NewPipeLink(id, log)
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}
