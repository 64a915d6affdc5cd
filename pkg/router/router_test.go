package router

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/transport"
)

type harness struct {
	t      *testing.T
	links  map[model.PeerID]*transport.Link
	router *Router
	hook   *test.Hook
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{t: t, links: map[model.PeerID]*transport.Link{}, hook: hook, done: make(chan error, 1)}
	var links []*transport.Link
	for i := 1; i <= n; i++ {
		l := transport.NewChanLink(model.PeerID(i))
		h.links[l.ID] = l
		links = append(links, l)
	}
	h.router = New(links, logrus.NewEntry(logger))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.router.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		for _, l := range h.links {
			l.Peer.Close()
		}
		<-h.done
	})
	return h
}

func (h *harness) send(from model.PeerID, m model.Message) {
	h.t.Helper()
	if err := h.links[from].Peer.Send(context.Background(), m); err != nil {
		h.t.Fatalf("send from %d: %v", from, err)
	}
}

func (h *harness) expect(to model.PeerID) model.Message {
	h.t.Helper()
	select {
	case m, ok := <-h.links[to].Peer.Inbox():
		if !ok {
			h.t.Fatalf("inbox of %d closed", to)
		}
		return m
	case <-time.After(2 * time.Second):
		h.t.Fatalf("peer %d: timed out waiting for message", to)
	}
	return model.Message{}
}

func (h *harness) expectNothing(to model.PeerID) {
	h.t.Helper()
	select {
	case m := <-h.links[to].Peer.Inbox():
		h.t.Fatalf("peer %d: unexpected message %v", to, m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequest_FansOutToOthers(t *testing.T) {
	h := newHarness(t, 3)
	req := model.Message{Kind: model.KindRequest, Sender: 1, Timestamp: 201}
	h.send(1, req)

	for _, id := range []model.PeerID{2, 3} {
		if got := h.expect(id); got != req {
			t.Fatalf("peer %d: got %v, want %v", id, got, req)
		}
	}
	h.expectNothing(1)
}

func TestExit_FansOutToOthers(t *testing.T) {
	h := newHarness(t, 3)
	exit := model.Message{Kind: model.KindExit, Sender: 2, Timestamp: 9}
	h.send(2, exit)
	for _, id := range []model.PeerID{1, 3} {
		if got := h.expect(id); got != exit {
			t.Fatalf("peer %d: got %v, want %v", id, got, exit)
		}
	}
	h.expectNothing(2)
}

func TestResponse_UnicastToTarget(t *testing.T) {
	h := newHarness(t, 3)
	resp := model.Message{Kind: model.KindResponse, Sender: 3, Target: 1, Timestamp: 604}
	h.send(3, resp)
	if got := h.expect(1); got != resp {
		t.Fatalf("peer 1: got %v, want %v", got, resp)
	}
	h.expectNothing(2)
	h.expectNothing(3)
}

func TestSpoofedSender_Dropped(t *testing.T) {
	h := newHarness(t, 2)
	h.send(1, model.Message{Kind: model.KindRequest, Sender: 2, Timestamp: 1})
	h.expectNothing(2)

	// The router keeps serving after a drop.
	ok := model.Message{Kind: model.KindRequest, Sender: 1, Timestamp: 2}
	h.send(1, ok)
	if got := h.expect(2); got != ok {
		t.Fatalf("got %v, want %v", got, ok)
	}
	if n := h.router.Stats().Dropped["request"]; n != 1 {
		t.Fatalf("dropped requests: got %d, want 1", n)
	}
}

func TestMalformedKind_DroppedAndLogged(t *testing.T) {
	h := newHarness(t, 2)
	h.send(1, model.Message{Kind: model.Kind(99), Sender: 1})
	h.send(1, model.Message{Kind: model.KindExit, Sender: 1, Timestamp: 3})
	if got := h.expect(2); got.Kind != model.KindExit {
		t.Fatalf("got %v, want the exit after the malformed message", got)
	}

	warned := false
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "dropping malformed message" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning for the malformed message")
	}
	st := h.router.Stats()
	if st.Received["invalid"] != 1 || st.Dropped["invalid"] != 1 {
		t.Fatalf("stats: received %v dropped %v, want one invalid", st.Received, st.Dropped)
	}
}

func TestDepartFromPeer_Dropped(t *testing.T) {
	h := newHarness(t, 2)
	h.send(1, model.Message{Kind: model.KindDepart, Sender: 1, Timestamp: 4})
	h.expectNothing(2)
	if n := h.router.Stats().Dropped["depart"]; n != 1 {
		t.Fatalf("dropped departs: got %d, want 1", n)
	}
	if dep := h.router.Stats().Departed; len(dep) != 0 {
		t.Fatalf("departed: got %v, want none", dep)
	}
}

func TestResponse_UnknownTargetDropped(t *testing.T) {
	h := newHarness(t, 2)
	h.send(2, model.Message{Kind: model.KindResponse, Sender: 2, Target: 7, Timestamp: 1})
	h.expectNothing(1)
	if n := h.router.Stats().Dropped["response"]; n != 1 {
		t.Fatalf("dropped responses: got %d, want 1", n)
	}
}

func TestPerSourceFIFO(t *testing.T) {
	h := newHarness(t, 3)
	go func() {
		for i := 1; i <= 50; i++ {
			h.links[1].Peer.Send(context.Background(), model.Message{Kind: model.KindExit, Sender: 1, Timestamp: model.LogicalTime(i)})
		}
	}()
	go func() {
		for i := 1; i <= 50; i++ {
			h.links[3].Peer.Send(context.Background(), model.Message{Kind: model.KindExit, Sender: 3, Timestamp: model.LogicalTime(i)})
		}
	}()

	last := map[model.PeerID]model.LogicalTime{}
	for i := 0; i < 100; i++ {
		m := h.expect(2)
		if m.Timestamp != last[m.Sender]+1 {
			t.Fatalf("from %d: got ts %d after %d", m.Sender, m.Timestamp, last[m.Sender])
		}
		last[m.Sender] = m.Timestamp
	}
}

func TestDeparture_NotifiesOthersAndClosesDownstream(t *testing.T) {
	h := newHarness(t, 3)
	exit := model.Message{Kind: model.KindExit, Sender: 2, Timestamp: 5}
	h.send(2, exit)
	h.links[2].Peer.Close()

	for _, id := range []model.PeerID{1, 3} {
		if got := h.expect(id); got != exit {
			t.Fatalf("peer %d: got %v, want exit first", id, got)
		}
		got := h.expect(id)
		if got.Kind != model.KindDepart || got.Sender != 2 {
			t.Fatalf("peer %d: got %v, want depart of 2", id, got)
		}
	}

	select {
	case _, ok := <-h.links[2].Peer.Inbox():
		if ok {
			t.Fatal("departed peer received a message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("departed peer's inbox was not closed")
	}

	// Requests no longer reach the departed peer.
	h.send(1, model.Message{Kind: model.KindRequest, Sender: 1, Timestamp: 10})
	if got := h.expect(3); got.Kind != model.KindRequest {
		t.Fatalf("peer 3: got %v", got)
	}
	if dep := h.router.Stats().Departed; len(dep) != 1 || dep[0] != 2 {
		t.Fatalf("departed: got %v, want [2]", dep)
	}
}

func TestRun_ReturnsWhenAllPeersLeave(t *testing.T) {
	h := newHarness(t, 2)
	h.links[1].Peer.Close()
	h.links[2].Peer.Close()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		h.done <- nil // let cleanup receive
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop after all peers left")
	}
}
