package sim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/store"
	"github.com/daviddao/philtable/pkg/transport"
)

func nullLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func fastConfig(kind transport.Kind, peers, meals int) Config {
	c := DefaultConfig()
	c.Peers = peers
	c.Meals = meals
	c.P = 0.8
	c.ThinkMin = 0
	c.ThinkMax = 2 * time.Millisecond
	c.Eat = 500 * time.Microsecond
	c.Transport = kind
	return c
}

func run(t *testing.T, cfg Config, j store.Journal) *Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rep, err := Run(ctx, cfg, j, nullLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rep
}

func TestRun_EveryoneEatsSafely(t *testing.T) {
	for _, kind := range []transport.Kind{transport.KindChan, transport.KindPipe} {
		for _, peers := range []int{1, 2, 3, 5} {
			t.Run(fmt.Sprintf("%s/%d", kind, peers), func(t *testing.T) {
				rep := run(t, fastConfig(kind, peers, 4), nil)
				if rep.Interrupted {
					t.Fatal("run was interrupted")
				}
				if len(rep.Violations) != 0 {
					t.Fatalf("table violations: %v", rep.Violations)
				}
				if !rep.Audit.OK() {
					t.Fatalf("audit: %v", rep.Audit.Violations)
				}
				if !rep.Safe() {
					t.Fatal("Safe() should be true")
				}
				for id := 1; id <= peers; id++ {
					if n := rep.Meals[model.PeerID(id)]; n != 4 {
						t.Fatalf("peer %d ate %d times, want 4", id, n)
					}
				}
				if len(rep.Router.Departed) != peers {
					t.Fatalf("departed: got %v, want all %d", rep.Router.Departed, peers)
				}
			})
		}
	}
}

func TestRun_ZeroThinkAlwaysHungry(t *testing.T) {
	cfg := fastConfig(transport.KindChan, 4, 5)
	cfg.P, cfg.ThinkMin, cfg.ThinkMax = 1, 0, 0
	rep := run(t, cfg, nil)
	if rep.Interrupted || !rep.Safe() {
		t.Fatalf("interrupted=%v violations=%v audit=%v", rep.Interrupted, rep.Violations, rep.Audit.Violations)
	}
	for id := 1; id <= 4; id++ {
		if n := rep.Meals[model.PeerID(id)]; n != 5 {
			t.Fatalf("peer %d ate %d times, want 5", id, n)
		}
	}
}

func TestRun_SequenceNumbersAreDense(t *testing.T) {
	rep := run(t, fastConfig(transport.KindChan, 3, 2), nil)
	for i, e := range rep.Events {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
	counts := map[model.EventKind]int{}
	for _, e := range rep.Events {
		counts[e.Kind]++
	}
	if counts[model.EventRequest] != 6 || counts[model.EventEat] != 6 ||
		counts[model.EventLeave] != 6 || counts[model.EventDepart] != 3 {
		t.Fatalf("event counts: %v", counts)
	}
}

func TestRun_DurationBoundsOpenEndedRun(t *testing.T) {
	cfg := fastConfig(transport.KindPipe, 3, 0)
	cfg.Duration = 100 * time.Millisecond
	start := time.Now()
	rep := run(t, cfg, nil)
	if !rep.Interrupted {
		t.Fatal("open-ended run should be interrupted by its duration")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("run did not stop near its duration")
	}
	if !rep.Safe() {
		t.Fatalf("violations=%v audit=%v", rep.Violations, rep.Audit.Violations)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := fastConfig(transport.KindChan, 4, 0)
	cfg.Duration = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	rep, err := Run(ctx, cfg, nil, nullLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Interrupted || !rep.Safe() {
		t.Fatalf("interrupted=%v safe=%v", rep.Interrupted, rep.Safe())
	}
}

func TestRun_PersistsJournal(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cfg := fastConfig(transport.KindPipe, 3, 2)
	cfg.Seed = 42
	rep := run(t, cfg, s)
	if rep.RunID == 0 {
		t.Fatal("report should carry the run id")
	}

	r, err := s.GetRun(rep.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Peers != 3 || r.Transport != "pipe" || r.Seed != 42 || r.Meals != 2 || r.Violations != 0 {
		t.Fatalf("stored run: %+v", r)
	}
	if r.Finished.IsZero() {
		t.Fatal("stored run not finished")
	}
	if n := s.CountEvents(rep.RunID); n != int64(len(rep.Events)) {
		t.Fatalf("stored %d events, report has %d", n, len(rep.Events))
	}
	back, err := s.ListEvents(rep.RunID, 0, len(rep.Events))
	if err != nil {
		t.Fatal(err)
	}
	for i := range back {
		if back[i].Seq != rep.Events[i].Seq || back[i].Kind != rep.Events[i].Kind || back[i].PeerID != rep.Events[i].PeerID {
			t.Fatalf("event %d: stored %+v, recorded %+v", i, back[i], rep.Events[i])
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"default", func(*Config) {}, ""},
		{"no peers", func(c *Config) { c.Peers = 0 }, "peers"},
		{"too many peers", func(c *Config) { c.Peers = MaxPeers + 1 }, "peers"},
		{"negative meals", func(c *Config) { c.Meals = -1 }, "meals"},
		{"bad p", func(c *Config) { c.P = 1.5 }, "p must"},
		{"inverted think", func(c *Config) { c.ThinkMin, c.ThinkMax = 5, 1 }, "think"},
		{"negative eat", func(c *Config) { c.Eat = -1 }, "eat"},
		{"endless", func(c *Config) { c.Meals = 0 }, "never end"},
		{"never hungry", func(c *Config) { c.P = 0 }, "never end"},
		{"never hungry but bounded", func(c *Config) { c.P, c.Duration = 0, time.Second }, ""},
		{"zero think, sometimes hungry", func(c *Config) { c.ThinkMin, c.ThinkMax, c.P = 0, 0, 0.5 }, "think-max"},
		{"zero think, always hungry", func(c *Config) { c.ThinkMin, c.ThinkMax, c.P = 0, 0, 1 }, ""},
		{"bad transport", func(c *Config) { c.Transport = "zmq" }, "unknown transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate: got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = 0
	if _, err := Run(context.Background(), cfg, nil, nullLog()); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

type failingEnd struct{ err error }

func (f failingEnd) Send(context.Context, model.Message) error { return f.err }
func (f failingEnd) Inbox() <-chan model.Message              { return nil }
func (f failingEnd) Upstream() <-chan model.Message           { return nil }
func (f failingEnd) Deliver(model.Message)                    {}
func (f failingEnd) Close() error                             { return f.err }

func TestCloseLinks_LogsCloseErrors(t *testing.T) {
	l, hook := test.NewNullLogger()
	bad := failingEnd{err: errors.New("already closed")}
	good, err := transport.New(transport.KindPipe, 2, nullLog())
	if err != nil {
		t.Fatal(err)
	}
	closeLinks([]*transport.Link{
		{ID: 1, Peer: bad, Router: bad},
		good,
	}, logrus.NewEntry(l))

	var peers []interface{}
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			peers = append(peers, e.Data["peer"])
		}
	}
	if len(peers) != 2 || peers[0] != model.PeerID(1) || peers[1] != model.PeerID(1) {
		t.Fatalf("warnings for peers %v, want two for peer 1", peers)
	}
}
