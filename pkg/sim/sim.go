// Package sim sets a table of philosophers, connects each one to the
// router over the configured transport, lets them eat, and collects what
// happened.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/philtable/pkg/audit"
	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/peer"
	"github.com/daviddao/philtable/pkg/router"
	"github.com/daviddao/philtable/pkg/store"
	"github.com/daviddao/philtable/pkg/table"
	"github.com/daviddao/philtable/pkg/transport"
)

// Report is the outcome of a run.
type Report struct {
	RunID      int64                `json:"run_id,omitempty"`
	Config     Config               `json:"config"`
	Meals      map[model.PeerID]int `json:"meals"`
	Router     router.Stats         `json:"router"`
	Violations []table.Violation    `json:"violations,omitempty"`
	Audit      *audit.Report        `json:"audit"`
	// Interrupted is set when the run was cut short by its duration or
	// by cancellation rather than by every peer finishing its meals.
	Interrupted bool          `json:"interrupted"`
	Elapsed     time.Duration `json:"elapsed"`
	Events      []model.Event `json:"-"`
}

// Safe reports whether no two philosophers ever ate together, as seen by
// both the table and the audit of the journal.
func (r *Report) Safe() bool {
	return len(r.Violations) == 0 && r.Audit != nil && r.Audit.OK()
}

// Run executes one simulation. A nil journal skips persistence. Run
// returns early only on setup failures; once the peers are seated it
// always produces a Report.
func Run(ctx context.Context, cfg Config, journal store.Journal, log *logrus.Entry) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	ids := make([]model.PeerID, cfg.Peers)
	links := make([]*transport.Link, 0, cfg.Peers)
	for i := range ids {
		ids[i] = model.PeerID(i + 1)
		l, err := transport.New(cfg.Transport, ids[i], log)
		if err != nil {
			closeLinks(links, log)
			return nil, fmt.Errorf("create link: %w", err)
		}
		links = append(links, l)
	}

	var (
		tb      = table.New()
		rec     = &recorder{}
		rt      = router.New(links, log)
		runners = make([]*peer.Runner, len(links))
		started = time.Now().UTC()
	)
	for i, l := range links {
		runners[i] = peer.NewRunner(peer.New(l.ID, ids), l.Peer, peer.Options{
			Generator: peer.NewGenerator(cfg.Seed+int64(l.ID), cfg.P, cfg.ThinkMin, cfg.ThinkMax),
			Table:     tb,
			Observer:  rec,
			Log:       log,
			Eat:       cfg.Eat,
			Meals:     cfg.Meals,
		})
	}

	log.WithFields(logrus.Fields{
		"peers":     cfg.Peers,
		"transport": cfg.Transport,
		"meals":     cfg.Meals,
		"seed":      cfg.Seed,
	}).Info("seating philosophers")

	var wg sync.WaitGroup
	errs := make([]error, len(runners)+1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = rt.Run(ctx)
	}()
	for i, r := range runners {
		wg.Add(1)
		go func(i int, r *peer.Runner) {
			defer wg.Done()
			errs[i+1] = r.Run(ctx)
		}(i, r)
	}
	wg.Wait()

	rep := &Report{
		Config:     cfg,
		Meals:      tb.Meals(),
		Router:     rt.Stats(),
		Violations: tb.Violations(),
		Events:     rec.snapshot(),
		Elapsed:    time.Since(started),
	}
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			rep.Interrupted = true
		default:
			return nil, err
		}
	}
	rep.Audit = audit.Run(rep.Events)

	log.WithFields(logrus.Fields{
		"events":     len(rep.Events),
		"violations": len(rep.Violations),
		"audit_ok":   rep.Audit.OK(),
		"elapsed":    rep.Elapsed.Round(time.Millisecond),
	}).Info("table cleared")

	if journal != nil {
		if err := persist(journal, rep, started); err != nil {
			return rep, fmt.Errorf("journal: %w", err)
		}
	}
	return rep, nil
}

func persist(j store.Journal, rep *Report, started time.Time) error {
	run := &model.Run{
		Peers:     rep.Config.Peers,
		Transport: string(rep.Config.Transport),
		Seed:      rep.Config.Seed,
		Meals:     rep.Config.Meals,
		Started:   started,
	}
	id, err := j.CreateRun(run)
	if err != nil {
		return err
	}
	rep.RunID = id
	if err := j.InsertEvents(id, rep.Events); err != nil {
		return err
	}
	return j.FinishRun(id, started.Add(rep.Elapsed), len(rep.Violations)+len(rep.Audit.Violations))
}

// closeLinks releases links built before a setup failure.
func closeLinks(links []*transport.Link, log *logrus.Entry) {
	for _, l := range links {
		if err := l.Peer.Close(); err != nil {
			log.WithError(err).WithField("peer", l.ID).Warn("closing upstream")
		}
		if err := l.Router.Close(); err != nil {
			log.WithError(err).WithField("peer", l.ID).Warn("closing downstream")
		}
	}
}
