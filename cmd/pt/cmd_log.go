package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/daviddao/philtable/pkg/model"
)

func (a *app) cmdLog(args []string) int {
	pos, rest := splitPositional(args)
	flags := flag.NewFlagSet("log", flag.ContinueOnError)
	since := flags.Int64("since", 0, "show events with seq > this")
	limit := flags.Int("limit", 200, "max events to return")
	kind := flags.String("kind", "", "filter by event kind")
	peerID := flags.Int("peer", 0, "filter by peer")
	dbPath := flags.String("db", "", "SQLite journal (default $PT_DB or "+defaultDB+")")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(rest); err != nil {
		return exitErr
	}
	pos = append(pos, flags.Args()...)

	j, err := a.openJournal(*dbPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: log: %v\n", err)
		return exitErr
	}
	runID, err := resolveRun(j, pos)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: log: %v\n", err)
		return exitErr
	}
	events, err := j.ListEvents(runID, *since, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: log: %v\n", err)
		return exitErr
	}
	events = filterEvents(events, model.EventKind(*kind), model.PeerID(*peerID))

	if *jsonOut {
		printJSON(map[string]interface{}{"run": runID, "events": events, "count": len(events)})
		return exitOK
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return exitOK
	}
	for _, e := range events {
		printEvent(e)
	}
	return exitOK
}

// splitPositional lets a run id come before the flags: "pt log 3 --json".
func splitPositional(args []string) (pos, rest []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[:1:1], args[1:]
	}
	return nil, args
}

// filterEvents keeps events matching kind and peer; zero values match all.
func filterEvents(events []model.Event, kind model.EventKind, peer model.PeerID) []model.Event {
	if kind == "" && peer == 0 {
		return events
	}
	var out []model.Event
	for _, e := range events {
		if kind != "" && e.Kind != kind {
			continue
		}
		if peer != 0 && e.PeerID != peer {
			continue
		}
		out = append(out, e)
	}
	return out
}

func printEvent(e model.Event) {
	switch e.Kind {
	case model.EventRequest:
		fmt.Printf("#%-5d peer %d requests the table at ts=%d\n", e.Seq, e.PeerID, e.LamportTS)
	case model.EventEat:
		fmt.Printf("#%-5d peer %d eats (request ts=%d)\n", e.Seq, e.PeerID, e.LamportTS)
	case model.EventLeave:
		fmt.Printf("#%-5d peer %d leaves the table\n", e.Seq, e.PeerID)
	case model.EventDepart:
		fmt.Printf("#%-5d peer %d departs at ts=%d\n", e.Seq, e.PeerID, e.LamportTS)
	case model.EventDrop:
		fmt.Printf("#%-5d peer %d dropped a message from %d\n", e.Seq, e.PeerID, e.Counterpart)
	default:
		fmt.Printf("#%-5d peer %d %s ts=%d\n", e.Seq, e.PeerID, e.Kind, e.LamportTS)
	}
}
