package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/philtable/pkg/audit"
	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/store"
)

const auditPage = 1000

func (a *app) cmdAudit(args []string) int {
	pos, rest := splitPositional(args)
	flags := flag.NewFlagSet("audit", flag.ContinueOnError)
	dbPath := flags.String("db", "", "SQLite journal (default $PT_DB or "+defaultDB+")")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(rest); err != nil {
		return exitErr
	}
	pos = append(pos, flags.Args()...)

	j, err := a.openJournal(*dbPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: audit: %v\n", err)
		return exitErr
	}
	runID, err := resolveRun(j, pos)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: audit: %v\n", err)
		return exitErr
	}
	if _, err := j.GetRun(runID); err != nil {
		fmt.Fprintf(os.Stderr, "pt: audit: %v\n", err)
		return exitErr
	}
	events, err := loadEvents(j, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: audit: %v\n", err)
		return exitErr
	}

	rep := audit.Run(events)
	if *jsonOut {
		printJSON(map[string]interface{}{"run": runID, "events": len(events), "audit": rep})
	} else {
		fmt.Printf("run %d: %d events\n", runID, len(events))
		printAudit(rep)
	}
	if !rep.OK() {
		return exitUnsafe
	}
	return exitOK
}

// loadEvents pages through the whole journal of a run.
func loadEvents(j store.Journal, runID int64) ([]model.Event, error) {
	var all []model.Event
	var since int64
	for {
		page, err := j.ListEvents(runID, since, auditPage)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < auditPage {
			return all, nil
		}
		since = page[len(page)-1].Seq
	}
}

func printAudit(rep *audit.Report) {
	if rep == nil {
		return
	}
	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAILED"
	}
	fmt.Printf("audit: %d requests, safety %s, order %s\n", rep.Requests, mark(rep.Safe), mark(rep.Ordered))
	for _, f := range rep.Violations {
		fmt.Printf("  %s\n", f)
	}
}
