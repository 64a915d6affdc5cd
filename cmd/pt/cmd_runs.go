package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/philtable/pkg/model"
)

func (a *app) cmdRuns(args []string) int {
	flags := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "max runs to list")
	dbPath := flags.String("db", "", "SQLite journal (default $PT_DB or "+defaultDB+")")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return exitErr
	}

	j, err := a.openJournal(*dbPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: runs: %v\n", err)
		return exitErr
	}
	runs, err := j.ListRuns(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: runs: %v\n", err)
		return exitErr
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"runs": runs, "count": len(runs)})
		return exitOK
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return exitOK
	}
	for _, r := range runs {
		printRun(r, j.CountEvents(r.ID))
	}
	return exitOK
}

func printRun(r model.Run, events int64) {
	took := "unfinished"
	if !r.Finished.IsZero() {
		took = r.Finished.Sub(r.Started).Round(time.Millisecond).String()
	}
	status := "ok"
	if r.Violations > 0 {
		status = fmt.Sprintf("%d VIOLATION(S)", r.Violations)
	}
	fmt.Printf("run %-4d %s  peers=%d transport=%s seed=%d meals=%d events=%d  %s  %s\n",
		r.ID, r.Started.Local().Format("2006-01-02 15:04:05"), r.Peers, r.Transport,
		r.Seed, r.Meals, events, took, status)
}
