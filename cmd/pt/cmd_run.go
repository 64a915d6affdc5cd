package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/daviddao/philtable/pkg/model"
	"github.com/daviddao/philtable/pkg/sim"
	"github.com/daviddao/philtable/pkg/transport"
)

func (a *app) cmdRun(args []string) int {
	def := sim.DefaultConfig()
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	peers := flags.Int("peers", envInt("PT_PEERS", def.Peers), "number of philosophers")
	meals := flags.Int("meals", def.Meals, "meals per philosopher; 0 = until --duration")
	p := flags.Float64("p", def.P, "chance of getting hungry after each think interval")
	thinkMin := flags.Duration("think-min", def.ThinkMin, "shortest think interval")
	thinkMax := flags.Duration("think-max", def.ThinkMax, "longest think interval")
	eat := flags.Duration("eat", def.Eat, "how long a meal takes")
	seed := flags.Int64("seed", def.Seed, "seed for the hunger generators")
	kind := flags.String("transport", string(def.Transport), "transport: chan or pipe")
	duration := flags.Duration("duration", 0, "stop the run after this long")
	dbPath := flags.String("db", "", "record the run in this SQLite journal (default $PT_DB)")
	jsonOut := flags.Bool("json", false, "JSON output")
	lf := addLogFlags(flags, a.logLevel)
	if err := flags.Parse(args); err != nil {
		return exitErr
	}
	if err := a.applyLogFlags(lf); err != nil {
		fmt.Fprintf(os.Stderr, "pt: run: %v\n", err)
		return exitErr
	}

	cfg := sim.Config{
		Peers:     *peers,
		Meals:     *meals,
		P:         *p,
		ThinkMin:  *thinkMin,
		ThinkMax:  *thinkMax,
		Eat:       *eat,
		Seed:      *seed,
		Transport: transport.Kind(*kind),
		Duration:  *duration,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pt: run: %v\n", err)
		return exitErr
	}

	j, err := a.openJournal(*dbPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pt: run: %v\n", err)
		return exitErr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := sim.Run(ctx, cfg, j, a.logger.WithField("cmd", "run"))
	if rep == nil {
		fmt.Fprintf(os.Stderr, "pt: run: %v\n", err)
		return exitErr
	}
	if err != nil {
		// The run itself finished; only recording it failed.
		fmt.Fprintf(os.Stderr, "pt: run: %v\n", err)
	}

	if *jsonOut {
		printJSON(rep)
	} else {
		printReport(rep)
	}

	switch {
	case !rep.Safe():
		return exitUnsafe
	case err != nil:
		return exitErr
	}
	return exitOK
}

func printReport(rep *sim.Report) {
	if rep.RunID != 0 {
		fmt.Printf("run %d: ", rep.RunID)
	}
	fmt.Printf("%d philosophers over %s, seed %d, %v\n",
		rep.Config.Peers, rep.Config.Transport, rep.Config.Seed, rep.Elapsed.Round(time.Millisecond))
	if rep.Interrupted {
		fmt.Println("(stopped before everyone finished)")
	}

	ids := make([]model.PeerID, 0, len(rep.Meals))
	for id := range rep.Meals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Println("meals:")
	for _, id := range ids {
		fmt.Printf("  peer %-3d %d\n", id, rep.Meals[id])
	}

	fmt.Println("router:")
	for _, k := range []model.Kind{model.KindRequest, model.KindResponse, model.KindExit, model.KindDepart} {
		name := k.String()
		fmt.Printf("  %-9s received=%d forwarded=%d dropped=%d\n",
			name, rep.Router.Received[name], rep.Router.Forwarded[name], rep.Router.Dropped[name])
	}

	if len(rep.Violations) == 0 {
		fmt.Println("table: no two philosophers ever ate together")
	} else {
		fmt.Printf("table: %d VIOLATION(S)\n", len(rep.Violations))
		for _, v := range rep.Violations {
			fmt.Printf("  peer %d sat while peer %d was eating\n", v.Intruder, v.Occupant)
		}
	}
	printAudit(rep.Audit)
}
