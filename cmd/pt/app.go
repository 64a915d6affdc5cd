package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/philtable/pkg/store"
)

const defaultDB = "philtable.db"

// app holds shared state for all CLI subcommands.
type app struct {
	dbPath   string // from PT_DB; empty means run does not record
	logLevel logrus.Level
	logger   *logrus.Logger
	journal  store.Journal
}

// newApp resolves environment defaults. The journal is opened lazily,
// since run works without one.
func newApp() (*app, error) {
	lvl, err := logrus.ParseLevel(envOr("PT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PT_LOG_LEVEL: %w", err)
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(lvl)
	return &app{
		dbPath:   envOr("PT_DB", ""),
		logLevel: lvl,
		logger:   l,
	}, nil
}

// Close releases the journal if one was opened.
func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
		a.journal = nil
	}
}

// openJournal returns the journal at path, falling back to PT_DB and then,
// if required, to the default file. It returns nil when nothing is
// configured and the journal is optional.
func (a *app) openJournal(path string, required bool) (store.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	if path == "" {
		path = a.dbPath
	}
	if path == "" {
		if !required {
			return nil, nil
		}
		path = defaultDB
	}
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open journal %q: %w", path, err)
	}
	a.journal = s
	return s, nil
}

// logFlags registers --log-level and --log-json on fs.
type logFlags struct {
	level *string
	json  *bool
}

func addLogFlags(fs *flag.FlagSet, def logrus.Level) logFlags {
	return logFlags{
		level: fs.String("log-level", def.String(), "log level: debug, info, warn, error"),
		json:  fs.Bool("log-json", false, "emit logs as JSON"),
	}
}

// apply configures the app's logger from parsed flags.
func (a *app) applyLogFlags(f logFlags) error {
	lvl, err := logrus.ParseLevel(*f.level)
	if err != nil {
		return err
	}
	a.logger.SetLevel(lvl)
	if *f.json {
		a.logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		a.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// resolveRun picks the run named by the first positional argument, or the
// latest recorded run.
func resolveRun(j store.Journal, args []string) (int64, error) {
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid run id %q", args[0])
		}
		return id, nil
	}
	runs, err := j.ListRuns(1)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, fmt.Errorf("no runs recorded yet; try 'pt run --db PATH'")
	}
	return runs[0].ID, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
