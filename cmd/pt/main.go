// Command pt seats a table of philosophers that share one resource under
// the Ricart-Agrawala protocol with Lamport clocks, and keeps a journal of
// what they did.
package main

import (
	"fmt"
	"os"
	"strconv"
)

const version = "0.3.0"

// Exit codes.
const (
	exitOK     = 0
	exitErr    = 1
	exitUnsafe = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitErr)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("pt", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = a.cmdRun(os.Args[2:])
	case "runs":
		code = a.cmdRuns(os.Args[2:])
	case "log":
		code = a.cmdLog(os.Args[2:])
	case "audit":
		code = a.cmdAudit(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "pt: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'pt --help' for usage.")
		code = exitErr
	}
	a.Close()
	os.Exit(code)
}

func printUsage() {
	fmt.Print(`pt - dining philosophers over Ricart-Agrawala mutual exclusion

Each philosopher is a peer with its own Lamport clock. A router relays
requests, responses and exits; a peer eats only once every other peer
has answered and its own request heads its queue.

Usage:
  pt <command> [flags]

Commands:
  run [--peers N] [--meals N]   Seat the table and let everyone eat
  runs [--limit N]              List recorded runs
  log [run] [--since SEQ]       Show the journal of a run (default: latest)
  audit [run]                   Re-check a recorded run for safety and order

Run flags:
  --peers N          philosophers at the table (default 3)
  --meals N          meals per philosopher before leaving; 0 = until --duration
  --p F              chance of getting hungry after each think interval
  --think-min D      shortest think interval (e.g. 1ms)
  --think-max D      longest think interval
  --eat D            how long a meal takes
  --seed N           seed for the hunger generators
  --transport T      chan | pipe
  --duration D       stop the run after D
  --db PATH          record the run in this SQLite journal

Environment:
  PT_DB          SQLite journal path (run records only when set; others default to philtable.db)
  PT_PEERS       default for --peers
  PT_LOG_LEVEL   default for --log-level (debug, info, warn, error)

All commands support --json for machine-readable output, and
--log-level / --log-json to control diagnostics on stderr.

Exit codes:
  0  success
  1  error
  2  mutual exclusion violated or audit failed
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt is envOr for integers; unparsable values fall back to def.
func envInt(key string, def int) int {
	v, err := strconv.Atoi(envOr(key, ""))
	if err != nil {
		return def
	}
	return v
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "pt: "+format+"\n", args...)
	os.Exit(exitErr)
}
