// Package store keeps the journal of simulated runs in SQLite.
//
// Each run gets a row in runs and every observable step a philosopher
// takes (request, eat, leave, depart, drop) becomes a row in events,
// numbered by a run-wide sequence. The journal is written once per run,
// after the peers have left, so it never sits on the protocol's path.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/philtable/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

const defaultLimit = 100

// Store is a SQLite-backed Journal in WAL mode.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		peers      INTEGER NOT NULL,
		transport  TEXT NOT NULL,
		seed       INTEGER NOT NULL,
		meals      INTEGER NOT NULL DEFAULT 0,
		violations INTEGER NOT NULL DEFAULT 0,
		started    TEXT NOT NULL,
		finished   TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id      INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		peer_id     INTEGER NOT NULL,
		lamport_ts  INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		counterpart INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_events_peer ON events(run_id, peer_id, seq);
	`)
	return err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts r and sets r.ID.
func (s *Store) CreateRun(r *model.Run) (int64, error) {
	if r.Started.IsZero() {
		r.Started = time.Now().UTC()
	}
	err := writeBackoff.do(func() error {
		res, err := s.db.Exec(
			`INSERT INTO runs (peers, transport, seed, meals, started) VALUES (?, ?, ?, ?, ?)`,
			r.Peers, r.Transport, r.Seed, r.Meals, r.Started.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return r.ID, nil
}

// FinishRun stamps the end time and the violation count of a run.
func (s *Store) FinishRun(id int64, finished time.Time, violations int) error {
	return writeBackoff.do(func() error {
		res, err := s.db.Exec(
			`UPDATE runs SET finished = ?, violations = ? WHERE id = ?`,
			finished.UTC().Format(time.RFC3339Nano), violations, id,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", ErrRunNotFound, id)
		}
		return nil
	})
}

// GetRun returns one run.
func (s *Store) GetRun(id int64) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, peers, transport, seed, meals, violations, started, COALESCE(finished, '')
		 FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.Query(
		`SELECT id, peers, transport, seed, meals, violations, started, COALESCE(finished, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	var r model.Run
	var started, finished string
	if err := sc.Scan(&r.ID, &r.Peers, &r.Transport, &r.Seed, &r.Meals, &r.Violations, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started for run %d: %w", r.ID, err)
	}
	if finished != "" {
		if r.Finished, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished for run %d: %w", r.ID, err)
		}
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// InsertEvents appends events to a run in one transaction. Either all of
// them land or none do.
func (s *Store) InsertEvents(runID int64, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	return writeBackoff.do(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.Prepare(
			`INSERT INTO events (run_id, seq, peer_id, lamport_ts, kind, counterpart, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.Exec(runID, e.Seq, int64(e.PeerID), int64(e.LamportTS), string(e.Kind),
				int64(e.Counterpart), e.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("insert event %d: %w", e.Seq, err)
			}
		}
		return tx.Commit()
	})
}

// ListEvents returns a run's events with seq > sinceSeq in sequence order.
func (s *Store) ListEvents(runID, sinceSeq int64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.Query(
		`SELECT run_id, seq, peer_id, lamport_ts, kind, counterpart, created_at
		 FROM events WHERE run_id = ? AND seq > ?
		 ORDER BY seq ASC LIMIT ?`,
		runID, sinceSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kind, created string
		if err := rows.Scan(&e.RunID, &e.Seq, &e.PeerID, &e.LamportTS, &kind, &e.Counterpart, &created); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for event %d/%d: %w", e.RunID, e.Seq, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns how many events a run recorded, or 0 on error.
func (s *Store) CountEvents(runID int64) int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0
	}
	return n
}
