package store

import (
	"time"

	"github.com/daviddao/philtable/pkg/model"
)

// Journal is the set of store operations the simulator and the CLI use.
// *Store implements it; tests may substitute an in-memory fake.
type Journal interface {
	Close() error

	// CreateRun inserts a run and assigns its ID.
	CreateRun(r *model.Run) (int64, error)
	// FinishRun records when a run ended and how many violations it saw.
	FinishRun(id int64, finished time.Time, violations int) error
	GetRun(id int64) (*model.Run, error)
	// ListRuns returns the latest runs, newest first.
	ListRuns(limit int) ([]model.Run, error)

	// InsertEvents appends a batch of events atomically.
	InsertEvents(runID int64, events []model.Event) error
	// ListEvents pages through a run's events by sequence number.
	ListEvents(runID, sinceSeq int64, limit int) ([]model.Event, error)
	CountEvents(runID int64) int64
}

var _ Journal = (*Store)(nil)
