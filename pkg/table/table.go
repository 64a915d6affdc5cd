// Package table models the shared resource itself. Peers never read it to
// coordinate; it only witnesses who sits down, so a simulation can prove
// that at most one philosopher ever ate at a time.
package table

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daviddao/philtable/pkg/model"
)

var (
	// ErrOccupied means a peer sat down while another was eating: a
	// mutual exclusion violation.
	ErrOccupied = errors.New("table occupied")
	// ErrNotSeated means a peer left a seat it did not hold.
	ErrNotSeated = errors.New("peer not seated")
)

// Violation records one breach of mutual exclusion.
type Violation struct {
	Intruder model.PeerID `json:"intruder"`
	Occupant model.PeerID `json:"occupant"`
	At       time.Time    `json:"at"`
}

// Table is safe for concurrent use.
type Table struct {
	mu         sync.Mutex
	occupant   model.PeerID
	meals      map[model.PeerID]int
	violations []Violation
}

// New returns an empty table.
func New() *Table {
	return &Table{meals: make(map[model.PeerID]int)}
}

// Sit seats id. It fails with ErrOccupied, and records a Violation, if
// someone else is already eating.
func (t *Table) Sit(id model.PeerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.occupant != 0 && t.occupant != id {
		t.violations = append(t.violations, Violation{
			Intruder: id,
			Occupant: t.occupant,
			At:       time.Now().UTC(),
		})
		return fmt.Errorf("%w: peer %d sat while peer %d eats", ErrOccupied, id, t.occupant)
	}
	t.occupant = id
	return nil
}

// Leave frees the seat held by id and counts the meal.
func (t *Table) Leave(id model.PeerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.occupant != id {
		return fmt.Errorf("%w: peer %d (occupant %d)", ErrNotSeated, id, t.occupant)
	}
	t.occupant = 0
	t.meals[id]++
	return nil
}

// Occupant returns who is eating, or 0.
func (t *Table) Occupant() model.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.occupant
}

// Meals returns completed meals per peer.
func (t *Table) Meals() map[model.PeerID]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.PeerID]int, len(t.meals))
	for id, n := range t.meals {
		out[id] = n
	}
	return out
}

// Violations returns every recorded breach.
func (t *Table) Violations() []Violation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Violation(nil), t.violations...)
}
