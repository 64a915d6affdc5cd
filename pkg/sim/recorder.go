package sim

import (
	"sync"

	"github.com/daviddao/philtable/pkg/model"
)

// recorder collects events from every runner and numbers them in the
// order they arrive. That order is the one the audit reasons about.
type recorder struct {
	mu     sync.Mutex
	seq    int64
	events []model.Event
}

func (r *recorder) Record(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}
