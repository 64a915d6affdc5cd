package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/philtable/pkg/transport"
)

// MaxPeers bounds the table size.
const MaxPeers = 256

// Config holds the parameters of one simulated run.
type Config struct {
	Peers     int            `json:"peers"`
	Meals     int            `json:"meals"`
	P         float64        `json:"p"`
	ThinkMin  time.Duration  `json:"think_min"`
	ThinkMax  time.Duration  `json:"think_max"`
	Eat       time.Duration  `json:"eat"`
	Seed      int64          `json:"seed"`
	Transport transport.Kind `json:"transport"`
	// Duration caps the run; 0 means run until every peer has eaten its
	// meals.
	Duration time.Duration `json:"duration,omitempty"`
}

// DefaultConfig returns a three-philosopher table where everyone eats
// three times.
func DefaultConfig() Config {
	return Config{
		Peers:     3,
		Meals:     3,
		P:         0.5,
		ThinkMin:  time.Millisecond,
		ThinkMax:  10 * time.Millisecond,
		Eat:       2 * time.Millisecond,
		Seed:      1,
		Transport: transport.KindChan,
	}
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch {
	case c.Peers < 1 || c.Peers > MaxPeers:
		return fmt.Errorf("peers must be between 1 and %d, got %d", MaxPeers, c.Peers)
	case c.Meals < 0:
		return fmt.Errorf("meals must be >= 0, got %d", c.Meals)
	case c.P < 0 || c.P > 1:
		return fmt.Errorf("p must be in [0, 1], got %g", c.P)
	case c.ThinkMin < 0 || c.ThinkMax < c.ThinkMin:
		return fmt.Errorf("think range [%v, %v] is invalid", c.ThinkMin, c.ThinkMax)
	case c.ThinkMax == 0 && c.P < 1:
		return fmt.Errorf("think-max must be positive when p < 1, got p=%g", c.P)
	case c.Eat < 0:
		return fmt.Errorf("eat must be >= 0, got %v", c.Eat)
	case c.Duration < 0:
		return fmt.Errorf("duration must be >= 0, got %v", c.Duration)
	case c.Duration == 0 && c.Meals == 0:
		return errors.New("run would never end: set meals or a duration")
	case c.Duration == 0 && c.P == 0:
		return errors.New("run would never end: p is 0 and no duration is set")
	}
	if _, err := transport.ParseKind(string(c.Transport)); err != nil {
		return err
	}
	return nil
}
