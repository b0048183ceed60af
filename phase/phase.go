// Package phase sequences phase controllers into a repeating gait cycle.
package phase

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/state"
)

// Controller is one behavior of the gait cycle.
type Controller interface {
	// Initialize loads parameters. It is called once, before the first tick.
	Initialize(cfg *config.Config) error
	// FirstVisit captures the phase-start snapshot. It runs once per visit,
	// before the first OneStep of that visit.
	FirstVisit() error
	// OneStep computes the command of the current tick. On error cmd is left
	// untouched.
	OneStep(cmd *state.Command) error
	// LastVisit runs once, right before the sequencer leaves the slot.
	LastVisit()
	// EndOfPhase reports whether the phase is over.
	EndOfPhase() bool
}

// SlotState is the progress of the active slot.
type SlotState int

// Slot states.
const (
	NotStarted SlotState = iota
	Active
	Ended
)

func (s SlotState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("slot_state(%d)", int(s))
	}
}

// Slot is an ordered position in the cycle. The same controller may occupy
// several slots.
type Slot struct {
	Name       string
	Controller Controller
}

// AdvanceFunc is called after LastVisit of slot finished and before the next
// slot starts.
type AdvanceFunc func(finished int)

// Status describes the sequencer position.
type Status struct {
	Slot  int
	Name  string
	State SlotState
	// Ticks is the number of OneStep calls of the current visit.
	Ticks int
	// Cycles counts wraps back to the loop start.
	Cycles int
}

// Sequencer runs one slot per tick and advances when the slot ends. It has
// no timeout of its own: a controller that never ends stalls it, which the
// caller observes through Stalled.
type Sequencer struct {
	slots     []Slot
	loopStart int
	onAdvance AdvanceFunc
	logger    logging.Logger

	cur    int
	state  SlotState
	ticks  int
	cycles int
}

// NewSequencer returns a sequencer starting at slot 0. After the last slot it
// wraps to loopStart.
func NewSequencer(slots []Slot, loopStart int, onAdvance AdvanceFunc, logger logging.Logger) (*Sequencer, error) {
	if len(slots) == 0 {
		return nil, errors.New("sequencer needs at least one slot")
	}
	if loopStart < 0 || loopStart >= len(slots) {
		return nil, errors.Errorf("loop start %d outside %d slots", loopStart, len(slots))
	}
	for i, s := range slots {
		if s.Controller == nil {
			return nil, errors.Errorf("slot %d (%s) has no controller", i, s.Name)
		}
	}
	return &Sequencer{
		slots:     slots,
		loopStart: loopStart,
		onAdvance: onAdvance,
		logger:    logger,
	}, nil
}

// Step runs the active slot for one tick. An error from the controller is
// returned as is and the sequencer does not advance.
func (s *Sequencer) Step(cmd *state.Command) error {
	slot := s.slots[s.cur]
	if s.state == NotStarted {
		if err := slot.Controller.FirstVisit(); err != nil {
			return errors.Wrapf(err, "entering %s", slot.Name)
		}
		s.state = Active
		s.ticks = 0
		s.logger.Infof("phase %d (%s) started", s.cur, slot.Name)
	}
	if err := slot.Controller.OneStep(cmd); err != nil {
		return errors.Wrapf(err, "phase %s", slot.Name)
	}
	s.ticks++
	if !slot.Controller.EndOfPhase() {
		return nil
	}

	s.state = Ended
	slot.Controller.LastVisit()
	s.logger.Infof("phase %d (%s) ended after %d ticks", s.cur, slot.Name, s.ticks)
	finished := s.cur
	if s.onAdvance != nil {
		s.onAdvance(finished)
	}
	s.cur++
	if s.cur == len(s.slots) {
		s.cur = s.loopStart
		s.cycles++
	}
	s.state = NotStarted
	return nil
}

// Status returns the current position.
func (s *Sequencer) Status() Status {
	return Status{
		Slot:   s.cur,
		Name:   s.slots[s.cur].Name,
		State:  s.state,
		Ticks:  s.ticks,
		Cycles: s.cycles,
	}
}

// Stalled reports whether the active slot has run more than maxTicks ticks.
// A non-positive maxTicks disables the check.
func (s *Sequencer) Stalled(maxTicks int) bool {
	return maxTicks > 0 && s.state == Active && s.ticks > maxTicks
}
