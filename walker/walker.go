// Package walker is the per-tick entry point of the locomotion core.
package walker

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/controller"
	"github.com/clintpurser/biped/estimator"
	"github.com/clintpurser/biped/gait"
	"github.com/clintpurser/biped/phase"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
	"github.com/clintpurser/biped/wbc"
)

// ErrStalled is returned while the active phase has run longer than the
// configured limit.
var ErrStalled = errors.New("phase stalled")

// Dynamics is the kinematic model the walker needs: rigid-body dynamics and
// leg inverse kinematics.
type Dynamics interface {
	robot.Dynamics
	robot.InverseKinematics
}

// Walker turns one tick of sensor data into one command. It is not safe for
// concurrent use; the caller serializes ticks.
type Walker struct {
	sp      *state.Shared
	est     *estimator.Estimator
	program *gait.Program
	logger  logging.Logger

	waiting   uint64
	maxTicks  int
	tick      uint64
	stallSeen bool
}

// New builds the estimator and the configured program around a new shared
// state.
func New(cfg *config.Config, model Dynamics, logger logging.Logger) (*Walker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sp := state.NewShared(cfg.Interface.ServoPeriod)
	copy(sp.RotorInertia[:], cfg.Interface.RotorInertia)

	est, err := estimator.New(cfg.Interface, sp, model, logger)
	if err != nil {
		return nil, err
	}
	program, err := gait.New(cfg, &controller.Env{
		State:  sp,
		Dyn:    model,
		IK:     model,
		Solver: wbc.NewSolver(),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Walker{
		sp:       sp,
		est:      est,
		program:  program,
		logger:   logger,
		waiting:  uint64(cfg.Interface.WaitingCount),
		maxTicks: cfg.Interface.MaxPhaseTicks,
	}, nil
}

// GetCommand runs one tick. During the waiting window the estimator is
// initialized and cmd holds the measured posture with zero torque. After it
// the estimator is updated and the program computes cmd. On error cmd is
// left as the failing stage left it and the caller decides how to fail safe.
func (w *Walker) GetCommand(data *state.SensorData, cmd *state.Command) error {
	tick := w.tick
	w.tick++
	if tick < w.waiting {
		if err := w.est.Initialization(tick, data); err != nil {
			return err
		}
		cmd.Hold(data)
		return nil
	}
	if err := w.est.Update(tick, data); err != nil {
		return err
	}
	if err := w.program.Step(cmd); err != nil {
		return err
	}
	if w.program.Stalled(w.maxTicks) {
		st := w.program.Status()
		if !w.stallSeen {
			w.logger.Warnf("phase %s has run %d ticks", st.Name, st.Ticks)
			w.stallSeen = true
		}
		return errors.Wrapf(ErrStalled, "%s after %d ticks", st.Name, st.Ticks)
	}
	w.stallSeen = false
	return nil
}

// RunningTime returns the time of the last tick, from the tick count.
func (w *Walker) RunningTime() float64 {
	return w.sp.Time
}

// Ticks returns the number of GetCommand calls.
func (w *Walker) Ticks() uint64 {
	return w.tick
}

// Status returns the program position.
func (w *Walker) Status() phase.Status {
	return w.program.Status()
}

// Program returns the running program.
func (w *Walker) Program() *gait.Program {
	return w.program
}

// State returns the shared state. Callers must not write to it.
func (w *Walker) State() *state.Shared {
	return w.sp
}

// SetDesiredLocation sets the global (x, y) location the planner walks
// toward.
func (w *Walker) SetDesiredLocation(x, y float64) {
	w.sp.DesLocation = r3.Vector{X: x, Y: y}
}
