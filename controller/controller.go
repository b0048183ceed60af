// Package controller implements the phase controllers of the gait programs:
// posture hold, joint target and swing planning.
package controller

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
	"github.com/clintpurser/biped/wbc"
)

// Env is shared by every controller of a program.
type Env struct {
	State  *state.Shared
	Dyn    robot.Dynamics
	IK     robot.InverseKinematics
	Solver *wbc.Solver
	Logger logging.Logger
}

func (e *Env) setting() wbc.Setting {
	return wbc.Setting{
		MassMatrix:        e.Dyn.MassMatrix(),
		InverseMassMatrix: e.Dyn.InverseMassMatrix(),
		Coriolis:          e.Dyn.Coriolis(),
		Gravity:           e.Dyn.Gravity(),
		RotorInertia:      e.State.RotorInertia,
	}
}

func (e *Env) solve(tasks []wbc.Task, contacts []wbc.Contact, w wbc.Weights) (wbc.Result, error) {
	return e.Solver.Solve(e.State.Tick, e.setting(), tasks, contacts, w)
}

// newContact builds the contact of a double-support or hanging controller.
func newContact(env *Env, kind config.ContactKind) (wbc.Contact, error) {
	switch kind {
	case config.DoubleFootContact:
		return wbc.NewDoubleContact(env.Dyn, env.State), nil
	case config.FixedBodyContact:
		return wbc.NewFixedBodyContact(env.State), nil
	default:
		return nil, errors.Errorf("unknown contact %q", kind)
	}
}

// record stores the solve result in the shared state.
func record(sp *state.Shared, contact wbc.Contact, res wbc.Result) {
	switch c := contact.(type) {
	case *wbc.SingleContact:
		sp.RecordSolve(res.Qddot, c.Foot(), res.Force)
	case *wbc.DoubleContact:
		sp.RecordSolve(res.Qddot, robot.LeftFoot, res.Force[:3])
		sp.RecordSolve(res.Qddot, robot.RightFoot, res.Force[3:])
	default:
		sp.RecordSolve(res.Qddot, robot.Body, nil)
	}
}

func writeCommand(cmd *state.Command, torque []float64, pos, vel []float64) {
	for i := 0; i < robot.NumActJoint; i++ {
		cmd.Torque[i] = torque[i]
		cmd.Pos[i] = pos[i]
		cmd.Vel[i] = vel[i]
	}
}
