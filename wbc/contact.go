package wbc

import (
	"gonum.org/v1/gonum/mat"

	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
)

// Contact is a no-slip, no-penetration constraint. UpdateContactSpec must be
// called every tick before the contact is handed to the solver.
type Contact interface {
	Dim() int
	// Tick is the control tick of the last update. ok is false until the
	// first update.
	Tick() (tick uint64, ok bool)
	// Jacobian maps generalized velocity to contact-point velocity.
	Jacobian() *mat.Dense
	JDotQdot() *mat.VecDense
	// NormalRows lists the rows carrying a normal force.
	NormalRows() []int
	UpdateContactSpec() error
}

type contactBase struct {
	dim     int
	jac     *mat.Dense
	jdqd    *mat.VecDense
	tick    uint64
	updated bool
}

func (c *contactBase) Dim() int                { return c.dim }
func (c *contactBase) Tick() (uint64, bool)    { return c.tick, c.updated }
func (c *contactBase) Jacobian() *mat.Dense    { return c.jac }
func (c *contactBase) JDotQdot() *mat.VecDense { return c.jdqd }

// footRows copies the linear Jacobian terms of a foot into rows starting at
// row.
func footRows(dyn robot.Dynamics, foot robot.LinkID, jac *mat.Dense, jdqd *mat.VecDense, row int) {
	fj := dyn.LinearJacobian(foot)
	fd := dyn.LinearJacobianDotQdot(foot)
	for i := 0; i < 3; i++ {
		for j := 0; j < robot.NumQdot; j++ {
			jac.Set(row+i, j, fj.At(i, j))
		}
	}
	jdqd.SetVec(row, fd.X)
	jdqd.SetVec(row+1, fd.Y)
	jdqd.SetVec(row+2, fd.Z)
}

// SingleContact is a point contact at one foot.
type SingleContact struct {
	contactBase
	dyn  robot.Dynamics
	sp   *state.Shared
	foot robot.LinkID
}

// NewSingleContact returns a point contact at foot. The link is checked
// here, not per tick.
func NewSingleContact(dyn robot.Dynamics, sp *state.Shared, foot robot.LinkID) (*SingleContact, error) {
	if err := robot.CheckFoot(foot); err != nil {
		return nil, err
	}
	return &SingleContact{
		contactBase: contactBase{
			dim:  3,
			jac:  mat.NewDense(3, robot.NumQdot, nil),
			jdqd: mat.NewVecDense(3, nil),
		},
		dyn:  dyn,
		sp:   sp,
		foot: foot,
	}, nil
}

// Foot returns the contact foot.
func (c *SingleContact) Foot() robot.LinkID { return c.foot }

// NormalRows returns the vertical row.
func (c *SingleContact) NormalRows() []int { return []int{2} }

// UpdateContactSpec recomputes the constraint from the current kinematics.
func (c *SingleContact) UpdateContactSpec() error {
	footRows(c.dyn, c.foot, c.jac, c.jdqd, 0)
	c.tick, c.updated = c.sp.Tick, true
	return nil
}

// DoubleContact is a point contact at each foot. Rows 0-2 belong to the left
// foot and rows 3-5 to the right foot.
type DoubleContact struct {
	contactBase
	dyn robot.Dynamics
	sp  *state.Shared
}

// NewDoubleContact returns contacts at both feet.
func NewDoubleContact(dyn robot.Dynamics, sp *state.Shared) *DoubleContact {
	return &DoubleContact{
		contactBase: contactBase{
			dim:  6,
			jac:  mat.NewDense(6, robot.NumQdot, nil),
			jdqd: mat.NewVecDense(6, nil),
		},
		dyn: dyn,
		sp:  sp,
	}
}

// NormalRows returns the vertical rows of both feet.
func (c *DoubleContact) NormalRows() []int { return []int{2, 5} }

// UpdateContactSpec recomputes the constraint from the current kinematics.
func (c *DoubleContact) UpdateContactSpec() error {
	footRows(c.dyn, robot.LeftFoot, c.jac, c.jdqd, 0)
	footRows(c.dyn, robot.RightFoot, c.jac, c.jdqd, 3)
	c.tick, c.updated = c.sp.Tick, true
	return nil
}

// FixedBodyContact pins the floating base, as when the robot hangs from a
// stand. Its reaction is the full base wrench.
type FixedBodyContact struct {
	contactBase
	sp *state.Shared
}

// NewFixedBodyContact returns a floating-base pin.
func NewFixedBodyContact(sp *state.Shared) *FixedBodyContact {
	c := &FixedBodyContact{
		contactBase: contactBase{
			dim:  robot.NumVirtual,
			jac:  mat.NewDense(robot.NumVirtual, robot.NumQdot, nil),
			jdqd: mat.NewVecDense(robot.NumVirtual, nil),
		},
		sp: sp,
	}
	for i := 0; i < robot.NumVirtual; i++ {
		c.jac.Set(i, i, 1)
	}
	return c
}

// NormalRows returns the vertical force row.
func (c *FixedBodyContact) NormalRows() []int { return []int{2} }

// UpdateContactSpec stamps the constraint for this tick. The Jacobian is
// constant.
func (c *FixedBodyContact) UpdateContactSpec() error {
	c.tick, c.updated = c.sp.Tick, true
	return nil
}
