// Package wbc holds the task and contact descriptors and the whole-body
// torque solver.
package wbc

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
)

// ErrTaskDimension is returned when a task update or gain vector does not
// match the task dimension.
var ErrTaskDimension = errors.New("task dimension mismatch")

// Task is a desired motion in some task space. Update must be called every
// tick before the task is handed to the solver.
type Task interface {
	Dim() int
	// Tick is the control tick of the last update. ok is false until the
	// first update.
	Tick() (tick uint64, ok bool)
	// Jacobian maps generalized velocity to task velocity.
	Jacobian() *mat.Dense
	JDotQdot() *mat.VecDense
	// Command is the task acceleration to track: the desired acceleration plus
	// PD feedback on the position and velocity errors.
	Command() *mat.VecDense
}

type taskBase struct {
	dim     int
	kp      []float64
	kd      []float64
	jac     *mat.Dense
	jdqd    *mat.VecDense
	cmd     *mat.VecDense
	tick    uint64
	updated bool
}

func newTaskBase(dim int) taskBase {
	return taskBase{
		dim:  dim,
		kp:   make([]float64, dim),
		kd:   make([]float64, dim),
		jac:  mat.NewDense(dim, robot.NumQdot, nil),
		jdqd: mat.NewVecDense(dim, nil),
		cmd:  mat.NewVecDense(dim, nil),
	}
}

func (t *taskBase) Dim() int                { return t.dim }
func (t *taskBase) Tick() (uint64, bool)    { return t.tick, t.updated }
func (t *taskBase) Jacobian() *mat.Dense    { return t.jac }
func (t *taskBase) JDotQdot() *mat.VecDense { return t.jdqd }
func (t *taskBase) Command() *mat.VecDense  { return t.cmd }

// SetGains sets the per-row proportional and derivative gains.
func (t *taskBase) SetGains(kp, kd []float64) error {
	if len(kp) != t.dim || len(kd) != t.dim {
		return errors.Wrapf(ErrTaskDimension, "gains for %d rows, got %d and %d", t.dim, len(kp), len(kd))
	}
	copy(t.kp, kp)
	copy(t.kd, kd)
	return nil
}

// Gains returns copies of the current gains.
func (t *taskBase) Gains() ([]float64, []float64) {
	return append([]float64(nil), t.kp...), append([]float64(nil), t.kd...)
}

func (t *taskBase) checkDesired(pos, vel, acc []float64) error {
	if len(pos) != t.dim || len(vel) != t.dim || len(acc) != t.dim {
		return errors.Wrapf(ErrTaskDimension, "desired state for %d rows", t.dim)
	}
	return nil
}

// command fills cmd = acc + kp*posErr + kd*velErr.
func (t *taskBase) command(acc, posErr, velErr []float64) {
	for i := 0; i < t.dim; i++ {
		t.cmd.SetVec(i, acc[i]+t.kp[i]*posErr[i]+t.kd[i]*velErr[i])
	}
}

// JointPosTask tracks the actuated joint positions.
type JointPosTask struct {
	taskBase
	sp     *state.Shared
	posErr []float64
	velErr []float64
}

// NewJointPosTask returns a task over all actuated joints.
func NewJointPosTask(sp *state.Shared) *JointPosTask {
	t := &JointPosTask{
		taskBase: newTaskBase(robot.NumActJoint),
		sp:       sp,
		posErr:   make([]float64, robot.NumActJoint),
		velErr:   make([]float64, robot.NumActJoint),
	}
	for i := 0; i < robot.NumActJoint; i++ {
		t.jac.Set(i, robot.NumVirtual+i, 1)
	}
	return t
}

// UpdateTask sets the desired joint positions, velocities and accelerations
// for this tick.
func (t *JointPosTask) UpdateTask(pos, vel, acc []float64) error {
	if err := t.checkDesired(pos, vel, acc); err != nil {
		return err
	}
	for i := 0; i < t.dim; i++ {
		t.posErr[i] = pos[i] - t.sp.Q[robot.NumVirtual+i]
		t.velErr[i] = vel[i] - t.sp.Qdot[robot.NumVirtual+i]
	}
	t.command(acc, t.posErr, t.velErr)
	t.tick, t.updated = t.sp.Tick, true
	return nil
}

// BodyTaskDim is the dimension of BodyTask: height then orientation.
const BodyTaskDim = 4

// BodyTask tracks the body height and orientation. The desired position is
// (height, rotation vector) and the desired velocity is (vertical speed,
// angular velocity), all in world coordinates.
type BodyTask struct {
	taskBase
	sp     *state.Shared
	posErr []float64
	velErr []float64
}

// NewBodyTask returns a body height and orientation task.
func NewBodyTask(sp *state.Shared) *BodyTask {
	t := &BodyTask{
		taskBase: newTaskBase(BodyTaskDim),
		sp:       sp,
		posErr:   make([]float64, BodyTaskDim),
		velErr:   make([]float64, BodyTaskDim),
	}
	t.jac.Set(0, 2, 1)
	for i := 0; i < 3; i++ {
		t.jac.Set(1+i, 3+i, 1)
	}
	return t
}

// OrientationError returns the world-frame rotation vector taking cur to des.
func OrientationError(des, cur quat.Number) r3.Vector {
	diff := quat.Mul(des, quat.Conj(cur))
	if diff.Real < 0 {
		diff = quat.Scale(-1, diff)
	}
	l := quat.Log(diff)
	return r3.Vector{X: 2 * l.Imag, Y: 2 * l.Jmag, Z: 2 * l.Kmag}
}

// RotationVectorToQuat returns the unit quaternion of a rotation vector.
func RotationVectorToQuat(v r3.Vector) quat.Number {
	return quat.Exp(quat.Number{Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
}

// UpdateTask sets the desired body height and orientation for this tick.
func (t *BodyTask) UpdateTask(pos, vel, acc []float64) error {
	if err := t.checkDesired(pos, vel, acc); err != nil {
		return err
	}
	t.posErr[0] = pos[0] - t.sp.Q[2]
	t.velErr[0] = vel[0] - t.sp.Qdot[2]

	des := RotationVectorToQuat(r3.Vector{X: pos[1], Y: pos[2], Z: pos[3]})
	oriErr := OrientationError(des, t.sp.BodyOri)
	t.posErr[1], t.posErr[2], t.posErr[3] = oriErr.X, oriErr.Y, oriErr.Z
	for i := 0; i < 3; i++ {
		t.velErr[1+i] = vel[1+i] - t.sp.Qdot[3+i]
	}
	t.command(acc, t.posErr, t.velErr)
	t.tick, t.updated = t.sp.Tick, true
	return nil
}
