// Package estimator fuses joint and inertial sensing into the floating-base
// state.
package estimator

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
)

// ErrBadSensorData is returned for non-finite sensor samples.
var ErrBadSensorData = errors.New("bad sensor data")

// Estimator writes the sensed group of the shared state every tick. It is the
// only writer of that group.
type Estimator struct {
	sp          *state.Shared
	dyn         robot.Dynamics
	ori         Orientation
	maxJointVel float64
	logger      logging.Logger
}

// New returns an estimator using the configured orientation strategy.
func New(cfg config.Interface, sp *state.Shared, dyn robot.Dynamics, logger logging.Logger) (*Estimator, error) {
	ori, err := NewOrientation(cfg.Estimator, sp.Period)
	if err != nil {
		return nil, err
	}
	logger.Infof("state estimator using %s orientation", cfg.Estimator)
	return &Estimator{
		sp:          sp,
		dyn:         dyn,
		ori:         ori,
		maxJointVel: cfg.MaxJointVel,
		logger:      logger,
	}, nil
}

func checkSensorData(data *state.SensorData) error {
	for i := 0; i < robot.NumActJoint; i++ {
		if !finite(data.JointPos[i]) || !finite(data.MotorVel[i]) {
			return errors.Wrapf(ErrBadSensorData, "joint %d", i)
		}
	}
	for name, v := range map[string]r3.Vector{"acc": data.ImuAcc, "inc": data.ImuInc, "ang_vel": data.ImuAngVel} {
		if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
			return errors.Wrapf(ErrBadSensorData, "imu %s", name)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// loadJoints resets Q and Qdot and copies the joint readings in. Joint speed
// is clamped to the configured limit.
func (e *Estimator) loadJoints(data *state.SensorData) {
	sp := e.sp
	for i := range sp.Q {
		sp.Q[i] = 0
	}
	for i := range sp.Qdot {
		sp.Qdot[i] = 0
	}
	sp.Q[robot.QuatW] = 1
	for i := 0; i < robot.NumActJoint; i++ {
		v := data.MotorVel[i]
		if math.Abs(v) > e.maxJointVel {
			e.logger.Debugf("joint %d speed %.3f clamped to %.3f", i, v, e.maxJointVel)
			v = math.Copysign(e.maxJointVel, v)
		}
		sp.Q[robot.NumVirtual+i] = data.JointPos[i]
		sp.Qdot[robot.NumVirtual+i] = v
	}
}

func (e *Estimator) setOrientation(ori quat.Number, angVel r3.Vector) {
	sp := e.sp
	sp.BodyOri = ori
	sp.BodyAngVel = angVel
	sp.Q[3], sp.Q[4], sp.Q[5] = ori.Imag, ori.Jmag, ori.Kmag
	sp.Q[robot.QuatW] = ori.Real
	sp.Qdot[3], sp.Qdot[4], sp.Qdot[5] = angVel.X, angVel.Y, angVel.Z
}

// anchor moves the floating-base origin so the stance foot sits at the
// local-frame origin with zero velocity.
func (e *Estimator) anchor() error {
	sp := e.sp
	if err := e.dyn.UpdateSystem(sp.Q, sp.Qdot); err != nil {
		return err
	}
	pos := e.dyn.Position(sp.StanceFoot)
	vel := e.dyn.LinearVelocity(sp.StanceFoot)
	sp.Q[0], sp.Q[1], sp.Q[2] = -pos.X, -pos.Y, -pos.Z
	sp.Qdot[0], sp.Qdot[1], sp.Qdot[2] = -vel.X, -vel.Y, -vel.Z
	return e.dyn.UpdateSystem(sp.Q, sp.Qdot)
}

func (e *Estimator) finish(tick uint64, data *state.SensorData) {
	sp := e.sp
	sp.CoMPos = e.dyn.CoMPosition()
	sp.CoMVel = e.dyn.CoMVelocity()
	sp.LeftContact = data.LeftFoot
	sp.RightContact = data.RightFoot
	sp.ImuAcc = data.ImuAcc
	sp.ImuInc = data.ImuInc
	sp.ImuAngVel = data.ImuAngVel
	sp.Tick = tick
	sp.Time = float64(tick) * sp.Period
}

// Initialization is the cold start: base velocity zero, orientation from the
// absolute reference in data and the stance foot at the origin.
func (e *Estimator) Initialization(tick uint64, data *state.SensorData) error {
	if err := checkSensorData(data); err != nil {
		return err
	}
	e.loadJoints(data)
	ref := normalize(data.BodyOrientation)
	e.ori.Initialize(ref, data.ImuAcc, data.ImuAngVel)
	e.setOrientation(ref, r3.Vector{})
	if err := e.anchor(); err != nil {
		return errors.Wrap(err, "estimator initialization")
	}
	e.finish(tick, data)
	return nil
}

// Update fuses one sample and re-anchors the base to the stance foot.
func (e *Estimator) Update(tick uint64, data *state.SensorData) error {
	if err := checkSensorData(data); err != nil {
		return err
	}
	e.loadJoints(data)
	e.ori.SetSensorData(data.ImuAcc, data.ImuInc, data.ImuAngVel)
	e.setOrientation(e.ori.Estimate())
	if err := e.anchor(); err != nil {
		return errors.Wrap(err, "estimator update")
	}
	e.finish(tick, data)
	return nil
}
