// Package state holds the per-tick data exchanged between the estimator, the
// phase controllers and the caller.
package state

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/robot"
)

// SensorData is one tick of sensor input. It is owned by the caller.
type SensorData struct {
	JointPos  [robot.NumActJoint]float64
	MotorVel  [robot.NumActJoint]float64
	ImuAcc    r3.Vector
	ImuInc    r3.Vector // gravity direction from the inclinometer
	ImuAngVel r3.Vector // body frame, rad/s
	LeftFoot  bool      // contact switch
	RightFoot bool
	Torque    [robot.NumActJoint]float64
	Temp      [robot.NumActJoint]float64
	MotorCurr [robot.NumActJoint]float64

	// BodyOrientation is an absolute orientation reference. It is only read
	// during estimator initialization; a zero quaternion means identity.
	BodyOrientation quat.Number
}

// Command is one tick of actuator output.
type Command struct {
	Torque [robot.NumActJoint]float64
	Pos    [robot.NumActJoint]float64
	Vel    [robot.NumActJoint]float64
}

// Hold sets cmd to zero torque at the measured joint positions.
func (c *Command) Hold(data *SensorData) {
	for i := 0; i < robot.NumActJoint; i++ {
		c.Torque[i] = 0
		c.Pos[i] = data.JointPos[i]
		c.Vel[i] = 0
	}
}

// Shared is the state snapshot shared by every component of the core. It
// replaces a process-wide singleton: it is created once and handed to each
// component by reference.
//
// Each field group has a single writer. The estimator writes the sensed
// group once per tick before any controller runs. The active controller
// records solver results and the filtered CoM state through RecordSolve and
// RecordCoMEstimate. The gait program moves StanceFoot, GlobalPosLocal and
// NumStep only at phase transitions.
type Shared struct {
	// Sensed group.
	Q            []float64
	Qdot         []float64
	BodyOri      quat.Number
	BodyAngVel   r3.Vector
	CoMPos       r3.Vector
	CoMVel       r3.Vector
	LeftContact  bool
	RightContact bool
	ImuAcc       r3.Vector
	ImuInc       r3.Vector
	ImuAngVel    r3.Vector
	Tick         uint64
	Time         float64

	// Fixed at construction.
	Period       float64
	RotorInertia [robot.NumActJoint]float64

	// Gait bookkeeping.
	StanceFoot     robot.LinkID
	GlobalPosLocal r3.Vector
	DesLocation    r3.Vector
	NumStep        int

	// Control results.
	EstimatedCoM   [4]float64
	QddotCmd       []float64
	ReactionForces [6]float64
}

// NewShared returns a state with the body at the origin and identity
// orientation.
func NewShared(period float64) *Shared {
	s := &Shared{
		Q:          make([]float64, robot.NumQ),
		Qdot:       make([]float64, robot.NumQdot),
		QddotCmd:   make([]float64, robot.NumQdot),
		BodyOri:    quat.Number{Real: 1},
		Period:     period,
		StanceFoot: robot.LeftFoot,
	}
	s.Q[robot.QuatW] = 1
	return s
}

// JointPos returns a copy of the actuated joint positions.
func (s *Shared) JointPos() [robot.NumActJoint]float64 {
	var out [robot.NumActJoint]float64
	copy(out[:], s.Q[robot.NumVirtual:robot.NumQdot])
	return out
}

// FootContact returns the latched contact flag of the foot.
func (s *Shared) FootContact(foot robot.LinkID) bool {
	if foot == robot.LeftFoot {
		return s.LeftContact
	}
	return s.RightContact
}

// RecordSolve stores the last optimized joint acceleration and the reaction
// force of the contact on foot. A foot of robot.Body stores nothing.
func (s *Shared) RecordSolve(qddot []float64, foot robot.LinkID, force []float64) {
	copy(s.QddotCmd, qddot)
	offset := -1
	switch foot {
	case robot.LeftFoot:
		offset = 0
	case robot.RightFoot:
		offset = 3
	}
	if offset < 0 {
		return
	}
	for i := 0; i < 3 && i < len(force); i++ {
		s.ReactionForces[offset+i] = force[i]
	}
}

// RecordCoMEstimate stores the filtered (x, y, vx, vy) CoM state.
func (s *Shared) RecordCoMEstimate(est []float64) {
	copy(s.EstimatedCoM[:], est)
}
