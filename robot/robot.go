// Package robot defines the joint and link layout of the biped and the
// kinematics/dynamics collaborators the control core consumes.
package robot

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Generalized coordinate layout.
const (
	// NumVirtual is the number of unactuated floating-base coordinates.
	NumVirtual = 6
	// NumActJoint is the number of actuated joints.
	NumActJoint = 6
	// NumQdot is the size of the generalized velocity vector.
	NumQdot = NumVirtual + NumActJoint
	// NumQ is the size of the generalized position vector. The extra entry
	// holds the scalar part of the body quaternion at index NumQdot.
	NumQ = NumQdot + 1
	// QuatW is the index of the quaternion scalar part in Q.
	QuatW = NumQdot
)

// Joint indices into Q and Qdot.
const (
	RightAbduction = NumVirtual + iota
	RightHip
	RightKnee
	LeftAbduction
	LeftHip
	LeftKnee
)

// LinkID names a point of the robot the kinematics collaborator can evaluate.
type LinkID int

// Links.
const (
	Body LinkID = iota
	RightFoot
	LeftFoot
	numLinks
)

// ErrInvalidLink is returned when a link identifier is outside the model.
var ErrInvalidLink = errors.New("invalid link id")

// Valid reports whether the link exists.
func (l LinkID) Valid() bool {
	return l >= Body && l < numLinks
}

// IsFoot reports whether the link is one of the feet.
func (l LinkID) IsFoot() bool {
	return l == RightFoot || l == LeftFoot
}

func (l LinkID) String() string {
	switch l {
	case Body:
		return "body"
	case RightFoot:
		return "right_foot"
	case LeftFoot:
		return "left_foot"
	default:
		return fmt.Sprintf("link(%d)", int(l))
	}
}

// CheckFoot returns an error unless the link is a foot.
func CheckFoot(l LinkID) error {
	if !l.IsFoot() {
		return errors.Wrapf(ErrInvalidLink, "%v is not a foot", l)
	}
	return nil
}

// Other returns the opposite foot.
func (l LinkID) Other() LinkID {
	if l == LeftFoot {
		return RightFoot
	}
	return LeftFoot
}

// LegJoint returns the index in Q of the first (abduction) joint of the leg
// ending at foot.
func LegJoint(foot LinkID) int {
	if foot == LeftFoot {
		return LeftAbduction
	}
	return RightAbduction
}

// Dynamics is the rigid-body kinematics and dynamics collaborator. UpdateSystem
// must be called before any query; queries reflect the last update.
type Dynamics interface {
	UpdateSystem(q, qdot []float64) error

	Position(link LinkID) r3.Vector
	LinearVelocity(link LinkID) r3.Vector
	// LinearJacobian returns the 3 x NumQdot linear Jacobian of the link.
	LinearJacobian(link LinkID) *mat.Dense
	LinearJacobianDotQdot(link LinkID) r3.Vector

	CoMPosition() r3.Vector
	CoMVelocity() r3.Vector

	MassMatrix() *mat.Dense
	InverseMassMatrix() *mat.Dense
	Coriolis() *mat.VecDense
	Gravity() *mat.VecDense
}

// InverseKinematics is the leg inverse kinematics collaborator. "Vertical
// posture" means the body at the guess position with identity orientation.
type InverseKinematics interface {
	// LegConfigAtVerticalPosture returns the three joint angles of the leg
	// ending at foot that place it at footPos.
	LegConfigAtVerticalPosture(foot LinkID, footPos r3.Vector, guess []float64) ([3]float64, error)
	// FootPosAtVerticalPosture is the forward map of LegConfigAtVerticalPosture.
	FootPosAtVerticalPosture(foot LinkID, legConfig [3]float64, guess []float64) (r3.Vector, error)
	// StancePosture returns the actuated joint positions placing the body at
	// bodyHeight above the ground with the feet at the given body-relative
	// horizontal locations.
	StancePosture(bodyHeight float64, rightFoot, leftFoot r3.Vector) ([NumActJoint]float64, error)
}
