// Package model is a lumped-mass reference model of the biped. It implements
// robot.Dynamics and robot.InverseKinematics for the module and for tests.
//
// The trunk is a rigid body at the floating base. Each leg carries a thigh and
// a shank point mass at the segment midpoints. The abduction joint rotates the
// leg about the body x axis, the hip and knee rotate it about the y axis.
// Velocity-product terms are neglected, so Coriolis is always zero.
package model

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/robot"
)

// Gravity is the gravitational acceleration, m/s^2.
const Gravity = 9.81

var (
	// ErrUnreachable is returned when a foot target lies outside the leg's
	// workspace.
	ErrUnreachable = errors.New("foot target out of reach")
	// ErrBadState is returned for generalized coordinates of the wrong size or
	// with a degenerate orientation.
	ErrBadState = errors.New("invalid generalized state")
)

// fdStep is the step used for the Jacobian time-derivative.
const fdStep = 1e-6

// pose is one configuration of the floating base and the legs.
type pose struct {
	base   r3.Vector
	rot    quat.Number
	joints [robot.NumActJoint]float64
}

// segment is a point on a leg, given by how far along the thigh and the shank
// it sits.
type segment struct {
	mass  float64
	thigh float64
	shank float64
}

// Lumped is the lumped-mass model. It is not safe for concurrent use.
type Lumped struct {
	cfg       config.Model
	totalMass float64
	inertia   *mat.Dense
	segments  []segment

	current pose
	qdot    []float64

	footPos  [2]r3.Vector
	footVel  [2]r3.Vector
	footJac  [2]*mat.Dense
	footJdqd [2]r3.Vector
	comPos   r3.Vector
	comVel   r3.Vector
	massMat  *mat.Dense
	massInv  *mat.Dense
	gravity  *mat.VecDense
	updated  bool
}

// New returns a model for the given parameters.
func New(cfg config.Model) (*Lumped, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model parameters")
	}
	l1, l2 := cfg.ThighLength, cfg.ShankLength
	m := &Lumped{
		cfg:     cfg,
		inertia: mat.NewDense(3, 3, nil),
		segments: []segment{
			{mass: cfg.ThighMass, thigh: l1 / 2},
			{mass: cfg.ShankMass, thigh: l1, shank: l2 / 2},
		},
		qdot:    make([]float64, robot.NumQdot),
		massMat: mat.NewDense(robot.NumQdot, robot.NumQdot, nil),
		massInv: mat.NewDense(robot.NumQdot, robot.NumQdot, nil),
		gravity: mat.NewVecDense(robot.NumQdot, nil),
	}
	for i := 0; i < 3; i++ {
		m.inertia.Set(i, i, cfg.BodyInertia[i])
	}
	m.totalMass = cfg.BodyMass + 2*(cfg.ThighMass+cfg.ShankMass)
	m.current.rot = quat.Number{Real: 1}
	return m, nil
}

// TotalMass returns the mass of the whole robot.
func (m *Lumped) TotalMass() float64 {
	return m.totalMass
}

func footIndex(foot robot.LinkID) int {
	if foot == robot.LeftFoot {
		return 1
	}
	return 0
}

func (m *Lumped) hipOffset(foot robot.LinkID) r3.Vector {
	y := m.cfg.HipWidth / 2
	if foot == robot.RightFoot {
		y = -y
	}
	return r3.Vector{X: 0, Y: y, Z: -m.cfg.HipDrop}
}

// sagittal returns the leg point in the hip frame before abduction.
func sagittal(hip, knee, l1, l2 float64) r3.Vector {
	return r3.Vector{
		X: -l1*math.Sin(hip) - l2*math.Sin(hip+knee),
		Z: -l1*math.Cos(hip) - l2*math.Cos(hip+knee),
	}
}

// abduct rotates a sagittal point about the x axis.
func abduct(a float64, v r3.Vector) r3.Vector {
	s, c := math.Sincos(a)
	return r3.Vector{X: v.X, Y: -s * v.Z, Z: c * v.Z}
}

func legJoints(p *pose, foot robot.LinkID) (float64, float64, float64) {
	j := robot.LegJoint(foot) - robot.NumVirtual
	return p.joints[j], p.joints[j+1], p.joints[j+2]
}

// legPoint returns the body-frame position of a point on the leg.
func (m *Lumped) legPoint(p *pose, foot robot.LinkID, l1, l2 float64) r3.Vector {
	a, h, k := legJoints(p, foot)
	return m.hipOffset(foot).Add(abduct(a, sagittal(h, k, l1, l2)))
}

// legPartials returns the body-frame derivatives of a leg point with respect
// to the abduction, hip and knee angles.
func legPartials(p *pose, foot robot.LinkID, l1, l2 float64) [3]r3.Vector {
	a, h, k := legJoints(p, foot)
	dh := r3.Vector{
		X: -l1*math.Cos(h) - l2*math.Cos(h+k),
		Z: l1*math.Sin(h) + l2*math.Sin(h+k),
	}
	dk := r3.Vector{X: -l2 * math.Cos(h+k), Z: l2 * math.Sin(h+k)}
	s := sagittal(h, k, l1, l2)
	sa, ca := math.Sincos(a)
	return [3]r3.Vector{
		{X: 0, Y: -ca * s.Z, Z: -sa * s.Z},
		abduct(a, dh),
		abduct(a, dk),
	}
}

func rotate(q quat.Number, v r3.Vector) r3.Vector {
	out := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

func rotationMatrix(q quat.Number) *mat.Dense {
	r := mat.NewDense(3, 3, nil)
	for j, e := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		col := rotate(q, e)
		r.Set(0, j, col.X)
		r.Set(1, j, col.Y)
		r.Set(2, j, col.Z)
	}
	return r
}

// pointJacobian returns the world position and the 3 x NumQdot linear
// Jacobian of a leg point.
func (m *Lumped) pointJacobian(p *pose, foot robot.LinkID, l1, l2 float64) (r3.Vector, *mat.Dense) {
	local := m.legPoint(p, foot, l1, l2)
	r := rotate(p.rot, local)
	jac := mat.NewDense(3, robot.NumQdot, nil)
	for i := 0; i < 3; i++ {
		jac.Set(i, i, 1)
	}
	// v = w x r
	for j, e := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		col := e.Cross(r)
		jac.Set(0, 3+j, col.X)
		jac.Set(1, 3+j, col.Y)
		jac.Set(2, 3+j, col.Z)
	}
	start := robot.LegJoint(foot)
	for j, d := range legPartials(p, foot, l1, l2) {
		col := rotate(p.rot, d)
		jac.Set(0, start+j, col.X)
		jac.Set(1, start+j, col.Y)
		jac.Set(2, start+j, col.Z)
	}
	return p.base.Add(r), jac
}

func mulVec(jac *mat.Dense, qdot []float64) r3.Vector {
	var out mat.VecDense
	out.MulVec(jac, mat.NewVecDense(len(qdot), qdot))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

func toPose(q []float64) (pose, error) {
	if len(q) != robot.NumQ {
		return pose{}, errors.Wrapf(ErrBadState, "q has %d entries, want %d", len(q), robot.NumQ)
	}
	rot := quat.Number{Real: q[robot.QuatW], Imag: q[3], Jmag: q[4], Kmag: q[5]}
	n := quat.Abs(rot)
	if n < 1e-9 || math.IsNaN(n) {
		return pose{}, errors.Wrap(ErrBadState, "degenerate body quaternion")
	}
	p := pose{
		base: r3.Vector{X: q[0], Y: q[1], Z: q[2]},
		rot:  quat.Scale(1/n, rot),
	}
	copy(p.joints[:], q[robot.NumVirtual:robot.NumQdot])
	return p, nil
}

// advance moves the pose along qdot for dt seconds.
func advance(p pose, qdot []float64, dt float64) pose {
	out := p
	out.base = p.base.Add(r3.Vector{X: qdot[0], Y: qdot[1], Z: qdot[2]}.Mul(dt))
	half := quat.Number{Imag: qdot[3] * dt / 2, Jmag: qdot[4] * dt / 2, Kmag: qdot[5] * dt / 2}
	out.rot = quat.Mul(quat.Exp(half), p.rot)
	for i := range out.joints {
		out.joints[i] += qdot[robot.NumVirtual+i] * dt
	}
	return out
}

// UpdateSystem recomputes every cached quantity for the given state.
func (m *Lumped) UpdateSystem(q, qdot []float64) error {
	if len(qdot) != robot.NumQdot {
		return errors.Wrapf(ErrBadState, "qdot has %d entries, want %d", len(qdot), robot.NumQdot)
	}
	p, err := toPose(q)
	if err != nil {
		return err
	}
	m.current = p
	copy(m.qdot, qdot)

	m.massMat.Zero()
	m.gravity.Zero()
	gravityDir := mat.NewVecDense(3, []float64{0, 0, Gravity})

	// trunk
	comSum := p.base.Mul(m.cfg.BodyMass)
	comVelSum := r3.Vector{X: qdot[0], Y: qdot[1], Z: qdot[2]}.Mul(m.cfg.BodyMass)
	for i := 0; i < 3; i++ {
		m.massMat.Set(i, i, m.cfg.BodyMass)
	}
	m.gravity.SetVec(2, m.cfg.BodyMass*Gravity)
	var rotInertia mat.Dense
	rmat := rotationMatrix(p.rot)
	rotInertia.Product(rmat, m.inertia, rmat.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.massMat.Set(3+i, 3+j, m.massMat.At(3+i, 3+j)+rotInertia.At(i, j))
		}
	}

	var jtj mat.Dense
	var jtg mat.VecDense
	for _, foot := range []robot.LinkID{robot.RightFoot, robot.LeftFoot} {
		for _, seg := range m.segments {
			pos, jac := m.pointJacobian(&p, foot, seg.thigh, seg.shank)
			comSum = comSum.Add(pos.Mul(seg.mass))
			comVelSum = comVelSum.Add(mulVec(jac, qdot).Mul(seg.mass))

			jtj.Mul(jac.T(), jac)
			jtj.Scale(seg.mass, &jtj)
			m.massMat.Add(m.massMat, &jtj)

			jtg.MulVec(jac.T(), gravityDir)
			m.gravity.AddScaledVec(m.gravity, seg.mass, &jtg)
		}

		idx := footIndex(foot)
		l1, l2 := m.cfg.ThighLength, m.cfg.ShankLength
		pos, jac := m.pointJacobian(&p, foot, l1, l2)
		m.footPos[idx] = pos
		m.footJac[idx] = jac
		m.footVel[idx] = mulVec(jac, qdot)

		fwd := advance(p, qdot, fdStep)
		back := advance(p, qdot, -fdStep)
		_, jf := m.pointJacobian(&fwd, foot, l1, l2)
		_, jb := m.pointJacobian(&back, foot, l1, l2)
		m.footJdqd[idx] = mulVec(jf, qdot).Sub(mulVec(jb, qdot)).Mul(1 / (2 * fdStep))
	}
	for i := robot.NumVirtual; i < robot.NumQdot; i++ {
		m.massMat.Set(i, i, m.massMat.At(i, i)+m.cfg.Armature)
	}
	if err := m.massInv.Inverse(m.massMat); err != nil {
		return errors.Wrap(err, "mass matrix not invertible")
	}

	m.comPos = comSum.Mul(1 / m.totalMass)
	m.comVel = comVelSum.Mul(1 / m.totalMass)
	m.updated = true
	return nil
}

// Position returns the world position of the link.
func (m *Lumped) Position(link robot.LinkID) r3.Vector {
	if link.IsFoot() {
		return m.footPos[footIndex(link)]
	}
	return m.current.base
}

// LinearVelocity returns the world velocity of the link.
func (m *Lumped) LinearVelocity(link robot.LinkID) r3.Vector {
	if link.IsFoot() {
		return m.footVel[footIndex(link)]
	}
	return r3.Vector{X: m.qdot[0], Y: m.qdot[1], Z: m.qdot[2]}
}

// LinearJacobian returns a copy of the link's linear Jacobian.
func (m *Lumped) LinearJacobian(link robot.LinkID) *mat.Dense {
	if link.IsFoot() && m.updated {
		return mat.DenseCopyOf(m.footJac[footIndex(link)])
	}
	jac := mat.NewDense(3, robot.NumQdot, nil)
	if !link.IsFoot() {
		for i := 0; i < 3; i++ {
			jac.Set(i, i, 1)
		}
	}
	return jac
}

// LinearJacobianDotQdot returns the Jacobian time-derivative times qdot.
func (m *Lumped) LinearJacobianDotQdot(link robot.LinkID) r3.Vector {
	if link.IsFoot() {
		return m.footJdqd[footIndex(link)]
	}
	return r3.Vector{}
}

// CoMPosition returns the whole-body CoM in world coordinates.
func (m *Lumped) CoMPosition() r3.Vector {
	return m.comPos
}

// CoMVelocity returns the whole-body CoM velocity.
func (m *Lumped) CoMVelocity() r3.Vector {
	return m.comVel
}

// MassMatrix returns a copy of the joint-space mass matrix.
func (m *Lumped) MassMatrix() *mat.Dense {
	return mat.DenseCopyOf(m.massMat)
}

// InverseMassMatrix returns a copy of the inverse mass matrix.
func (m *Lumped) InverseMassMatrix() *mat.Dense {
	return mat.DenseCopyOf(m.massInv)
}

// Coriolis returns the velocity-product term, which this model neglects.
func (m *Lumped) Coriolis() *mat.VecDense {
	return mat.NewVecDense(robot.NumQdot, nil)
}

// Gravity returns the generalized gravity force.
func (m *Lumped) Gravity() *mat.VecDense {
	return mat.VecDenseCopyOf(m.gravity)
}
