package estimator

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/config"
)

// Observer gains of the accelerometer correction.
const (
	observerKp = 2.0
	observerKi = 0.5

	standardGravity = 9.81
	// accelerometer samples outside this band of |g| are not trusted as a
	// gravity reference.
	minGravityRatio = 0.5
	maxGravityRatio = 1.5
)

// Orientation fuses IMU samples into a body orientation estimate.
type Orientation interface {
	// Initialize resets the estimate to ori.
	Initialize(ori quat.Number, acc, angVel r3.Vector)
	// SetSensorData ingests one sample: accelerometer, inclinometer gravity
	// direction and body-frame angular velocity.
	SetSensorData(acc, inc, angVel r3.Vector)
	// Estimate returns the body orientation and the world-frame angular
	// velocity.
	Estimate() (quat.Number, r3.Vector)
}

// NewOrientation returns the strategy selected by name.
func NewOrientation(strategy config.EstimatorStrategy, period float64) (Orientation, error) {
	if period <= 0 {
		return nil, errors.Errorf("orientation estimator period must be positive, got %v", period)
	}
	base := integrator{period: period, ori: quat.Number{Real: 1}}
	switch strategy {
	case config.BasicAccumulation:
		return &basicAccumulation{integrator: base}, nil
	case config.AccObserver:
		return &observer{integrator: base, kp: observerKp, ki: observerKi, ref: accelerometerUp}, nil
	case config.NoBias:
		return &observer{integrator: base, kp: observerKp, ref: accelerometerUp}, nil
	case config.NoAccState:
		return &observer{integrator: base, kp: observerKp, ref: inclinometerUp}, nil
	default:
		return nil, errors.Errorf("unknown orientation estimator %q", strategy)
	}
}

// integrator propagates the orientation with body-frame angular velocity.
type integrator struct {
	period float64
	ori    quat.Number
	angVel r3.Vector // body frame, corrected
}

func (g *integrator) reset(ori quat.Number, angVel r3.Vector) {
	g.ori = normalize(ori)
	g.angVel = angVel
}

func (g *integrator) step(angVel r3.Vector) {
	g.angVel = angVel
	half := angVel.Mul(g.period / 2)
	g.ori = normalize(quat.Mul(g.ori, quat.Exp(quat.Number{Imag: half.X, Jmag: half.Y, Kmag: half.Z})))
}

func (g *integrator) Estimate() (quat.Number, r3.Vector) {
	return g.ori, rotate(g.ori, g.angVel)
}

// basicAccumulation integrates the gyro alone.
type basicAccumulation struct {
	integrator
}

func (b *basicAccumulation) Initialize(ori quat.Number, _, angVel r3.Vector) {
	b.reset(ori, angVel)
}

func (b *basicAccumulation) SetSensorData(_, _, angVel r3.Vector) {
	b.step(angVel)
}

// upReference extracts the measured body-frame up direction from a sample.
// ok is false when the sample cannot serve as a reference.
type upReference func(acc, inc r3.Vector) (up r3.Vector, ok bool)

func accelerometerUp(acc, _ r3.Vector) (r3.Vector, bool) {
	n := acc.Norm()
	if n < minGravityRatio*standardGravity || n > maxGravityRatio*standardGravity {
		return r3.Vector{}, false
	}
	return acc.Mul(1 / n), true
}

func inclinometerUp(_, inc r3.Vector) (r3.Vector, bool) {
	n := inc.Norm()
	if n < 1e-9 {
		return r3.Vector{}, false
	}
	return inc.Mul(-1 / n), true
}

// observer corrects the gyro integration with the error between the measured
// and the estimated up direction. A non-zero ki also estimates the gyro bias.
type observer struct {
	integrator
	kp, ki float64
	ref    upReference
	bias   r3.Vector
}

func (o *observer) Initialize(ori quat.Number, _, angVel r3.Vector) {
	o.reset(ori, angVel)
	o.bias = r3.Vector{}
}

func (o *observer) SetSensorData(acc, inc, angVel r3.Vector) {
	corrected := angVel
	if up, ok := o.ref(acc, inc); ok {
		est := rotate(quat.Conj(o.ori), r3.Vector{Z: 1})
		e := up.Cross(est)
		if o.ki > 0 {
			o.bias = o.bias.Add(e.Mul(o.ki * o.period))
		}
		corrected = corrected.Add(e.Mul(o.kp))
	}
	o.step(corrected.Add(o.bias))
}

// Bias returns the integrated gyro correction.
func (o *observer) Bias() r3.Vector { return o.bias }

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < 1e-12 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// rotate returns q v q*.
func rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}
