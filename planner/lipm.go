// Package planner holds the reduced-order footstep planner and the CoM state
// filter that feeds it.
package planner

import (
	"math"
	"math/cmplx"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"

	"github.com/clintpurser/biped/config"
)

// gravity is the gravitational acceleration used by the pendulum model.
const gravity = 9.81

// bisection iterations for the swing time correction.
const bisectIters = 40

var (
	// ErrDivergentTiming is returned when the step-to-step map of the pendulum
	// model is not contracting for the configured timing.
	ErrDivergentTiming = errors.New("divergent swing/stance timing")
	// ErrBadHeight is returned for a non-positive pendulum height.
	ErrBadHeight = errors.New("pendulum height must be positive")
)

// Param is one footstep query.
type Param struct {
	// SwingTime is the time left until the next stance switch.
	SwingTime float64
	// DesLoc is the desired walking location in global coordinates.
	DesLoc r3.Vector
	// StanceFoot is the current stance foot location in global coordinates.
	StanceFoot r3.Vector
	// PositiveSidestep is true when the swing foot steps toward +y.
	PositiveSidestep bool
}

// Plan is the planner output.
type Plan struct {
	// Target is the next foothold in global coordinates.
	Target r3.Vector
	// SwingTime is the corrected time to the stance switch.
	SwingTime float64
	// TimeCorrection is SwingTime minus the requested swing time. It is never
	// positive.
	TimeCorrection float64
	// Switching is the predicted CoM (x, y, vx, vy) at the switch.
	Switching [4]float64
}

// Reversal is a linear-inverted-pendulum planner. For each horizontal axis it
// propagates the CoM to the stance switch and places the foot so that the
// pendulum reverses toward the desired location.
type Reversal struct {
	cfg    config.Planner
	omega  float64
	logger logging.Logger

	checked  bool
	checkErr error
}

// NewReversal returns a planner for a pendulum of the given height.
func NewReversal(cfg config.Planner, height float64, logger logging.Logger) (*Reversal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid planner parameters")
	}
	if height <= 0 {
		return nil, errors.Wrapf(ErrBadHeight, "got %v", height)
	}
	return &Reversal{
		cfg:    cfg,
		omega:  math.Sqrt(gravity / height),
		logger: logger,
	}, nil
}

// Omega returns the pendulum natural frequency.
func (p *Reversal) Omega() float64 {
	return p.omega
}

// propagate returns the CoM position and velocity after t seconds over a
// pivot at pivot.
func (p *Reversal) propagate(x0, v0, pivot, t float64) (float64, float64) {
	c, s := math.Cosh(p.omega*t), math.Sinh(p.omega*t)
	x := pivot + (x0-pivot)*c + v0/p.omega*s
	v := (x0-pivot)*p.omega*s + v0*c
	return x, v
}

// foothold returns the reversal foothold for one axis.
func (p *Reversal) foothold(axis int, xs, vs, des float64) float64 {
	gain := 1 / (p.omega * math.Tanh(p.omega*p.cfg.TPrime[axis]))
	return xs + vs*gain + p.cfg.Kappa[axis]*(xs-des)
}

func (p *Reversal) xStep(com, vel r3.Vector, param Param, t float64) float64 {
	xs, vs := p.propagate(com.X, vel.X, param.StanceFoot.X, t)
	return p.foothold(0, xs, vs, param.DesLoc.X) - param.StanceFoot.X
}

// NextFootLocation plans the next foothold from the current CoM state. The
// lateral step always lands on the swing side, between the nominal stance
// width and the maximum width. When the forward step exceeds its limit the
// swing is shortened.
func (p *Reversal) NextFootLocation(com, vel r3.Vector, param Param) (Plan, error) {
	if param.SwingTime <= 0 {
		return Plan{}, errors.Errorf("swing time must be positive, got %v", param.SwingTime)
	}
	t := param.SwingTime
	limit := p.cfg.XStepLengthLimit
	if math.Abs(p.xStep(com, vel, param, t)) > limit {
		lo := math.Min(p.cfg.MinSwingRemaining, t)
		hi := t
		if math.Abs(p.xStep(com, vel, param, lo)) > limit {
			t = lo
		} else {
			for i := 0; i < bisectIters; i++ {
				m := (lo + hi) / 2
				if math.Abs(p.xStep(com, vel, param, m)) > limit {
					hi = m
				} else {
					lo = m
				}
			}
			t = lo
		}
	}

	xs, vxs := p.propagate(com.X, vel.X, param.StanceFoot.X, t)
	ys, vys := p.propagate(com.Y, vel.Y, param.StanceFoot.Y, t)

	stepX := p.foothold(0, xs, vxs, param.DesLoc.X) - param.StanceFoot.X
	stepX = math.Max(-limit, math.Min(limit, stepX))

	stepY := p.foothold(1, ys, vys, param.DesLoc.Y) - param.StanceFoot.Y
	if param.PositiveSidestep {
		stepY = math.Max(p.cfg.YStepLengthMin, math.Min(p.cfg.YStepLengthMax, stepY))
	} else {
		stepY = math.Max(-p.cfg.YStepLengthMax, math.Min(-p.cfg.YStepLengthMin, stepY))
	}

	plan := Plan{
		Target: r3.Vector{
			X: param.StanceFoot.X + stepX,
			Y: param.StanceFoot.Y + stepY,
			Z: param.StanceFoot.Z,
		},
		SwingTime:      t,
		TimeCorrection: t - param.SwingTime,
		Switching:      [4]float64{xs, ys, vxs, vys},
	}
	p.logger.Debugf("footstep plan: target %v swing %.3f correction %.3f", plan.Target, t, plan.TimeCorrection)
	return plan, nil
}

// stepMap returns the linear map from (CoM, stance foot, CoM velocity) at one
// stance switch to the same quantities at the next, with the desired
// location at the origin.
func (p *Reversal) stepMap(axis int, period float64) *mat.Dense {
	w := p.omega
	c, s := math.Cosh(w*period), math.Sinh(w*period)
	gain := 1 / (w * math.Tanh(w*p.cfg.TPrime[axis]))
	kappa := p.cfg.Kappa[axis]

	xs := []float64{c, 1 - c, s / w}
	vs := []float64{w * s, -w * s, c}
	foot := make([]float64, 3)
	for j := range foot {
		foot[j] = (1+kappa)*xs[j] + gain*vs[j]
	}
	data := make([]float64, 0, 9)
	data = append(data, xs...)
	data = append(data, foot...)
	data = append(data, vs...)
	return mat.NewDense(3, 3, data)
}

// SpectralRadius returns the largest eigenvalue magnitude of the step map of
// one axis for the given step period.
func (p *Reversal) SpectralRadius(axis int, period float64) (float64, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(p.stepMap(axis, period), mat.EigenNone); !ok {
		return 0, errors.New("eigen decomposition of the step map failed")
	}
	var rho float64
	for _, v := range eig.Values(nil) {
		rho = math.Max(rho, cmplx.Abs(v))
	}
	return rho, nil
}

// CheckEigenValues verifies, once per planner, that the step-to-step map is
// contracting for a step period of the given length. Later calls return the
// first result.
func (p *Reversal) CheckEigenValues(period float64) error {
	if p.checked {
		return p.checkErr
	}
	p.checked = true
	p.checkErr = p.checkEigenValues(period)
	return p.checkErr
}

func (p *Reversal) checkEigenValues(period float64) error {
	if period <= 0 {
		return errors.Wrapf(ErrDivergentTiming, "step period %v", period)
	}
	for axis := 0; axis < 2; axis++ {
		rho, err := p.SpectralRadius(axis, period)
		if err != nil {
			return err
		}
		p.logger.Infof("footstep planner axis %d: spectral radius %.4f for step period %.3f", axis, rho, period)
		if rho >= 1 || math.IsNaN(rho) {
			return errors.Wrapf(ErrDivergentTiming, "axis %d spectral radius %.4f for step period %.3f", axis, rho, period)
		}
	}
	return nil
}
