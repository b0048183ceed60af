package planner

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/clintpurser/biped/config"
)

func newTestPlanner(t *testing.T) *Reversal {
	t.Helper()
	p, err := NewReversal(config.Default().Planner, 0.75, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return p
}

func TestNewReversalErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewReversal(config.Default().Planner, 0, logger)
	test.That(t, errors.Is(err, ErrBadHeight), test.ShouldBeTrue)

	cfg := config.Default().Planner
	cfg.Kappa = []float64{0.2}
	_, err = NewReversal(cfg, 0.75, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSymmetricFootstep(t *testing.T) {
	p := newTestPlanner(t)
	cfg := config.Default().Planner
	stance := r3.Vector{X: 0.3, Y: 0.05}
	com := r3.Vector{X: stance.X, Y: stance.Y, Z: 0.75}

	var offsets []float64
	for _, positive := range []bool{true, false} {
		plan, err := p.NextFootLocation(com, r3.Vector{}, Param{
			SwingTime:        0.425,
			DesLoc:           stance,
			StanceFoot:       stance,
			PositiveSidestep: positive,
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, plan.Target.X, test.ShouldAlmostEqual, stance.X, 1e-12)
		test.That(t, plan.TimeCorrection, test.ShouldEqual, 0.0)
		offsets = append(offsets, plan.Target.Y-stance.Y)
	}
	test.That(t, offsets[0], test.ShouldAlmostEqual, cfg.YStepLengthMin, 1e-12)
	test.That(t, offsets[1], test.ShouldAlmostEqual, -cfg.YStepLengthMin, 1e-12)
}

func TestPendulumConservesOrbitalEnergy(t *testing.T) {
	p := newTestPlanner(t)
	w := p.Omega()
	test.That(t, w, test.ShouldAlmostEqual, math.Sqrt(9.81/0.75), 1e-12)

	x0, v0, pivot := 0.02, 0.3, -0.01
	energy := func(x, v float64) float64 { return v*v - w*w*(x-pivot)*(x-pivot) }
	for _, dt := range []float64{0.1, 0.2, 0.425} {
		x, v := p.propagate(x0, v0, pivot, dt)
		test.That(t, energy(x, v), test.ShouldAlmostEqual, energy(x0, v0), 1e-12)
	}
}

func TestLateralStepStaysOnSwingSide(t *testing.T) {
	p := newTestPlanner(t)
	cfg := config.Default().Planner
	// CoM drifting hard toward -y would ask a left swing to cross over.
	plan, err := p.NextFootLocation(r3.Vector{Z: 0.75}, r3.Vector{Y: -1.5}, Param{
		SwingTime:        0.3,
		PositiveSidestep: true,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.Target.Y, test.ShouldAlmostEqual, cfg.YStepLengthMin, 1e-12)

	plan, err = p.NextFootLocation(r3.Vector{Z: 0.75}, r3.Vector{Y: -1.5}, Param{
		SwingTime:        0.3,
		PositiveSidestep: false,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.Target.Y, test.ShouldAlmostEqual, -cfg.YStepLengthMax, 1e-12)
}

func TestForwardStepShortensSwing(t *testing.T) {
	p := newTestPlanner(t)
	cfg := config.Default().Planner
	param := Param{SwingTime: 0.425, PositiveSidestep: true}
	plan, err := p.NextFootLocation(r3.Vector{X: 0.05, Z: 0.75}, r3.Vector{X: 0.6}, param)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.TimeCorrection, test.ShouldBeLessThan, 0)
	test.That(t, plan.SwingTime, test.ShouldBeGreaterThan, cfg.MinSwingRemaining)
	test.That(t, plan.Target.X, test.ShouldAlmostEqual, cfg.XStepLengthLimit, 1e-6)
	test.That(t, plan.SwingTime-plan.TimeCorrection, test.ShouldAlmostEqual, param.SwingTime, 1e-12)

	// too fast to fix by timing alone: shortest swing and a clamped step
	plan, err = p.NextFootLocation(r3.Vector{X: 0.05, Z: 0.75}, r3.Vector{X: 0.9}, param)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.SwingTime, test.ShouldEqual, cfg.MinSwingRemaining)
	test.That(t, math.Abs(plan.Target.X), test.ShouldBeLessThanOrEqualTo, cfg.XStepLengthLimit)

	// a gentle state needs no correction
	plan, err = p.NextFootLocation(r3.Vector{Z: 0.75}, r3.Vector{X: 0.1}, param)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.TimeCorrection, test.ShouldEqual, 0.0)
}

func TestNextFootLocationRejectsBadSwingTime(t *testing.T) {
	p := newTestPlanner(t)
	_, err := p.NextFootLocation(r3.Vector{}, r3.Vector{}, Param{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCheckEigenValues(t *testing.T) {
	p := newTestPlanner(t)
	rho, err := p.SpectralRadius(0, 0.425)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rho, test.ShouldBeLessThan, 1)
	test.That(t, p.CheckEigenValues(0.425), test.ShouldBeNil)

	// the result is latched after the first call
	test.That(t, p.CheckEigenValues(5), test.ShouldBeNil)

	q := newTestPlanner(t)
	err = q.CheckEigenValues(0.8)
	test.That(t, errors.Is(err, ErrDivergentTiming), test.ShouldBeTrue)
	test.That(t, errors.Is(q.CheckEigenValues(0.425), ErrDivergentTiming), test.ShouldBeTrue)

	r := newTestPlanner(t)
	test.That(t, errors.Is(r.CheckEigenValues(0), ErrDivergentTiming), test.ShouldBeTrue)
}

func TestCoMFilterConverges(t *testing.T) {
	f, err := NewCoMFilter(config.Default().CoMFilter, 0.001)
	test.That(t, err, test.ShouldBeNil)
	f.Reset([4]float64{0, 0, 0, 0})

	// constant velocity motion
	var truth [4]float64
	truth[2], truth[3] = 0.2, -0.1
	for i := 0; i < 2000; i++ {
		truth[0] += truth[2] * 0.001
		truth[1] += truth[3] * 0.001
		test.That(t, f.Update(truth), test.ShouldBeNil)
	}
	est := f.State()
	for i := range est {
		test.That(t, est[i], test.ShouldAlmostEqual, truth[i], 1e-3)
	}
}

func TestCoMFilterRejectsBadStep(t *testing.T) {
	_, err := NewCoMFilter(config.Default().CoMFilter, 0)
	test.That(t, err, test.ShouldNotBeNil)
}
