package estimator

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/model"
	"github.com/clintpurser/biped/robot"
	"github.com/clintpurser/biped/state"
)

func roll(q quat.Number) float64 {
	return 2 * math.Atan2(q.Imag, q.Real)
}

func TestNewOrientationRejectsUnknown(t *testing.T) {
	_, err := NewOrientation("kalman", 0.001)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOrientation(config.BasicAccumulation, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBasicAccumulationIntegratesGyro(t *testing.T) {
	o, err := NewOrientation(config.BasicAccumulation, 0.001)
	test.That(t, err, test.ShouldBeNil)
	o.Initialize(quat.Number{Real: 1}, r3.Vector{}, r3.Vector{})
	for i := 0; i < 1000; i++ {
		o.SetSensorData(r3.Vector{}, r3.Vector{}, r3.Vector{Z: 0.5})
	}
	ori, angVel := o.Estimate()
	test.That(t, ori.Real, test.ShouldAlmostEqual, math.Cos(0.25), 1e-9)
	test.That(t, ori.Kmag, test.ShouldAlmostEqual, math.Sin(0.25), 1e-9)
	test.That(t, angVel.Z, test.ShouldAlmostEqual, 0.5, 1e-12)
}

func TestObserversLevelATiltedStart(t *testing.T) {
	tilted := quat.Number{Real: math.Cos(0.1), Imag: math.Sin(0.1)}
	for _, tc := range []struct {
		strategy config.EstimatorStrategy
		steps    int
	}{
		{config.AccObserver, 10000},
		{config.NoBias, 5000},
		{config.NoAccState, 5000},
	} {
		t.Run(string(tc.strategy), func(t *testing.T) {
			o, err := NewOrientation(tc.strategy, 0.001)
			test.That(t, err, test.ShouldBeNil)
			o.Initialize(tilted, r3.Vector{}, r3.Vector{})
			test.That(t, roll(tilted), test.ShouldAlmostEqual, 0.2, 1e-12)
			for i := 0; i < tc.steps; i++ {
				o.SetSensorData(r3.Vector{Z: 9.81}, r3.Vector{Z: -1}, r3.Vector{})
			}
			ori, _ := o.Estimate()
			test.That(t, math.Abs(roll(ori)), test.ShouldBeLessThan, 0.01)
		})
	}
}

func TestObserverEstimatesGyroBias(t *testing.T) {
	run := func(strategy config.EstimatorStrategy) (float64, r3.Vector) {
		o, err := NewOrientation(strategy, 0.001)
		test.That(t, err, test.ShouldBeNil)
		o.Initialize(quat.Number{Real: 1}, r3.Vector{}, r3.Vector{})
		for i := 0; i < 20000; i++ {
			o.SetSensorData(r3.Vector{Z: 9.81}, r3.Vector{}, r3.Vector{X: 0.01})
		}
		ori, _ := o.Estimate()
		return roll(ori), o.(*observer).Bias()
	}
	r, bias := run(config.AccObserver)
	test.That(t, math.Abs(r), test.ShouldBeLessThan, 1e-3)
	// the integral term cancels the gyro offset
	test.That(t, bias.X, test.ShouldAlmostEqual, -0.01, 1e-3)
	test.That(t, bias.Y, test.ShouldAlmostEqual, 0, 1e-9)

	// proportional correction alone leaves a steady error of bias/kp
	r, bias = run(config.NoBias)
	test.That(t, r, test.ShouldAlmostEqual, 0.01/observerKp, 1e-4)
	test.That(t, bias, test.ShouldResemble, r3.Vector{})
}

func TestObserverIgnoresFreeFall(t *testing.T) {
	o, err := NewOrientation(config.AccObserver, 0.001)
	test.That(t, err, test.ShouldBeNil)
	tilted := quat.Number{Real: math.Cos(0.1), Imag: math.Sin(0.1)}
	o.Initialize(tilted, r3.Vector{}, r3.Vector{})
	for i := 0; i < 100; i++ {
		o.SetSensorData(r3.Vector{Z: 0.5}, r3.Vector{}, r3.Vector{})
	}
	ori, _ := o.Estimate()
	test.That(t, roll(ori), test.ShouldAlmostEqual, 0.2, 1e-9)
}

type fixture struct {
	sp   *state.Shared
	m    *model.Lumped
	est  *Estimator
	data *state.SensorData
}

func newFixture(t *testing.T, strategy config.EstimatorStrategy) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Interface.Estimator = strategy
	m, err := model.New(cfg.Model)
	test.That(t, err, test.ShouldBeNil)
	sp := state.NewShared(cfg.Interface.ServoPeriod)
	est, err := New(cfg.Interface, sp, m, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	jpos, err := m.StancePosture(0.7, r3.Vector{Y: -0.1}, r3.Vector{Y: 0.1})
	test.That(t, err, test.ShouldBeNil)
	data := &state.SensorData{
		JointPos:  jpos,
		ImuAcc:    r3.Vector{Z: 9.81},
		ImuInc:    r3.Vector{Z: -1},
		LeftFoot:  true,
		RightFoot: true,
	}
	return &fixture{sp: sp, m: m, est: est, data: data}
}

func TestInitializationAnchorsStanceFoot(t *testing.T) {
	f := newFixture(t, config.BasicAccumulation)
	f.sp.StanceFoot = robot.LeftFoot
	test.That(t, f.est.Initialization(3, f.data), test.ShouldBeNil)

	foot := f.m.Position(robot.LeftFoot)
	test.That(t, foot.Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, f.sp.Q[2], test.ShouldAlmostEqual, 0.7, 1e-9)
	test.That(t, f.sp.Q[robot.QuatW], test.ShouldEqual, 1.0)
	test.That(t, f.sp.CoMPos.Z, test.ShouldBeGreaterThan, 0.5)
	test.That(t, f.sp.LeftContact, test.ShouldBeTrue)
	test.That(t, f.sp.Tick, test.ShouldEqual, uint64(3))
	test.That(t, f.sp.Time, test.ShouldAlmostEqual, 0.003, 1e-15)

	// the absolute reference sets the orientation
	f.data.BodyOrientation = quat.Number{Real: 2}
	test.That(t, f.est.Initialization(4, f.data), test.ShouldBeNil)
	test.That(t, f.sp.BodyOri.Real, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestUpdateReanchorsEveryTick(t *testing.T) {
	f := newFixture(t, config.AccObserver)
	test.That(t, f.est.Initialization(0, f.data), test.ShouldBeNil)

	f.sp.StanceFoot = robot.RightFoot
	test.That(t, f.est.Update(1, f.data), test.ShouldBeNil)
	test.That(t, f.m.Position(robot.RightFoot).Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, f.m.Position(robot.LeftFoot).Y, test.ShouldAlmostEqual, 0.2, 1e-9)

	f.data.RightFoot = false
	test.That(t, f.est.Update(2, f.data), test.ShouldBeNil)
	test.That(t, f.sp.RightContact, test.ShouldBeFalse)
}

func TestCoMVelocityStaysBounded(t *testing.T) {
	cfg := config.Default()
	for _, strategy := range []config.EstimatorStrategy{
		config.BasicAccumulation, config.AccObserver, config.NoBias, config.NoAccState,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(t, strategy)
			for i := range f.data.MotorVel {
				// beyond the limit on purpose; the estimator clamps it
				f.data.MotorVel[i] = 3 * cfg.Interface.MaxJointVel * math.Pow(-1, float64(i))
			}
			f.data.ImuAngVel = r3.Vector{X: 0.3, Y: -0.2, Z: 0.1}

			test.That(t, f.est.Initialization(0, f.data), test.ShouldBeNil)
			test.That(t, f.est.Update(1, f.data), test.ShouldBeNil)

			m := cfg.Model
			reach := m.ThighLength + m.ShankLength + m.HipWidth + m.HipDrop
			bound := 2 * reach * (robot.NumActJoint*cfg.Interface.MaxJointVel + f.data.ImuAngVel.Norm())
			v := f.sp.CoMVel
			for _, c := range []float64{v.X, v.Y, v.Z} {
				test.That(t, math.IsNaN(c) || math.IsInf(c, 0), test.ShouldBeFalse)
			}
			test.That(t, v.Norm(), test.ShouldBeLessThan, bound)
			for i := 0; i < robot.NumActJoint; i++ {
				test.That(t, math.Abs(f.sp.Qdot[robot.NumVirtual+i]), test.ShouldBeLessThanOrEqualTo, cfg.Interface.MaxJointVel)
			}
		})
	}
}

func TestRejectsNonFiniteSamples(t *testing.T) {
	f := newFixture(t, config.BasicAccumulation)
	f.data.JointPos[2] = math.NaN()
	err := f.est.Initialization(0, f.data)
	test.That(t, errors.Is(err, ErrBadSensorData), test.ShouldBeTrue)

	f.data.JointPos[2] = 1
	f.data.ImuAcc = r3.Vector{X: math.Inf(1)}
	err = f.est.Update(1, f.data)
	test.That(t, errors.Is(err, ErrBadSensorData), test.ShouldBeTrue)
}
