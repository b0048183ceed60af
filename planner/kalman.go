package planner

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/clintpurser/biped/config"
)

// CoMFilter is a constant-velocity Kalman filter over the horizontal CoM
// state (x, y, vx, vy), measured directly every tick.
type CoMFilter struct {
	transition *mat.Dense
	process    *mat.Dense
	measure    *mat.Dense

	state *mat.VecDense
	cov   *mat.Dense
}

// NewCoMFilter returns a filter stepping dt seconds per update.
func NewCoMFilter(cfg config.CoMFilter, dt float64) (*CoMFilter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid CoM filter parameters")
	}
	if dt <= 0 {
		return nil, errors.Errorf("filter step must be positive, got %v", dt)
	}
	f := &CoMFilter{
		transition: mat.NewDense(4, 4, []float64{
			1, 0, dt, 0,
			0, 1, 0, dt,
			0, 0, 1, 0,
			0, 0, 0, 1,
		}),
		process: diag(cfg.ProcessNoisePos, cfg.ProcessNoisePos, cfg.ProcessNoiseVel, cfg.ProcessNoiseVel),
		measure: diag(cfg.MeasureNoisePos, cfg.MeasureNoisePos, cfg.MeasureNoiseVel, cfg.MeasureNoiseVel),
		state:   mat.NewVecDense(4, nil),
	}
	f.cov = mat.DenseCopyOf(f.measure)
	return f, nil
}

func diag(v ...float64) *mat.Dense {
	d := mat.NewDense(len(v), len(v), nil)
	for i, x := range v {
		d.Set(i, i, x)
	}
	return d
}

// Reset restarts the filter at the given state with measurement-level
// uncertainty.
func (f *CoMFilter) Reset(state [4]float64) {
	f.state.SetVec(0, state[0])
	f.state.SetVec(1, state[1])
	f.state.SetVec(2, state[2])
	f.state.SetVec(3, state[3])
	f.cov.Copy(f.measure)
}

// Update runs one predict and correct cycle with a direct measurement of the
// full state.
func (f *CoMFilter) Update(meas [4]float64) error {
	// predict
	var pred mat.VecDense
	pred.MulVec(f.transition, f.state)
	var cov mat.Dense
	cov.Product(f.transition, f.cov, f.transition.T())
	cov.Add(&cov, f.process)

	// correct, with H = I
	var s mat.Dense
	s.Add(&cov, f.measure)
	var gain mat.Dense
	if err := gain.Solve(&s, &cov); err != nil {
		return errors.Wrap(err, "CoM filter innovation is singular")
	}
	// cov and s are symmetric, so solving S K^T = P gives K^T.
	var k mat.Dense
	k.CloneFrom(gain.T())

	innov := mat.NewVecDense(4, meas[:])
	innov.SubVec(innov, &pred)
	var corr mat.VecDense
	corr.MulVec(&k, innov)
	f.state.AddVec(&pred, &corr)

	var kp mat.Dense
	kp.Mul(&k, &cov)
	f.cov.Sub(&cov, &kp)
	return nil
}

// State returns the filtered (x, y, vx, vy).
func (f *CoMFilter) State() [4]float64 {
	return [4]float64{f.state.AtVec(0), f.state.AtVec(1), f.state.AtVec(2), f.state.AtVec(3)}
}
