package model

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/clintpurser/biped/robot"
)

// guessBase returns the base position carried by a generalized position
// guess. A nil guess puts the base at the origin.
func guessBase(guess []float64) (r3.Vector, error) {
	switch len(guess) {
	case 0:
		return r3.Vector{}, nil
	case robot.NumQ:
		return r3.Vector{X: guess[0], Y: guess[1], Z: guess[2]}, nil
	default:
		return r3.Vector{}, errors.Wrapf(ErrBadState, "guess has %d entries, want %d", len(guess), robot.NumQ)
	}
}

// legIK solves the leg angles placing the foot at local, a point in the body
// frame relative to the hip. The knee always bends forward.
func (m *Lumped) legIK(local r3.Vector) ([3]float64, error) {
	l1, l2 := m.cfg.ThighLength, m.cfg.ShankLength
	r := math.Hypot(local.Y, local.Z)
	abduction := math.Atan2(local.Y, -local.Z)
	pz := -r

	d2 := local.X*local.X + pz*pz
	cosKnee := (d2 - l1*l1 - l2*l2) / (2 * l1 * l2)
	if cosKnee > 1+1e-12 || cosKnee < -1-1e-12 {
		return [3]float64{}, errors.Wrapf(ErrUnreachable, "distance %.3f", math.Sqrt(d2))
	}
	cosKnee = math.Max(-1, math.Min(1, cosKnee))
	knee := math.Acos(cosKnee)
	hip := math.Atan2(-local.X, -pz) - math.Atan2(l2*math.Sin(knee), l1+l2*math.Cos(knee))
	return [3]float64{abduction, hip, knee}, nil
}

// LegConfigAtVerticalPosture returns the abduction, hip and knee angles that
// put the foot at footPos with the body upright at the guessed base position.
func (m *Lumped) LegConfigAtVerticalPosture(foot robot.LinkID, footPos r3.Vector, guess []float64) ([3]float64, error) {
	if err := robot.CheckFoot(foot); err != nil {
		return [3]float64{}, err
	}
	base, err := guessBase(guess)
	if err != nil {
		return [3]float64{}, err
	}
	local := footPos.Sub(base).Sub(m.hipOffset(foot))
	config, err := m.legIK(local)
	if err != nil {
		return [3]float64{}, errors.Wrapf(err, "%v", foot)
	}
	return config, nil
}

// FootPosAtVerticalPosture returns the world foot position for the leg angles
// with the body upright at the guessed base position.
func (m *Lumped) FootPosAtVerticalPosture(foot robot.LinkID, legConfig [3]float64, guess []float64) (r3.Vector, error) {
	if err := robot.CheckFoot(foot); err != nil {
		return r3.Vector{}, err
	}
	base, err := guessBase(guess)
	if err != nil {
		return r3.Vector{}, err
	}
	var p pose
	j := robot.LegJoint(foot) - robot.NumVirtual
	copy(p.joints[j:j+3], legConfig[:])
	l1, l2 := m.cfg.ThighLength, m.cfg.ShankLength
	return base.Add(m.legPoint(&p, foot, l1, l2)), nil
}

// StancePosture returns the joint positions holding the upright body at
// bodyHeight above flat ground with the feet at the given body-relative
// horizontal locations. Only X and Y of the foot locations are used.
func (m *Lumped) StancePosture(bodyHeight float64, rightFoot, leftFoot r3.Vector) ([robot.NumActJoint]float64, error) {
	var out [robot.NumActJoint]float64
	for _, leg := range []struct {
		foot robot.LinkID
		pos  r3.Vector
	}{
		{robot.RightFoot, rightFoot},
		{robot.LeftFoot, leftFoot},
	} {
		target := r3.Vector{X: leg.pos.X, Y: leg.pos.Y, Z: -bodyHeight}
		config, err := m.legIK(target.Sub(m.hipOffset(leg.foot)))
		if err != nil {
			return out, errors.Wrapf(err, "stance posture for %v", leg.foot)
		}
		j := robot.LegJoint(leg.foot) - robot.NumVirtual
		copy(out[j:j+3], config[:])
	}
	return out, nil
}
